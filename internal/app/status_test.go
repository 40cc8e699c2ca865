package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"streamwatch/internal/task/scheduler"
	logx "streamwatch/pkg/logx"
)

type fakePinger struct {
	took time.Duration
	err  error
}

func (f fakePinger) Ping(context.Context) (time.Duration, error) { return f.took, f.err }

type fakeTimer time.Duration

func (f fakeTimer) LastRoundTrip() time.Duration { return time.Duration(f) }

func TestJobsStatusListsSchedules(t *testing.T) {
	sched := scheduler.New(scheduler.Config{}, nil, logx.Nop())
	if _, err := sched.AddSchedule(scheduleName("42"), "*/5 * * * *", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("add: %v", err)
	}
	v, err := jobsStatus(sched)(context.Background())
	if err != nil {
		t.Fatalf("jobsStatus: %v", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"name":"reconcile:42"`, `"spec":"*/5 * * * *"`, `"schedules":[`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("jobs=%s missing %s", b, want)
		}
	}
}

func TestLatencyStatus(t *testing.T) {
	now := func() time.Time { return time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC) }
	cases := []struct {
		name    string
		bot     fakePinger
		helix   fakeTimer
		want    latencyReport
		wantErr bool
	}{
		{
			name:  "both measured",
			bot:   fakePinger{took: 120 * time.Millisecond},
			helix: fakeTimer(45500 * time.Microsecond),
			want:  latencyReport{BotAPI: 120, Helix: 45.5, HelixSet: true, At: "2025-03-01T18:00:00Z"},
		},
		{
			name: "no helix request yet",
			bot:  fakePinger{took: 80 * time.Millisecond},
			want: latencyReport{BotAPI: 80, At: "2025-03-01T18:00:00Z"},
		},
		{
			name:    "bot api down",
			bot:     fakePinger{err: errors.New("connection refused")},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := latencyStatus(tc.bot, tc.helix, now)(context.Background())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", v)
				}
				return
			}
			if err != nil {
				t.Fatalf("latencyStatus: %v", err)
			}
			if got := v.(latencyReport); got != tc.want {
				t.Fatalf("report=%+v want %+v", got, tc.want)
			}
		})
	}
}
