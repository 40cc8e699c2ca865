package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamwatch/internal/task/engine"
	logx "streamwatch/pkg/logx"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(t engine.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return f.err
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func noop(context.Context) error { return nil }

func TestAddScheduleValidation(t *testing.T) {
	s := New(Config{Enabled: true}, &fakeEnqueuer{}, logx.Nop())
	if _, err := s.AddSchedule("", "1m", 0, noop); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := s.AddSchedule("x", "1m", 0, nil); err == nil {
		t.Fatalf("expected error for nil job")
	}
	if _, err := s.AddSchedule("x", "61 * * * *", 0, noop); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
	if _, err := s.AddSchedule("x", "soon", 0, noop); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}

func TestAddScheduleUpsertsAndRemoves(t *testing.T) {
	s := New(Config{Enabled: true}, &fakeEnqueuer{}, logx.Nop())
	if _, err := s.AddSchedule("reconcile:1", "2m", time.Minute, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddSchedule("reconcile:1", "*/5 * * * *", time.Minute, noop); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if _, err := s.AddSchedule("reconcile:2", "00:03", time.Minute, noop); err != nil {
		t.Fatalf("add: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 2 {
		t.Fatalf("schedules=%d want 2", len(snap.Schedules))
	}
	if snap.Schedules[0].Spec != "*/5 * * * *" || snap.Schedules[1].Spec != "@every 3m0s" {
		t.Fatalf("specs=%q,%q", snap.Schedules[0].Spec, snap.Schedules[1].Spec)
	}

	if !s.Remove("reconcile:1") {
		t.Fatalf("Remove returned false")
	}
	if s.Remove("reconcile:1") {
		t.Fatalf("second Remove returned true")
	}
	if names := s.Names(); len(names) != 1 || names[0] != "reconcile:2" {
		t.Fatalf("names=%v", names)
	}
}

func TestStartedScheduleEnqueuesTasks(t *testing.T) {
	eng := &fakeEnqueuer{}
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	// Six fields: every second.
	if _, err := s.AddSchedule("reconcile:7", "* * * * * *", time.Second, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for eng.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("schedule never enqueued")
		}
		time.Sleep(20 * time.Millisecond)
	}

	eng.mu.Lock()
	task := eng.tasks[0]
	eng.mu.Unlock()
	if task.Name != "reconcile:7" || task.Timeout != time.Second {
		t.Fatalf("task=%+v", task)
	}
	if task.Opt.Overlap != OverlapSkipIfRunning || task.State == nil {
		t.Fatalf("task options=%+v state=%v", task.Opt, task.State)
	}
	if snap := s.Snapshot(); snap.Schedules[0].Next.IsZero() {
		t.Fatalf("next run not reported")
	}
}

func TestDisabledServiceDoesNotStart(t *testing.T) {
	s := New(Config{Enabled: false}, &fakeEnqueuer{}, logx.Nop())
	s.Start(context.Background())
	if s.c != nil {
		t.Fatalf("cron started while disabled")
	}
}

func TestReportEnqueueErrorThrottles(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	s.reportEnqueueError("a", errors.New("queue full"))
	first := s.lastEnqWarn["a"]
	if first.IsZero() {
		t.Fatalf("warning not recorded")
	}
	s.reportEnqueueError("a", errors.New("queue full"))
	if !s.lastEnqWarn["a"].Equal(first) {
		t.Fatalf("second warning not throttled")
	}
	s.reportEnqueueError("b", engine.ErrOverlapSkip)
	if _, ok := s.lastEnqWarn["b"]; ok {
		t.Fatalf("overlap skip should not be throttled as a warning")
	}
}
