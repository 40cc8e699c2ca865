package monitor

import (
	"testing"
	"time"
)

func TestTrackerStart(t *testing.T) {
	tr := SegmentTracker{DebounceWindow: DefaultDebounceWindow}
	ch := &MonitoredChannel{ID: "1"}

	tr.Start(ch, StreamSnapshot{CreatedAt: t0, ActivityName: ""})

	if !ch.SessionStart.Equal(t0) {
		t.Fatalf("SessionStart=%v want %v", ch.SessionStart, t0)
	}
	if len(ch.Segments) != 1 || ch.Segments[0].Name != NoActivity || ch.Segments[0].End != nil {
		t.Fatalf("segments=%+v", ch.Segments)
	}
}

func TestTrackerStartClosesLeftoverSegment(t *testing.T) {
	tr := SegmentTracker{DebounceWindow: DefaultDebounceWindow}
	ch := &MonitoredChannel{
		SessionStart: t0.Add(-2 * time.Hour),
		SessionEnd:   t0.Add(-time.Hour),
		Segments:     []ActivitySegment{{ID: 1, Name: "Chess", Start: t0.Add(-2 * time.Hour)}},
	}

	tr.Start(ch, StreamSnapshot{CreatedAt: t0, ActivityName: "Go"})

	if len(ch.Segments) != 2 {
		t.Fatalf("segments=%+v", ch.Segments)
	}
	if ch.Segments[0].End == nil || !ch.Segments[0].End.Equal(t0) {
		t.Fatalf("leftover segment end=%v want %v", ch.Segments[0].End, t0)
	}
	if open := ch.OpenSegment(); open == nil || open.Name != "Go" {
		t.Fatalf("open segment=%+v", open)
	}
}

func TestTrackerActivityChange(t *testing.T) {
	tr := SegmentTracker{DebounceWindow: DefaultDebounceWindow}
	ch := &MonitoredChannel{
		SessionStart: t0,
		SessionEnd:   t0.Add(-time.Hour),
		Segments:     []ActivitySegment{{ID: 1, Name: "Chess", Start: t0}},
	}
	now := t0.Add(40 * time.Minute)

	if tr.Track(ch, StreamSnapshot{ActivityName: "Chess"}, now) {
		t.Fatalf("same activity opened a segment")
	}
	if !tr.Track(ch, StreamSnapshot{ActivityName: "Just Chatting"}, now) {
		t.Fatalf("activity change did not open a segment")
	}

	if len(ch.Segments) != 2 {
		t.Fatalf("segments=%d want 2", len(ch.Segments))
	}
	if ch.Segments[0].End == nil || !ch.Segments[0].End.Equal(now) {
		t.Fatalf("old segment end=%v want %v", ch.Segments[0].End, now)
	}
	next := ch.Segments[1]
	if next.Name != "Just Chatting" || !next.Start.Equal(now) || next.End != nil {
		t.Fatalf("new segment=%+v", next)
	}
}

func TestTrackerOpensSegmentWhenNoneOpen(t *testing.T) {
	tr := SegmentTracker{DebounceWindow: DefaultDebounceWindow}
	ch := &MonitoredChannel{Segments: []ActivitySegment{{Name: "Chess", Start: t0, End: ptrTime(t0.Add(time.Minute))}}}
	now := t0.Add(time.Hour)

	if !tr.Track(ch, StreamSnapshot{ActivityName: "Chess"}, now) {
		t.Fatalf("expected a segment to be opened")
	}
	if open := ch.OpenSegment(); open == nil || !open.Start.Equal(now) {
		t.Fatalf("open segment=%+v", open)
	}
}

func TestTrackerEnd(t *testing.T) {
	tr := SegmentTracker{DebounceWindow: 3 * time.Minute}

	t.Run("backdates by window", func(t *testing.T) {
		ch := &MonitoredChannel{
			SessionStart: t0,
			SessionEnd:   t0.Add(-time.Hour),
			Segments:     []ActivitySegment{{Name: "Chess", Start: t0}},
		}
		now := t0.Add(2 * time.Hour)
		want := now.Add(-3 * time.Minute)

		got := tr.End(ch, now)
		if !got.Equal(want) || !ch.SessionEnd.Equal(want) {
			t.Fatalf("SessionEnd=%v want %v", ch.SessionEnd, want)
		}
		if ch.Segments[0].End == nil || !ch.Segments[0].End.Equal(want) {
			t.Fatalf("segment end=%v want %v", ch.Segments[0].End, want)
		}
		if ch.WasLive() {
			t.Fatalf("channel still marked live")
		}
	})

	t.Run("never before start", func(t *testing.T) {
		start := t0.Add(time.Minute)
		ch := &MonitoredChannel{
			SessionStart: start,
			SessionEnd:   t0,
			Segments:     []ActivitySegment{{Name: "Chess", Start: start}},
		}
		tr.End(ch, t0.Add(2*time.Minute))

		if !ch.SessionEnd.Equal(start) {
			t.Fatalf("SessionEnd=%v want clamp to %v", ch.SessionEnd, start)
		}
		if !ch.Segments[0].End.Equal(start) {
			t.Fatalf("segment end=%v want %v", ch.Segments[0].End, start)
		}
		if ch.WasLive() {
			t.Fatalf("clamped end left channel live")
		}
	})
}

func TestSegmentLaw(t *testing.T) {
	tr := SegmentTracker{DebounceWindow: DefaultDebounceWindow}
	ch := &MonitoredChannel{}
	tr.Start(ch, StreamSnapshot{CreatedAt: t0, ActivityName: "A"})
	ch.SessionEnd = t0.Add(-time.Second)

	names := []string{"A", "B", "B", "", "C", "C"}
	for i, n := range names {
		tr.Track(ch, StreamSnapshot{ActivityName: n}, t0.Add(time.Duration(i+1)*10*time.Minute))
	}
	tr.End(ch, t0.Add(2*time.Hour))

	open := 0
	for i, seg := range ch.Segments {
		if seg.End == nil {
			open++
			continue
		}
		if seg.End.Before(seg.Start) {
			t.Fatalf("segment %d ends before it starts: %+v", i, seg)
		}
		if i > 0 && ch.Segments[i-1].End != nil && seg.Start.Before(*ch.Segments[i-1].End) {
			t.Fatalf("segment %d overlaps its predecessor", i)
		}
	}
	if open != 0 {
		t.Fatalf("open segments after end=%d", open)
	}
	// A, B, No Activity, C
	if len(ch.Segments) != 4 {
		t.Fatalf("segments=%d want 4: %+v", len(ch.Segments), ch.Segments)
	}
}
