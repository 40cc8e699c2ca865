package monitor

import "time"

// SegmentTracker keeps the activity segments and session markers of a
// channel in step with the observed phase.
type SegmentTracker struct {
	// DebounceWindow is subtracted from the observation time when a session ends,
	// since the end is only noticed after the broadcast has been offline that long.
	DebounceWindow time.Duration
}

// Start opens the first segment of a session and marks the session start.
// A segment left open by an earlier session is closed first.
func (t SegmentTracker) Start(ch *MonitoredChannel, snap StreamSnapshot) {
	if open := ch.OpenSegment(); open != nil {
		end := clampAfter(snap.CreatedAt, open.Start)
		open.End = &end
	}
	ch.SessionStart = snap.CreatedAt
	ch.Segments = append(ch.Segments, ActivitySegment{
		Name:  NormalizeActivity(snap.ActivityName),
		Start: snap.CreatedAt,
	})
}

// Track closes the open segment and opens a new one when the activity changed.
// It reports whether a new segment was opened.
func (t SegmentTracker) Track(ch *MonitoredChannel, snap StreamSnapshot, now time.Time) bool {
	name := NormalizeActivity(snap.ActivityName)
	open := ch.OpenSegment()
	if open != nil && open.Name == name {
		return false
	}
	if open != nil {
		end := clampAfter(now, open.Start)
		open.End = &end
	}
	ch.Segments = append(ch.Segments, ActivitySegment{Name: name, Start: now})
	return true
}

// End closes the final segment and marks the session end, both backdated by
// the debounce window. Neither is allowed to precede its start.
func (t SegmentTracker) End(ch *MonitoredChannel, now time.Time) time.Time {
	endAt := now.Add(-t.DebounceWindow)
	if open := ch.OpenSegment(); open != nil {
		end := clampAfter(endAt, open.Start)
		open.End = &end
	}
	ch.SessionEnd = clampAfter(endAt, ch.SessionStart)
	return ch.SessionEnd
}

func clampAfter(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
