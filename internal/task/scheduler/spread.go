package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// offsetSchedule fires once at first, then follows base.
type offsetSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *offsetSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// spreadInterval builds an interval schedule whose first run is shifted by a
// slot derived from name. The slot is stable across restarts, so a channel
// keeps its place relative to the others polled on the same interval.
func spreadInterval(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	slot := spreadSlot(name, window)
	return &offsetSchedule{base: base, first: now.Add(slot)}, slot
}

func spreadSlot(name string, window time.Duration) time.Duration {
	// cron.Every works in whole seconds, so slots do too.
	secs := uint64(window / time.Second)
	if secs == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64()%secs) * time.Second
}
