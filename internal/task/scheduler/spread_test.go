package scheduler

import (
	"testing"
	"time"
)

func TestSpreadSlotIsStableAndBounded(t *testing.T) {
	for _, name := range []string{"reconcile:1", "reconcile:2", "reconcile:somechannel"} {
		a := spreadSlot(name, maxStartupSpread)
		b := spreadSlot(name, maxStartupSpread)
		if a != b {
			t.Fatalf("%s: slot not stable: %v vs %v", name, a, b)
		}
		if a < 0 || a >= maxStartupSpread {
			t.Fatalf("%s: slot %v outside [0,%v)", name, a, maxStartupSpread)
		}
	}
	if spreadSlot("x", 0) != 0 {
		t.Fatalf("zero window must give zero slot")
	}
}

func TestSpreadIntervalFirstRunThenBase(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sched, slot := spreadInterval(time.Minute, now, "reconcile:1")
	if slot >= maxStartupSpread {
		t.Fatalf("slot=%v", slot)
	}

	first := sched.Next(now)
	if !first.Equal(now.Add(slot)) {
		t.Fatalf("first=%v want %v", first, now.Add(slot))
	}
	second := sched.Next(first)
	if second.Sub(first) != time.Minute {
		t.Fatalf("second-first=%v want 1m", second.Sub(first))
	}
}

func TestSpreadIntervalShortInterval(t *testing.T) {
	now := time.Now()
	_, slot := spreadInterval(5*time.Second, now, "reconcile:fast")
	if slot >= 5*time.Second {
		t.Fatalf("slot=%v exceeds interval", slot)
	}
}
