package monitor

import (
	"strings"
	"time"
)

// NoActivity is the segment name used when the broadcast reports no activity.
const NoActivity = "No Activity"

// MonitoredChannel is the persisted aggregate for one broadcast channel.
//
// The sign of SessionEnd-SessionStart marks the phase of the last observation:
// negative while a session is in progress, non-negative once it has ended.
type MonitoredChannel struct {
	ID           string
	DisplayName  string
	SessionStart time.Time
	SessionEnd   time.Time
	// Timezone is an IANA name used when rendering times for this channel.
	Timezone string

	Segments      []ActivitySegment
	Subscriptions []Subscription

	removed []Subscription
}

// ActivitySegment is a contiguous interval of one activity within a session.
// A nil End marks the open segment.
type ActivitySegment struct {
	ID    int64
	Name  string
	Start time.Time
	End   *time.Time
}

// Subscription binds a destination to a channel and remembers the message
// posted there for the current session (0 = none yet).
type Subscription struct {
	DestinationID int64
	ThreadID      int
	LastMessageID int64
}

// SubscriptionKey identifies a subscription within a channel.
type SubscriptionKey struct {
	DestinationID int64
	ThreadID      int
}

func (s Subscription) Key() SubscriptionKey {
	return SubscriptionKey{DestinationID: s.DestinationID, ThreadID: s.ThreadID}
}

// StreamSnapshot is the live broadcast state returned by a probe.
type StreamSnapshot struct {
	CreatedAt         time.Time
	Login             string
	Title             string
	ActivityName      string
	ViewerCount       int
	ThumbnailTemplate string
}

// WasLive reports whether the last observation left the channel mid-session.
func (c *MonitoredChannel) WasLive() bool {
	return c.SessionEnd.Sub(c.SessionStart) < 0
}

// OpenSegment returns the segment with no end, or nil.
func (c *MonitoredChannel) OpenSegment() *ActivitySegment {
	for i := len(c.Segments) - 1; i >= 0; i-- {
		if c.Segments[i].End == nil {
			return &c.Segments[i]
		}
	}
	return nil
}

// RemoveSubscriptions drops the given subscriptions from the aggregate and
// records them so the store deletes them in the same commit.
func (c *MonitoredChannel) RemoveSubscriptions(keys []SubscriptionKey) []Subscription {
	if len(keys) == 0 {
		return nil
	}
	drop := make(map[SubscriptionKey]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	kept := c.Subscriptions[:0]
	var removed []Subscription
	for _, s := range c.Subscriptions {
		if _, ok := drop[s.Key()]; ok {
			removed = append(removed, s)
			continue
		}
		kept = append(kept, s)
	}
	c.Subscriptions = kept
	c.removed = append(c.removed, removed...)
	return removed
}

// PendingRemovals lists subscriptions removed since the last commit.
func (c *MonitoredChannel) PendingRemovals() []Subscription {
	return c.removed
}

// MarkCommitted clears buffered removals once a store has persisted them.
func (c *MonitoredChannel) MarkCommitted() {
	c.removed = nil
}

// Location resolves the channel's display timezone, falling back to def.
func (c *MonitoredChannel) Location(def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return def
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return def
	}
	return loc
}

// NormalizeActivity maps a blank activity name to NoActivity.
func NormalizeActivity(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return NoActivity
	}
	return name
}
