package storage

import (
	"time"

	"streamwatch/internal/monitor"
)

// channelDoc is the JSON shape shared by the file and gcs drivers.
type channelDoc struct {
	ID            string            `json:"id"`
	DisplayName   string            `json:"display_name,omitempty"`
	Timezone      string            `json:"timezone,omitempty"`
	SessionStart  time.Time         `json:"session_start"`
	SessionEnd    time.Time         `json:"session_end"`
	NextSegmentID int64             `json:"next_segment_id"`
	Segments      []segmentDoc      `json:"segments,omitempty"`
	Subscriptions []subscriptionDoc `json:"subscriptions,omitempty"`
}

type segmentDoc struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

type subscriptionDoc struct {
	DestinationID int64 `json:"destination_id"`
	ThreadID      int   `json:"thread_id,omitempty"`
	LastMessageID int64 `json:"last_message_id,omitempty"`
}

func (d *channelDoc) toChannel() *monitor.MonitoredChannel {
	ch := &monitor.MonitoredChannel{
		ID:           d.ID,
		DisplayName:  d.DisplayName,
		Timezone:     d.Timezone,
		SessionStart: d.SessionStart,
		SessionEnd:   d.SessionEnd,
	}
	segs := d.Segments
	if len(segs) > recentSegments {
		segs = segs[len(segs)-recentSegments:]
	}
	for _, s := range segs {
		seg := monitor.ActivitySegment{ID: s.ID, Name: s.Name, Start: s.Start}
		if s.End != nil {
			end := *s.End
			seg.End = &end
		}
		ch.Segments = append(ch.Segments, seg)
	}
	for _, s := range d.Subscriptions {
		ch.Subscriptions = append(ch.Subscriptions, monitor.Subscription{
			DestinationID: s.DestinationID,
			ThreadID:      s.ThreadID,
			LastMessageID: s.LastMessageID,
		})
	}
	return ch
}

// apply merges a reconciled aggregate into the stored document. Segment ids
// are assigned for new segments and written back into ch.
func (d *channelDoc) apply(ch *monitor.MonitoredChannel) {
	d.SessionStart = ch.SessionStart
	d.SessionEnd = ch.SessionEnd

	byID := make(map[int64]int, len(d.Segments))
	for i, s := range d.Segments {
		byID[s.ID] = i
	}
	for i := range ch.Segments {
		seg := &ch.Segments[i]
		if seg.ID == 0 {
			d.NextSegmentID++
			seg.ID = d.NextSegmentID
			d.Segments = append(d.Segments, segmentDoc{ID: seg.ID, Name: seg.Name, Start: seg.Start, End: seg.End})
			continue
		}
		if j, ok := byID[seg.ID]; ok {
			d.Segments[j].Name = seg.Name
			d.Segments[j].End = seg.End
		}
	}

	msgs := make(map[monitor.SubscriptionKey]int64, len(ch.Subscriptions))
	for _, s := range ch.Subscriptions {
		msgs[s.Key()] = s.LastMessageID
	}
	gone := make(map[monitor.SubscriptionKey]bool)
	for _, s := range ch.PendingRemovals() {
		gone[s.Key()] = true
	}
	kept := d.Subscriptions[:0]
	for _, s := range d.Subscriptions {
		key := monitor.SubscriptionKey{DestinationID: s.DestinationID, ThreadID: s.ThreadID}
		if gone[key] {
			continue
		}
		if id, ok := msgs[key]; ok {
			s.LastMessageID = id
		}
		kept = append(kept, s)
	}
	d.Subscriptions = kept
}

// addSubscription reports whether the subscription was new.
func (d *channelDoc) addSubscription(destinationID int64, threadID int) bool {
	for _, s := range d.Subscriptions {
		if s.DestinationID == destinationID && s.ThreadID == threadID {
			return false
		}
	}
	d.Subscriptions = append(d.Subscriptions, subscriptionDoc{DestinationID: destinationID, ThreadID: threadID})
	return true
}

func (d *channelDoc) removeSubscription(key monitor.SubscriptionKey) bool {
	for i, s := range d.Subscriptions {
		if s.DestinationID == key.DestinationID && s.ThreadID == key.ThreadID {
			d.Subscriptions = append(d.Subscriptions[:i], d.Subscriptions[i+1:]...)
			return true
		}
	}
	return false
}

func (d *channelDoc) clone() *channelDoc {
	cp := *d
	cp.Segments = append([]segmentDoc(nil), d.Segments...)
	cp.Subscriptions = append([]subscriptionDoc(nil), d.Subscriptions...)
	return &cp
}
