package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle event types published after each reconcile pass.
const (
	TypeStreamStarted    = "stream.started"
	TypeActivityChanged  = "stream.activity_changed"
	TypeStreamEnded      = "stream.ended"
	TypeSubscriptionGone = "subscription.removed"
)

// Event is a small in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; slow ones drop events.
type Event struct {
	Type string
	Time time.Time
	Data Lifecycle
}

// Lifecycle is the payload carried by every stream event.
type Lifecycle struct {
	ChannelID     string `json:"channel_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Activity      string `json:"activity,omitempty"`
	DestinationID int64  `json:"destination_id,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Removal and close happen under the write lock, so Publish never sends on a closed channel.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
