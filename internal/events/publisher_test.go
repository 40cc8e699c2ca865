package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"streamwatch/internal/eventbus"
	logx "streamwatch/pkg/logx"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{Topic: "t"}, logx.Nop()); err == nil {
		t.Fatalf("expected brokers error")
	}
	if _, err := New(Config{Brokers: []string{"localhost:9092"}}, logx.Nop()); err == nil {
		t.Fatalf("expected topic error")
	}
}

func TestPublishEncodesMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewWithWriter(w, time.Second, logx.Nop())
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), eventbus.Event{
		Type: eventbus.TypeStreamStarted,
		Time: at,
		Data: eventbus.Lifecycle{ChannelID: "42", DisplayName: "somestreamer", Activity: "Chess"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if w.count() != 1 {
		t.Fatalf("messages=%d", w.count())
	}
	m := w.msgs[0]
	if string(m.Key) != "42" {
		t.Fatalf("key=%q", m.Key)
	}
	var got Message
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "stream.started" || got.Activity != "Chess" || !got.At.Equal(at) {
		t.Fatalf("payload=%+v", got)
	}
}

func TestRunForwardsAndSurvivesFailures(t *testing.T) {
	w := &fakeWriter{fail: errors.New("broker down")}
	p := NewWithWriter(w, time.Second, logx.Nop())
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, bus) }()

	// Wait for the subscription before publishing.
	publish := func(e eventbus.Event, want int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for w.count() < want {
			if time.Now().After(deadline) {
				t.Fatalf("messages=%d want %d", w.count(), want)
			}
			bus.Publish(e)
			time.Sleep(20 * time.Millisecond)
		}
	}

	bus.Publish(eventbus.Event{Type: eventbus.TypeStreamEnded, Data: eventbus.Lifecycle{ChannelID: "1"}})
	time.Sleep(50 * time.Millisecond)

	w.mu.Lock()
	w.fail = nil
	w.mu.Unlock()
	publish(eventbus.Event{Type: eventbus.TypeStreamEnded, Data: eventbus.Lifecycle{ChannelID: "1"}}, 1)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close=%v closed=%v", err, w.closed)
	}
}
