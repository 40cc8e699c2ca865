package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamwatch/internal/transport"
)

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

type memStore struct {
	channels map[string]*MonitoredChannel
	commits  int
	failWith error
}

func newMemStore(chs ...*MonitoredChannel) *memStore {
	s := &memStore{channels: map[string]*MonitoredChannel{}}
	for _, ch := range chs {
		s.channels[ch.ID] = cloneChannel(ch)
	}
	return s
}

func (s *memStore) Load(_ context.Context, id string) (*MonitoredChannel, error) {
	ch, ok := s.channels[id]
	if !ok {
		return nil, nil
	}
	return cloneChannel(ch), nil
}

func (s *memStore) Commit(_ context.Context, ch *MonitoredChannel) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.commits++
	cp := cloneChannel(ch)
	cp.removed = nil
	s.channels[ch.ID] = cp
	return nil
}

func (s *memStore) get(id string) *MonitoredChannel { return s.channels[id] }

func cloneChannel(ch *MonitoredChannel) *MonitoredChannel {
	cp := *ch
	cp.Segments = make([]ActivitySegment, len(ch.Segments))
	for i, seg := range ch.Segments {
		if seg.End != nil {
			end := *seg.End
			seg.End = &end
		}
		cp.Segments[i] = seg
	}
	cp.Subscriptions = append([]Subscription(nil), ch.Subscriptions...)
	cp.removed = append([]Subscription(nil), ch.removed...)
	return &cp
}

type fakeProbe struct {
	live     bool
	snap     *StreamSnapshot
	probeErr error
	snapErr  error
	profile  string
	probes   int
}

func (p *fakeProbe) Probe(context.Context, string) (bool, error) {
	p.probes++
	return p.live, p.probeErr
}

func (p *fakeProbe) FetchSnapshot(context.Context, string) (*StreamSnapshot, error) {
	if p.snapErr != nil {
		return nil, p.snapErr
	}
	if !p.live {
		return nil, nil
	}
	return p.snap, nil
}

func (p *fakeProbe) ProfileImage(context.Context, string) (string, error) {
	return p.profile, nil
}

type call struct {
	op      string
	chat    int64
	message int64
	content transport.Content
}

type fakePlatform struct {
	nextID     int64
	messages   map[int64]transport.Content // live messages by id
	unresolved map[int64]bool
	broken     map[int64]bool // destinations failing with a transient error
	kicked     map[int64]bool // resolve succeeds, sending reports the chat gone
	calls      []call
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		nextID:     100,
		messages:   map[int64]transport.Content{},
		unresolved: map[int64]bool{},
		broken:     map[int64]bool{},
		kicked:     map[int64]bool{},
	}
}

var errTransient = errors.New("platform: 502 bad gateway")

func (p *fakePlatform) ResolveDestination(_ context.Context, id int64, thread int) (transport.Destination, error) {
	p.calls = append(p.calls, call{op: "resolve", chat: id})
	if p.unresolved[id] {
		return transport.Destination{}, fmt.Errorf("chat %d: %w", id, transport.ErrDestinationUnresolved)
	}
	return transport.Destination{ChatID: id, ThreadID: thread}, nil
}

func (p *fakePlatform) CreateMessage(_ context.Context, d transport.Destination, c transport.Content) (int64, error) {
	p.calls = append(p.calls, call{op: "create", chat: d.ChatID, content: c})
	if p.kicked[d.ChatID] {
		return 0, fmt.Errorf("chat %d: %w", d.ChatID, transport.ErrDestinationUnresolved)
	}
	if p.broken[d.ChatID] {
		return 0, errTransient
	}
	p.nextID++
	p.messages[p.nextID] = c
	return p.nextID, nil
}

func (p *fakePlatform) FetchMessage(_ context.Context, d transport.Destination, id int64) (transport.MessageRef, error) {
	p.calls = append(p.calls, call{op: "fetch", chat: d.ChatID, message: id})
	if p.broken[d.ChatID] {
		return transport.MessageRef{}, errTransient
	}
	if _, ok := p.messages[id]; !ok {
		return transport.MessageRef{}, transport.ErrMessageNotFound
	}
	return transport.MessageRef{ChatID: d.ChatID, MessageID: id}, nil
}

func (p *fakePlatform) EditMessage(_ context.Context, d transport.Destination, id int64, c transport.Content) error {
	p.calls = append(p.calls, call{op: "edit", chat: d.ChatID, message: id, content: c})
	if p.kicked[d.ChatID] {
		return fmt.Errorf("chat %d: %w", d.ChatID, transport.ErrDestinationUnresolved)
	}
	if _, ok := p.messages[id]; !ok {
		return transport.ErrMessageNotFound
	}
	p.messages[id] = c
	return nil
}

func (p *fakePlatform) count(op string) int {
	n := 0
	for _, c := range p.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type stubRenderer struct{}

func (stubRenderer) Live(ch *MonitoredChannel, snap StreamSnapshot, _ time.Time) transport.Content {
	return transport.Content{
		Headline: ch.DisplayName + " is live!",
		Card:     transport.Card{Title: snap.Title, Fields: []transport.Field{{Name: "Playing", Value: NormalizeActivity(snap.ActivityName)}}},
		Notify:   true,
	}
}

func (stubRenderer) Summary(ch *MonitoredChannel, profile string) transport.Content {
	return transport.Content{Card: transport.Card{Author: ch.DisplayName + " was live", ThumbnailURL: profile}}
}

func ptrTime(t time.Time) *time.Time { return &t }
