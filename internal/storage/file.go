package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"streamwatch/internal/monitor"
	logx "streamwatch/pkg/logx"
)

// fileStore keeps every channel in one JSON snapshot.
//
// Each write replaces the snapshot via <path>.tmp + rename, so a commit is
// either fully visible or not at all.
type fileStore struct {
	log  logx.Logger
	path string

	mu       sync.Mutex
	channels map[string]*channelDoc
}

type fileSnapshot struct {
	Channels map[string]*channelDoc `json:"channels"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	snap := fileSnapshot{Channels: map[string]*channelDoc{}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if snap.Channels == nil {
			snap.Channels = map[string]*channelDoc{}
		}
	}
	log.Debug("file store ready", logx.String("path", path), logx.Int("channels", len(snap.Channels)))
	return &fileStore{log: log, path: path, channels: snap.Channels}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(_ context.Context, channelID string) (*monitor.MonitoredChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.channels[channelID]
	if !ok {
		return nil, nil
	}
	return d.toChannel(), nil
}

func (s *fileStore) Commit(_ context.Context, ch *monitor.MonitoredChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.channels[ch.ID]
	if !ok {
		return fmt.Errorf("channel %s: %w", ch.ID, ErrNotFound)
	}
	next := d.clone()
	next.apply(ch)
	return s.replaceLocked(ch.ID, next)
}

func (s *fileStore) UpsertChannel(_ context.Context, info ChannelInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := &channelDoc{ID: info.ID}
	if d, ok := s.channels[info.ID]; ok {
		next = d.clone()
	}
	next.DisplayName = info.DisplayName
	next.Timezone = info.Timezone
	return s.replaceLocked(info.ID, next)
}

func (s *fileStore) AddSubscription(_ context.Context, channelID string, destinationID int64, threadID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	next := d.clone()
	if !next.addSubscription(destinationID, threadID) {
		return nil
	}
	return s.replaceLocked(channelID, next)
}

func (s *fileStore) RemoveSubscription(_ context.Context, channelID string, key monitor.SubscriptionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	next := d.clone()
	if !next.removeSubscription(key) {
		return ErrNotFound
	}
	return s.replaceLocked(channelID, next)
}

func (s *fileStore) ListChannels(context.Context) ([]ChannelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelInfo, 0, len(s.channels))
	for _, d := range s.channels {
		out = append(out, ChannelInfo{ID: d.ID, DisplayName: d.DisplayName, Timezone: d.Timezone})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// replaceLocked writes the snapshot with d in place and only then swaps it in memory.
func (s *fileStore) replaceLocked(id string, d *channelDoc) error {
	next := make(map[string]*channelDoc, len(s.channels)+1)
	for k, v := range s.channels {
		next[k] = v
	}
	next[id] = d

	b, err := json.MarshalIndent(fileSnapshot{Channels: next}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.channels = next
	return nil
}
