package monitor

import (
	"context"
	"time"

	"streamwatch/internal/transport"
)

// StreamProbe reports the live state of a broadcast channel.
type StreamProbe interface {
	Probe(ctx context.Context, channelID string) (bool, error)
	// FetchSnapshot returns nil when the channel is not live.
	FetchSnapshot(ctx context.Context, channelID string) (*StreamSnapshot, error)
}

// ProfileSource is optionally implemented by a probe to supply the channel's avatar.
type ProfileSource interface {
	ProfileImage(ctx context.Context, channelID string) (string, error)
}

// Platform posts and maintains announcements on a notification platform.
type Platform interface {
	ResolveDestination(ctx context.Context, destinationID int64, threadID int) (transport.Destination, error)
	CreateMessage(ctx context.Context, dest transport.Destination, content transport.Content) (int64, error)
	FetchMessage(ctx context.Context, dest transport.Destination, messageID int64) (transport.MessageRef, error)
	EditMessage(ctx context.Context, dest transport.Destination, messageID int64, content transport.Content) error
}

// Store loads and commits channel aggregates.
type Store interface {
	// Load returns nil, nil when the channel is unknown.
	Load(ctx context.Context, channelID string) (*MonitoredChannel, error)
	// Commit persists markers, segments, subscription message ids and
	// pending removals atomically.
	Commit(ctx context.Context, ch *MonitoredChannel) error
}

// Renderer builds announcement content.
type Renderer interface {
	Live(ch *MonitoredChannel, snap StreamSnapshot, now time.Time) transport.Content
	Summary(ch *MonitoredChannel, profileImage string) transport.Content
}

// Clock abstracts time for tests.
type Clock func() time.Time
