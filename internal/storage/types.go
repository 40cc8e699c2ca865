package storage

import (
	"context"
	"errors"
	"time"

	"streamwatch/internal/monitor"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// recentSegments is how many of the latest segments Load returns.
const recentSegments = 2

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): Path is the database file
//   - "file": Path is the JSON snapshot
//   - "postgres": DSN is required
//   - "gcs": Bucket is required, Prefix is optional, Endpoint points at an
//     emulator such as "http://localhost:4443/storage/v1/"
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Bucket      string
	Prefix      string
	Endpoint    string
	BusyTimeout time.Duration // sqlite only; 0 means default
	LogSQL      bool          // postgres only
}

// ChannelInfo is the externally managed identity of a channel.
type ChannelInfo struct {
	ID          string
	DisplayName string
	Timezone    string
}

// Store is the persistence API used by the reconciler and its admin tooling.
type Store interface {
	monitor.Store

	// UpsertChannel creates the channel or updates its identity fields.
	// Session markers and segments are left untouched.
	UpsertChannel(ctx context.Context, info ChannelInfo) error
	// AddSubscription is idempotent. It returns ErrNotFound for an unknown channel.
	AddSubscription(ctx context.Context, channelID string, destinationID int64, threadID int) error
	// RemoveSubscription returns ErrNotFound when nothing matched.
	RemoveSubscription(ctx context.Context, channelID string, key monitor.SubscriptionKey) error
	ListChannels(ctx context.Context) ([]ChannelInfo, error)
	Close() error
}
