package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"streamwatch/internal/monitor"
	logx "streamwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/streamwatch.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context, channelID string) (*monitor.MonitoredChannel, error) {
	ch := &monitor.MonitoredChannel{ID: channelID}
	var start, end sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name, timezone, session_start, session_end FROM channels WHERE id = ?`, channelID,
	).Scan(&ch.DisplayName, &ch.Timezone, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ch.SessionStart = fromMillis(start)
	ch.SessionEnd = fromMillis(end)

	if ch.Segments, err = s.loadSegments(ctx, channelID); err != nil {
		return nil, err
	}
	if ch.Subscriptions, err = s.loadSubscriptions(ctx, channelID); err != nil {
		return nil, err
	}
	return ch, nil
}

// loadSegments returns the most recent segments, oldest first.
func (s *sqliteStore) loadSegments(ctx context.Context, channelID string) ([]monitor.ActivitySegment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, started_at, ended_at FROM segments
		 WHERE channel_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`, channelID, recentSegments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []monitor.ActivitySegment
	for rows.Next() {
		var seg monitor.ActivitySegment
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&seg.ID, &seg.Name, &started, &ended); err != nil {
			return nil, err
		}
		seg.Start = time.UnixMilli(started).UTC()
		if ended.Valid {
			t := time.UnixMilli(ended.Int64).UTC()
			seg.End = &t
		}
		out = append([]monitor.ActivitySegment{seg}, out...)
	}
	return out, rows.Err()
}

func (s *sqliteStore) loadSubscriptions(ctx context.Context, channelID string) ([]monitor.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT destination_id, thread_id, last_message_id FROM subscriptions
		 WHERE channel_id = ? ORDER BY destination_id, thread_id`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []monitor.Subscription
	for rows.Next() {
		var sub monitor.Subscription
		if err := rows.Scan(&sub.DestinationID, &sub.ThreadID, &sub.LastMessageID); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Commit(ctx context.Context, ch *monitor.MonitoredChannel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE channels SET session_start = ?, session_end = ? WHERE id = ?`,
		toMillis(ch.SessionStart), toMillis(ch.SessionEnd), ch.ID)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("channel %s: %w", ch.ID, ErrNotFound)
	}

	newIDs := make(map[int]int64)
	for i, seg := range ch.Segments {
		if seg.ID == 0 {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO segments(channel_id, name, started_at, ended_at) VALUES(?,?,?,?)`,
				ch.ID, seg.Name, seg.Start.UnixMilli(), endMillis(seg.End))
			if err != nil {
				return fmt.Errorf("insert segment: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			newIDs[i] = id
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE segments SET name = ?, ended_at = ? WHERE id = ? AND channel_id = ?`,
			seg.Name, endMillis(seg.End), seg.ID, ch.ID); err != nil {
			return fmt.Errorf("update segment %d: %w", seg.ID, err)
		}
	}

	for _, sub := range ch.Subscriptions {
		if _, err := tx.ExecContext(ctx,
			`UPDATE subscriptions SET last_message_id = ?
			 WHERE channel_id = ? AND destination_id = ? AND thread_id = ?`,
			sub.LastMessageID, ch.ID, sub.DestinationID, sub.ThreadID); err != nil {
			return fmt.Errorf("update subscription %d: %w", sub.DestinationID, err)
		}
	}
	for _, sub := range ch.PendingRemovals() {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subscriptions WHERE channel_id = ? AND destination_id = ? AND thread_id = ?`,
			ch.ID, sub.DestinationID, sub.ThreadID); err != nil {
			return fmt.Errorf("delete subscription %d: %w", sub.DestinationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	for i, id := range newIDs {
		ch.Segments[i].ID = id
	}
	return nil
}

func (s *sqliteStore) UpsertChannel(ctx context.Context, info ChannelInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(id, display_name, timezone) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, timezone = excluded.timezone`,
		info.ID, info.DisplayName, info.Timezone)
	return err
}

func (s *sqliteStore) AddSubscription(ctx context.Context, channelID string, destinationID int64, threadID int) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = ?`, channelID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(channel_id, destination_id, thread_id) VALUES(?,?,?)
		 ON CONFLICT(channel_id, destination_id, thread_id) DO NOTHING`,
		channelID, destinationID, threadID)
	return err
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, channelID string, key monitor.SubscriptionKey) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE channel_id = ? AND destination_id = ? AND thread_id = ?`,
		channelID, key.DestinationID, key.ThreadID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListChannels(ctx context.Context) ([]ChannelInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, timezone FROM channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChannelInfo
	for rows.Next() {
		var info ChannelInfo
		if err := rows.Scan(&info.ID, &info.DisplayName, &info.Timezone); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Zero times are stored as NULL so a never-seen channel round-trips unchanged.
func toMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func endMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
