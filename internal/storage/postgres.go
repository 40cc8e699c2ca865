package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"streamwatch/internal/monitor"
	logx "streamwatch/pkg/logx"
)

type channelRow struct {
	ID           string `gorm:"primaryKey"`
	DisplayName  string `gorm:"not null;default:''"`
	Timezone     string `gorm:"not null;default:''"`
	SessionStart *time.Time
	SessionEnd   *time.Time
}

func (channelRow) TableName() string { return "channels" }

type segmentRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	ChannelID string    `gorm:"not null;index:idx_segments_channel"`
	Name      string    `gorm:"not null"`
	StartedAt time.Time `gorm:"not null;index:idx_segments_channel"`
	EndedAt   *time.Time
}

func (segmentRow) TableName() string { return "segments" }

type subscriptionRow struct {
	ChannelID     string `gorm:"primaryKey"`
	DestinationID int64  `gorm:"primaryKey;autoIncrement:false"`
	ThreadID      int    `gorm:"primaryKey;autoIncrement:false"`
	LastMessageID int64  `gorm:"not null;default:0"`
}

func (subscriptionRow) TableName() string { return "subscriptions" }

type postgresStore struct {
	db  *gorm.DB
	log logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	mode := logger.Silent
	if cfg.LogSQL {
		mode = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(mode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&channelRow{}, &segmentRow{}, &subscriptionRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	log.Debug("postgres store ready")
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *postgresStore) Load(ctx context.Context, channelID string) (*monitor.MonitoredChannel, error) {
	db := s.db.WithContext(ctx)

	var row channelRow
	if err := db.First(&row, "id = ?", channelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	ch := &monitor.MonitoredChannel{
		ID:           row.ID,
		DisplayName:  row.DisplayName,
		Timezone:     row.Timezone,
		SessionStart: derefTime(row.SessionStart),
		SessionEnd:   derefTime(row.SessionEnd),
	}

	var segs []segmentRow
	if err := db.Where("channel_id = ?", channelID).
		Order("started_at DESC, id DESC").Limit(recentSegments).
		Find(&segs).Error; err != nil {
		return nil, err
	}
	for i := len(segs) - 1; i >= 0; i-- {
		ch.Segments = append(ch.Segments, monitor.ActivitySegment{
			ID:    segs[i].ID,
			Name:  segs[i].Name,
			Start: segs[i].StartedAt.UTC(),
			End:   segs[i].EndedAt,
		})
	}

	var subs []subscriptionRow
	if err := db.Where("channel_id = ?", channelID).
		Order("destination_id, thread_id").Find(&subs).Error; err != nil {
		return nil, err
	}
	for _, r := range subs {
		ch.Subscriptions = append(ch.Subscriptions, monitor.Subscription{
			DestinationID: r.DestinationID,
			ThreadID:      r.ThreadID,
			LastMessageID: r.LastMessageID,
		})
	}
	return ch, nil
}

func (s *postgresStore) Commit(ctx context.Context, ch *monitor.MonitoredChannel) error {
	newIDs := make(map[int]int64)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&channelRow{}).Where("id = ?", ch.ID).Updates(map[string]any{
			"session_start": timePtr(ch.SessionStart),
			"session_end":   timePtr(ch.SessionEnd),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("channel %s: %w", ch.ID, ErrNotFound)
		}

		for i, seg := range ch.Segments {
			if seg.ID == 0 {
				row := segmentRow{ChannelID: ch.ID, Name: seg.Name, StartedAt: seg.Start, EndedAt: seg.End}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("insert segment: %w", err)
				}
				newIDs[i] = row.ID
				continue
			}
			if err := tx.Model(&segmentRow{}).
				Where("id = ? AND channel_id = ?", seg.ID, ch.ID).
				Updates(map[string]any{"name": seg.Name, "ended_at": seg.End}).Error; err != nil {
				return fmt.Errorf("update segment %d: %w", seg.ID, err)
			}
		}

		for _, sub := range ch.Subscriptions {
			if err := tx.Model(&subscriptionRow{}).
				Where("channel_id = ? AND destination_id = ? AND thread_id = ?", ch.ID, sub.DestinationID, sub.ThreadID).
				Update("last_message_id", sub.LastMessageID).Error; err != nil {
				return fmt.Errorf("update subscription %d: %w", sub.DestinationID, err)
			}
		}
		for _, sub := range ch.PendingRemovals() {
			if err := tx.Where("channel_id = ? AND destination_id = ? AND thread_id = ?", ch.ID, sub.DestinationID, sub.ThreadID).
				Delete(&subscriptionRow{}).Error; err != nil {
				return fmt.Errorf("delete subscription %d: %w", sub.DestinationID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, id := range newIDs {
		ch.Segments[i].ID = id
	}
	return nil
}

func (s *postgresStore) UpsertChannel(ctx context.Context, info ChannelInfo) error {
	row := channelRow{ID: info.ID, DisplayName: info.DisplayName, Timezone: info.Timezone}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "timezone"}),
	}).Create(&row).Error
}

func (s *postgresStore) AddSubscription(ctx context.Context, channelID string, destinationID int64, threadID int) error {
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&channelRow{}).Where("id = ?", channelID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	row := subscriptionRow{ChannelID: channelID, DestinationID: destinationID, ThreadID: threadID}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *postgresStore) RemoveSubscription(ctx context.Context, channelID string, key monitor.SubscriptionKey) error {
	res := s.db.WithContext(ctx).
		Where("channel_id = ? AND destination_id = ? AND thread_id = ?", channelID, key.DestinationID, key.ThreadID).
		Delete(&subscriptionRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) ListChannels(ctx context.Context) ([]ChannelInfo, error) {
	var rows []channelRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ChannelInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, ChannelInfo{ID: r.ID, DisplayName: r.DisplayName, Timezone: r.Timezone})
	}
	return out, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
