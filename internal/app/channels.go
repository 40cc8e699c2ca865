package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"streamwatch/internal/config"
	"streamwatch/internal/storage"
	logx "streamwatch/pkg/logx"
)

const schedulePrefix = "reconcile:"

func scheduleName(channelID string) string { return schedulePrefix + channelID }

// seedChannels upserts configured channels and adds their missing
// subscriptions. Channels and subscriptions absent from the config are left
// alone; they may have been added from the command line.
func seedChannels(ctx context.Context, store storage.Store, channels []config.ChannelConfig, log logx.Logger) error {
	for _, ch := range channels {
		id := strings.TrimSpace(ch.ID)
		if err := store.UpsertChannel(ctx, storage.ChannelInfo{
			ID:          id,
			DisplayName: strings.TrimSpace(ch.DisplayName),
			Timezone:    strings.TrimSpace(ch.Timezone),
		}); err != nil {
			return fmt.Errorf("seed channel %s: %w", id, err)
		}
		for _, sub := range ch.Subscriptions {
			if err := store.AddSubscription(ctx, id, sub.ChatID, sub.ThreadID); err != nil {
				return fmt.Errorf("seed subscription %s -> %d: %w", id, sub.ChatID, err)
			}
		}
		log.Debug("channel seeded", logx.String("channel", id), logx.Int("subscriptions", len(ch.Subscriptions)))
	}
	return nil
}

// Seed writes the configured channels into the store.
func (a *App) Seed(ctx context.Context) error {
	return seedChannels(ctx, a.store, a.cfgm.Get().Channels, a.log)
}

// syncSchedules registers one reconcile schedule per stored channel and
// removes schedules of channels that are gone.
func (a *App) syncSchedules(ctx context.Context, cfg *config.Config) error {
	stored, err := a.store.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	overrides := make(map[string]string, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if s := strings.TrimSpace(ch.Schedule); s != "" {
			overrides[strings.TrimSpace(ch.ID)] = s
		}
	}

	want := make(map[string]bool, len(stored))
	for _, ch := range stored {
		spec := a.settings.interval
		if s, ok := overrides[ch.ID]; ok {
			spec = s
		}
		name := scheduleName(ch.ID)
		want[name] = true
		if _, err := a.sched.AddSchedule(name, spec, a.settings.timeout, a.reconcileJob(ch.ID)); err != nil {
			a.log.Warn("schedule register failed", logx.String("channel", ch.ID), logx.String("spec", spec), logx.Err(err))
		}
	}

	var removed []string
	for _, name := range a.sched.Names() {
		if strings.HasPrefix(name, schedulePrefix) && !want[name] {
			a.sched.Remove(name)
			removed = append(removed, name)
			a.metrics.ForgetChannel(strings.TrimPrefix(name, schedulePrefix))
		}
	}
	sort.Strings(removed)
	a.log.Info("schedules synced", logx.Int("channels", len(stored)), logx.Any("removed", removed))
	return nil
}
