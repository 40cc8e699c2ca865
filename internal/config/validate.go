package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"streamwatch/internal/task/scheduler"
)

// Validate checks a parsed config. It is used at startup and before a hot
// reload is committed, so it must not have side effects.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	if strings.TrimSpace(cfg.Twitch.ClientID) == "" || strings.TrimSpace(cfg.Twitch.ClientSecret) == "" {
		return fmt.Errorf("twitch.client_id and twitch.client_secret are required (or set %s/%s)",
			EnvTwitchClientID, EnvTwitchClientSecret)
	}
	if cfg.Twitch.RatePerSec < 0 || cfg.Twitch.CacheSize < 0 {
		return errors.New("twitch.rate_per_sec and twitch.cache_size must be >= 0")
	}
	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		return errors.New("logging.telegram.chat_id is required when logging.telegram.enabled is true")
	}

	durations := map[string]string{
		"telegram.timeout":           cfg.Telegram.Timeout,
		"twitch.timeout":             cfg.Twitch.Timeout,
		"twitch.stream_ttl":          cfg.Twitch.StreamTTL,
		"twitch.profile_ttl":         cfg.Twitch.ProfileTTL,
		"reconcile.timeout":          cfg.Reconcile.Timeout,
		"reconcile.debounce_window":  cfg.Reconcile.DebounceWindow,
		"events.kafka.write_timeout": cfg.Events.Kafka.WriteTimeout,
		"events.kafka.batch_timeout": cfg.Events.Kafka.BatchTimeout,
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	if te := cfg.TaskEngine; te != nil {
		durations["task_engine.default_timeout"] = te.DefaultTimeout
		durations["task_engine.max_queue_delay"] = te.MaxQueueDelay
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
			return errors.New("task_engine.workers, queue_size and history_size must be >= 0")
		}
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			return errors.New("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	for path, tz := range map[string]string{
		"scheduler.timezone": cfg.Scheduler.Timezone,
		"reconcile.timezone": cfg.Reconcile.Timezone,
	} {
		if err := validTimezone(path, tz); err != nil {
			return err
		}
	}
	if s := strings.TrimSpace(cfg.Reconcile.Interval); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			return fmt.Errorf("reconcile.interval: %w", err)
		}
	}

	if cfg.Events.Kafka.Enabled {
		if len(cfg.Events.Kafka.Brokers) == 0 || strings.TrimSpace(cfg.Events.Kafka.Topic) == "" {
			return errors.New("events.kafka.brokers and events.kafka.topic are required when kafka is enabled")
		}
	}

	return validateChannels(cfg.Channels)
}

func validateChannels(channels []ChannelConfig) error {
	seen := make(map[string]bool, len(channels))
	for i, ch := range channels {
		id := strings.TrimSpace(ch.ID)
		path := fmt.Sprintf("channels[%d]", i)
		if id == "" {
			return fmt.Errorf("%s.id is required", path)
		}
		if seen[id] {
			return fmt.Errorf("%s: duplicate channel id %q", path, id)
		}
		seen[id] = true
		if err := validTimezone(path+".timezone", ch.Timezone); err != nil {
			return err
		}
		if s := strings.TrimSpace(ch.Schedule); s != "" {
			if _, err := scheduler.ParseSchedule(s); err != nil {
				return fmt.Errorf("%s.schedule: %w", path, err)
			}
		}
		for j, sub := range ch.Subscriptions {
			if sub.ChatID == 0 {
				return fmt.Errorf("%s.subscriptions[%d].chat_id is required", path, j)
			}
			if sub.ThreadID < 0 {
				return fmt.Errorf("%s.subscriptions[%d].thread_id must be >= 0", path, j)
			}
		}
	}
	return nil
}

func validTimezone(path, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%s: invalid %q: %w", path, tz, err)
	}
	return nil
}
