package app

import (
	"fmt"
	"strings"
	"time"

	"streamwatch/internal/announce"
	"streamwatch/internal/config"
	"streamwatch/internal/events"
	"streamwatch/internal/metrics"
	"streamwatch/internal/monitor"
	"streamwatch/internal/storage"
	"streamwatch/internal/task/engine"
	"streamwatch/internal/task/scheduler"
	telegram "streamwatch/internal/transport/telegram/adapter"
	"streamwatch/internal/twitch"
	logx "streamwatch/pkg/logx"
)

const (
	defaultReconcileInterval = "1m"
	defaultReconcileTimeout  = 45 * time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	tc := telegram.Config{
		Token:   cfg.Telegram.Token,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: timeout,
	}
	if cfg.Logging.Telegram.Enabled {
		tc.LogChatID = cfg.Logging.Telegram.ChatID
		tc.LogThreadID = cfg.Logging.Telegram.ThreadID
	}
	return tc, nil
}

func mapTwitchConfig(cfg *config.Config) (twitch.Config, error) {
	tw := cfg.Twitch
	timeout, err := config.ParseDurationField("twitch.timeout", tw.Timeout)
	if err != nil {
		return twitch.Config{}, err
	}
	streamTTL, err := config.ParseDurationField("twitch.stream_ttl", tw.StreamTTL)
	if err != nil {
		return twitch.Config{}, err
	}
	profileTTL, err := config.ParseDurationField("twitch.profile_ttl", tw.ProfileTTL)
	if err != nil {
		return twitch.Config{}, err
	}
	return twitch.Config{
		ClientID:     tw.ClientID,
		ClientSecret: tw.ClientSecret,
		APIBase:      tw.APIBase,
		AuthBase:     tw.AuthBase,
		Timeout:      timeout,
		RatePerSec:   tw.RatePerSec,
		CacheSize:    tw.CacheSize,
		StreamTTL:    streamTTL,
		ProfileTTL:   profileTTL,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: "./streamwatch.db"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "./streamwatch.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "file":
		if path == "" {
			path = "./streamwatch_store.json"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres (or set %s)", config.EnvStorageDSN)
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN, LogSQL: sc.LogSQL}, nil
	case "gcs":
		if strings.TrimSpace(sc.Bucket) == "" {
			return storage.Config{}, fmt.Errorf("storage.bucket is required when storage.driver=gcs")
		}
		return storage.Config{Driver: "gcs", Bucket: sc.Bucket, Prefix: sc.Prefix, Endpoint: sc.Endpoint}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.Config{Enabled: cfg.Scheduler.Enabled, Workers: 2, QueueSize: 64, HistorySize: 100}
	te := cfg.TaskEngine
	if te == nil {
		return ec, nil
	}
	if te.Enabled != nil {
		ec.Enabled = *te.Enabled
	}
	if te.Workers > 0 {
		ec.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		ec.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		ec.HistorySize = te.HistorySize
	}
	var err error
	if ec.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if ec.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

// reconcileSettings are the per-job knobs derived from the reconcile section.
type reconcileSettings struct {
	interval string
	timeout  time.Duration
	monitor  monitor.Config
	render   announce.Config
}

func mapReconcileConfig(cfg *config.Config) (reconcileSettings, error) {
	rc := cfg.Reconcile
	timeout, err := config.ParseDurationOrDefault("reconcile.timeout", rc.Timeout, defaultReconcileTimeout)
	if err != nil {
		return reconcileSettings{}, err
	}
	debounce, err := config.ParseDurationOrDefault("reconcile.debounce_window", rc.DebounceWindow, monitor.DefaultDebounceWindow)
	if err != nil {
		return reconcileSettings{}, err
	}
	loc := time.UTC
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return reconcileSettings{}, fmt.Errorf("reconcile.timezone: invalid %q: %w", tz, err)
		}
	}
	interval := strings.TrimSpace(rc.Interval)
	if interval == "" {
		interval = defaultReconcileInterval
	}
	return reconcileSettings{
		interval: interval,
		timeout:  timeout,
		monitor:  monitor.Config{DebounceWindow: debounce},
		render: announce.Config{
			ChannelURL: rc.ChannelURL,
			Location:   loc,
			TimeLayout: rc.TimeLayout,
		},
	}, nil
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	mc := cfg.Metrics
	return metrics.ServerConfig{
		Enabled:              mc.Enabled,
		Addr:                 mc.Addr,
		Path:                 mc.Path,
		Pprof:                mc.Pprof.Enabled,
		PprofPrefix:          mc.Pprof.Prefix,
		PprofToken:           mc.Pprof.Token,
		AllowInsecure:        mc.Pprof.AllowInsecure,
		MutexProfileFraction: mc.Pprof.MutexProfileFraction,
		BlockProfileRate:     mc.Pprof.BlockProfileRate,
	}
}

func mapKafkaConfig(cfg *config.Config) (events.Config, bool, error) {
	kc := cfg.Events.Kafka
	if !kc.Enabled {
		return events.Config{}, false, nil
	}
	wt, err := config.ParseDurationField("events.kafka.write_timeout", kc.WriteTimeout)
	if err != nil {
		return events.Config{}, false, err
	}
	bt, err := config.ParseDurationField("events.kafka.batch_timeout", kc.BatchTimeout)
	if err != nil {
		return events.Config{}, false, err
	}
	return events.Config{Brokers: kc.Brokers, Topic: kc.Topic, WriteTimeout: wt, BatchTimeout: bt}, true, nil
}
