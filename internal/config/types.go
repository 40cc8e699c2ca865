package config

// Config is the root of the streamwatch configuration file.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Twitch   TwitchConfig   `json:"twitch"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls triggers; TaskEngine controls execution.
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Reconcile ReconcileConfig `json:"reconcile"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics"`
	Events    EventsConfig    `json:"events"`

	// Channels are seeded into the store on start.
	Channels []ChannelConfig `json:"channels"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides the Bot API endpoint, e.g. a local bot server.
	APIURL string `json:"api_url,omitempty"`
	// Timeout is a Go duration string (e.g. "15s").
	Timeout string `json:"timeout,omitempty"`
}

// TwitchConfig configures the Helix client used as the stream probe.
//
// Defaults (when fields are omitted/zero):
//   - timeout: "10s"
//   - rate_per_sec: 5
//   - cache_size: 0 (disabled)
//   - stream_ttl: "5s"
//   - profile_ttl: "1h"
type TwitchConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	APIBase      string `json:"api_base,omitempty"`
	AuthBase     string `json:"auth_base,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	CacheSize    int    `json:"cache_size,omitempty"` // bytes
	StreamTTL    string `json:"stream_ttl,omitempty"`
	ProfileTTL   string `json:"profile_ttl,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings and errors to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the scheduler (trigger) service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone for cron specs.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 100
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// ReconcileConfig tunes the per-channel reconcile job.
//
// Defaults:
//   - interval: "1m"
//   - timeout: "45s"
//   - debounce_window: "3m"
//   - timezone: "UTC" (display timezone for summaries)
type ReconcileConfig struct {
	Interval       string `json:"interval,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	DebounceWindow string `json:"debounce_window,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	// ChannelURL is a link template; {login} is replaced.
	ChannelURL string `json:"channel_url,omitempty"`
	TimeLayout string `json:"time_layout,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./streamwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; never logged
	Bucket      string `json:"bucket,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // gcs emulator JSON API base
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	LogSQL      bool   `json:"log_sql,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint and optional pprof handlers.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - pprof on a non-loopback address requires a token or allow_insecure.
type MetricsConfig struct {
	Enabled bool        `json:"enabled"`
	Addr    string      `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Path    string      `json:"path,omitempty"` // default: "/metrics"
	Pprof   PprofConfig `json:"pprof"`
}

type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

type EventsConfig struct {
	Kafka KafkaConfig `json:"kafka"`
}

// KafkaConfig configures the lifecycle event publisher.
type KafkaConfig struct {
	Enabled      bool     `json:"enabled"`
	Brokers      []string `json:"brokers"`
	Topic        string   `json:"topic"`
	WriteTimeout string   `json:"write_timeout,omitempty"` // default "10s"
	BatchTimeout string   `json:"batch_timeout,omitempty"` // default "100ms"
}

// ChannelConfig is a monitored broadcast channel.
type ChannelConfig struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Timezone    string `json:"timezone,omitempty"`
	// Schedule overrides reconcile.interval (cron, duration or HH:MM).
	Schedule      string               `json:"schedule,omitempty"`
	Subscriptions []SubscriptionConfig `json:"subscriptions"`
}

type SubscriptionConfig struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}
