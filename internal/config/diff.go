package config

import (
	"reflect"
	"sort"
	"strings"

	logx "streamwatch/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"telegram":    true,
	"twitch":      true,
	"task_engine": true,
	"reconcile":   true,
	"storage":     true,
	"metrics":     true,
	"events":      true,
}

// RequiresRestart reports whether a changed section is not applied live.
func RequiresRestart(section string) bool { return restartSections[section] }

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) safe structured attrs for logging (never includes tokens, secrets or DSNs),
// and (3) the ids of channels that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		oldCfg.Telegram.Timeout != newCfg.Telegram.Timeout ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.api_url_set", strings.TrimSpace(newCfg.Telegram.APIURL) != ""),
			logx.String("telegram.timeout", newCfg.Telegram.Timeout),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	// Twitch (never log secret)
	oT, nT := oldCfg.Twitch, newCfg.Twitch
	oT.ClientSecret, nT.ClientSecret = "", ""
	if oT != nT || oldCfg.Twitch.ClientSecret != newCfg.Twitch.ClientSecret {
		changed = append(changed, "twitch")
		attrs = append(attrs,
			logx.Int("twitch.rate_per_sec", nT.RatePerSec),
			logx.Int("twitch.cache_size", nT.CacheSize),
			logx.String("twitch.stream_ttl", nT.StreamTTL),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", nTE.DefaultTimeout),
		)
	}

	if oldCfg.Reconcile != newCfg.Reconcile {
		changed = append(changed, "reconcile")
		attrs = append(attrs,
			logx.String("reconcile.interval", newCfg.Reconcile.Interval),
			logx.String("reconcile.timeout", newCfg.Reconcile.Timeout),
			logx.String("reconcile.debounce_window", newCfg.Reconcile.DebounceWindow),
			logx.String("reconcile.timezone", newCfg.Reconcile.Timezone),
		)
	}

	// Storage (nil means default sqlite; never log the DSN)
	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
		)
	}

	// Metrics (never log the pprof token)
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof.Enabled),
			logx.Bool("metrics.pprof_token_set", strings.TrimSpace(newCfg.Metrics.Pprof.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		changed = append(changed, "events")
		attrs = append(attrs,
			logx.Bool("events.kafka.enabled", newCfg.Events.Kafka.Enabled),
			logx.Int("events.kafka.brokers", len(newCfg.Events.Kafka.Brokers)),
			logx.String("events.kafka.topic", newCfg.Events.Kafka.Topic),
		)
	}

	chChanged := diffChannels(oldCfg.Channels, newCfg.Channels)
	if len(chChanged) > 0 {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Int("channels.changed_count", len(chChanged)),
			logx.Int("channels.count", len(newCfg.Channels)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, chChanged
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefStorage(sc *StorageConfig) StorageConfig {
	if sc == nil {
		return StorageConfig{}
	}
	return *sc
}

func diffChannels(oldL, newL []ChannelConfig) []string {
	index := func(l []ChannelConfig) map[string]ChannelConfig {
		m := make(map[string]ChannelConfig, len(l))
		for _, c := range l {
			m[strings.TrimSpace(c.ID)] = c
		}
		return m
	}
	oldM, newM := index(oldL), index(newL)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, oOK := oldM[id]
		n, nOK := newM[id]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
