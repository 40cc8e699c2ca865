package app

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"streamwatch/internal/config"
	"streamwatch/internal/eventbus"
	"streamwatch/internal/monitor"
	"streamwatch/internal/storage"
	"streamwatch/internal/task/scheduler"
	logx "streamwatch/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      *config.StorageConfig
		driver  string
		wantErr string
	}{
		{"default", nil, "sqlite", ""},
		{"sqlite", &config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "2s"}, "sqlite", ""},
		{"file", &config.StorageConfig{Driver: "file"}, "file", ""},
		{"postgres without dsn", &config.StorageConfig{Driver: "postgres"}, "", "storage.dsn"},
		{"postgres", &config.StorageConfig{Driver: "postgresql", DSN: "postgres://u@h/db"}, "postgres", ""},
		{"gcs without bucket", &config.StorageConfig{Driver: "gcs"}, "", "storage.bucket"},
		{"bad busy timeout", &config.StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}, "", "busy_timeout"},
		{"unknown", &config.StorageConfig{Driver: "redis"}, "", "unknown storage.driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err=%v want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapStorageConfig: %v", err)
			}
			if sc.Driver != tc.driver {
				t.Fatalf("driver=%q want %q", sc.Driver, tc.driver)
			}
		})
	}
}

func TestMapTaskEngineConfig(t *testing.T) {
	ec, err := mapTaskEngineConfig(&config.Config{Scheduler: config.SchedulerConfig{Enabled: true}})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if !ec.Enabled || ec.Workers != 2 || ec.QueueSize != 64 || ec.HistorySize != 100 {
		t.Fatalf("defaults=%+v", ec)
	}

	off := false
	ec, err = mapTaskEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{
		Enabled: &off, Workers: 4, DefaultTimeout: "30s", MaxQueueDelay: "1m",
	}})
	if err != nil {
		t.Fatalf("explicit: %v", err)
	}
	if ec.Enabled || ec.Workers != 4 || ec.DefaultTimeout != 30*time.Second || ec.MaxQueueDelay != time.Minute {
		t.Fatalf("explicit=%+v", ec)
	}
}

func TestMapReconcileConfig(t *testing.T) {
	rs, err := mapReconcileConfig(&config.Config{})
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if rs.interval != "1m" || rs.timeout != defaultReconcileTimeout {
		t.Fatalf("interval=%q timeout=%v", rs.interval, rs.timeout)
	}
	if rs.monitor.DebounceWindow != monitor.DefaultDebounceWindow || rs.render.Location != time.UTC {
		t.Fatalf("settings=%+v", rs)
	}

	rs, err = mapReconcileConfig(&config.Config{Reconcile: config.ReconcileConfig{
		Interval: "*/2 * * * *", DebounceWindow: "5m", Timezone: "Asia/Tokyo",
	}})
	if err != nil {
		t.Fatalf("explicit: %v", err)
	}
	if rs.interval != "*/2 * * * *" || rs.monitor.DebounceWindow != 5*time.Minute || rs.render.Location.String() != "Asia/Tokyo" {
		t.Fatalf("settings=%+v", rs)
	}
}

func TestMapKafkaConfig(t *testing.T) {
	if _, enabled, err := mapKafkaConfig(&config.Config{}); enabled || err != nil {
		t.Fatalf("disabled=(%v,%v)", enabled, err)
	}
	kc, enabled, err := mapKafkaConfig(&config.Config{Events: config.EventsConfig{Kafka: config.KafkaConfig{
		Enabled: true, Brokers: []string{"k:9092"}, Topic: "streams", WriteTimeout: "5s",
	}}})
	if err != nil || !enabled || kc.Topic != "streams" || kc.WriteTimeout != 5*time.Second {
		t.Fatalf("kafka=(%+v,%v,%v)", kc, enabled, err)
	}
}

func TestPublishOutcome(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	publishOutcome(bus, monitor.Outcome{ChannelID: "1", Phase: monitor.SessionStarting}) // not committed
	publishOutcome(bus, monitor.Outcome{ChannelID: "1", Phase: monitor.SessionStarting, Committed: true, Activity: "Chess"})
	publishOutcome(bus, monitor.Outcome{ChannelID: "1", Phase: monitor.SessionOngoing, Committed: true})
	publishOutcome(bus, monitor.Outcome{ChannelID: "1", Phase: monitor.SessionOngoing, Committed: true, ActivityChanged: true})
	publishOutcome(bus, monitor.Outcome{
		ChannelID: "1",
		Phase:     monitor.SessionEnded,
		Committed: true,
		Removed:   []monitor.Subscription{{DestinationID: -7}},
	})

	want := []string{
		eventbus.TypeStreamStarted,
		eventbus.TypeActivityChanged,
		eventbus.TypeStreamEnded,
		eventbus.TypeSubscriptionGone,
	}
	for i, typ := range want {
		select {
		case e := <-ch:
			if e.Type != typ {
				t.Fatalf("event %d type=%s want %s", i, e.Type, typ)
			}
			if typ == eventbus.TypeSubscriptionGone && e.Data.DestinationID != -7 {
				t.Fatalf("destination=%d", e.Data.DestinationID)
			}
		default:
			t.Fatalf("event %d (%s) missing", i, typ)
		}
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	default:
	}
}

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "store.json"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSeedChannelsIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	channels := []config.ChannelConfig{{
		ID:            "1001",
		DisplayName:   "somestreamer",
		Timezone:      "Europe/Berlin",
		Subscriptions: []config.SubscriptionConfig{{ChatID: -100, ThreadID: 2}, {ChatID: -200}},
	}}

	for i := 0; i < 2; i++ {
		if err := seedChannels(ctx, st, channels, logx.Nop()); err != nil {
			t.Fatalf("seed #%d: %v", i, err)
		}
	}
	ch, err := st.Load(ctx, "1001")
	if err != nil || ch == nil {
		t.Fatalf("Load=(%v,%v)", ch, err)
	}
	if ch.DisplayName != "somestreamer" || ch.Timezone != "Europe/Berlin" || len(ch.Subscriptions) != 2 {
		t.Fatalf("channel=%+v", ch)
	}
}

func TestSyncSchedules(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2"} {
		if err := st.UpsertChannel(ctx, storage.ChannelInfo{ID: id}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	a := &App{
		log:      logx.Nop(),
		store:    st,
		sched:    scheduler.New(scheduler.Config{}, nil, logx.Nop()),
		settings: reconcileSettings{interval: "1m", timeout: time.Minute},
	}
	// A stale schedule from a channel that no longer exists.
	if _, err := a.sched.AddSchedule(scheduleName("old"), "1m", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("add: %v", err)
	}

	cfg := &config.Config{Channels: []config.ChannelConfig{{ID: "2", Schedule: "*/5 * * * *"}}}
	if err := a.syncSchedules(ctx, cfg); err != nil {
		t.Fatalf("syncSchedules: %v", err)
	}

	names := a.sched.Names()
	sort.Strings(names)
	if strings.Join(names, ",") != "reconcile:1,reconcile:2" {
		t.Fatalf("names=%v", names)
	}
	for _, s := range a.sched.Snapshot().Schedules {
		want := "@every 1m0s"
		if s.Name == "reconcile:2" {
			want = "*/5 * * * *"
		}
		if s.Spec != want || s.Timeout != time.Minute {
			t.Fatalf("%s spec=%q timeout=%v", s.Name, s.Spec, s.Timeout)
		}
	}
}
