package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"streamwatch/internal/announce"
	"streamwatch/internal/config"
	"streamwatch/internal/eventbus"
	"streamwatch/internal/events"
	"streamwatch/internal/metrics"
	"streamwatch/internal/monitor"
	"streamwatch/internal/runtime/supervisor"
	"streamwatch/internal/storage"
	"streamwatch/internal/task/engine"
	"streamwatch/internal/task/scheduler"
	telegram "streamwatch/internal/transport/telegram/adapter"
	"streamwatch/internal/twitch"
	logx "streamwatch/pkg/logx"
	"streamwatch/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	probe   *twitch.Client
	rec     *monitor.Reconciler

	settings reconcileSettings

	engine     *engine.Service
	sched      *scheduler.Service
	metrics    *metrics.Metrics
	metricsSrv *metrics.Server
	pub        *events.Publisher
}

// NewApp loads and validates the config and builds every component.
// Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(cfgPath); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a := &App{cfgPath: cfgPath, cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app"))}
	if err := a.build(cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return err
	}
	ad, err := telegram.New(tc, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.adapter = ad
	// Chat logging goes through the adapter once it is up.
	a.logs.SetSender(ad)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.store, err = storage.Open(openCtx, sc, log); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.log.Info("storage enabled", logx.String("driver", sc.Driver))

	twc, err := mapTwitchConfig(cfg)
	if err != nil {
		return err
	}
	if a.probe, err = twitch.New(twc, log.With(logx.String("comp", "twitch"))); err != nil {
		return err
	}

	if a.settings, err = mapReconcileConfig(cfg); err != nil {
		return err
	}
	a.rec = monitor.NewReconciler(a.settings.monitor, monitor.Deps{
		Store:    a.store,
		Probe:    a.probe,
		Platform: ad,
		Renderer: announce.New(a.settings.render),
		Log:      log.With(logx.String("comp", "reconciler")),
	})

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")))
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, log.With(logx.String("comp", "scheduler")))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(reg)
	metrics.RegisterEngine(reg, a.engine.Snapshot)
	a.metricsSrv = metrics.NewServer(mapMetricsConfig(cfg), reg, log.With(logx.String("comp", "metrics")))
	a.metricsSrv.HandleStatus("/jobs", jobsStatus(a.sched))
	a.metricsSrv.HandleStatus("/latency", latencyStatus(a.adapter, a.probe, time.Now))

	a.bus = eventbus.New()
	kc, enabled, err := mapKafkaConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		if a.pub, err = events.New(kc, log.With(logx.String("comp", "events"))); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return config.Validate(cfg) })

	cfg := a.cfgm.Get()
	if err := seedChannels(runCtx, a.store, cfg.Channels, a.log); err != nil {
		return err
	}

	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if err := a.syncSchedules(runCtx, cfg); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	} else {
		a.log.Warn("scheduler disabled; channels are only reconciled on demand")
	}
	if a.metricsSrv.Enabled() {
		a.metricsSrv.Start(runCtx)
	}
	if a.pub != nil {
		// Publishing failures are logged inside Run; the loop only ends with ctx.
		a.sup.Go("events.kafka", func(c context.Context) error { return a.pub.Run(c, a.bus) })
	}

	evs, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-evs:
				if !ok {
					return
				}
				a.log.Info("lifecycle event",
					logx.String("type", e.Type),
					logx.String("channel", e.Data.ChannelID),
					logx.String("activity", e.Data.Activity),
				)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
		return nil
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.Int("schedules", len(a.sched.Names())),
		logx.Bool("metrics", a.metricsSrv.Enabled()),
		logx.Bool("kafka", a.pub != nil),
	)
	return nil
}

// reloadLoop applies config updates: logging, scheduler and channels live;
// everything else is reported as requiring a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// Coalesce bursts: keep only the latest config.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}

		sections, attrs, changedChannels := config.SummarizeConfigChange(lastApplied, newCfg)
		lastApplied = newCfg
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}

		for _, s := range sections {
			switch s {
			case "logging":
				a.logs.Apply(mapLoggingConfig(newCfg))
				if newCfg.Logging.Telegram.Enabled {
					a.adapter.SetLogTarget(newCfg.Logging.Telegram.ChatID, newCfg.Logging.Telegram.ThreadID)
				} else {
					a.adapter.SetLogTarget(0, 0)
				}
			case "scheduler":
				a.applyScheduler(ctx, newCfg)
			case "channels":
				if err := seedChannels(ctx, a.store, newCfg.Channels, a.log); err != nil {
					a.log.Warn("channel reseed failed", logx.Err(err))
					break
				}
				if err := a.syncSchedules(ctx, newCfg); err != nil {
					a.log.Warn("schedule sync failed", logx.Err(err))
				}
				a.log.Debug("channel changes applied", logx.Any("channels", changedChannels))
			default:
				if config.RequiresRestart(s) {
					a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
				}
			}
		}

		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	}
}

func (a *App) applyScheduler(ctx context.Context, cfg *config.Config) {
	prev := a.sched.Enabled()
	next := mapSchedulerConfig(cfg)
	a.sched.Apply(next)
	switch {
	case prev && !next.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prev && next.Enabled:
		a.log.Info("scheduler enabled via config")
		if !a.engine.Enabled() {
			a.log.Warn("task engine disabled; triggers will be rejected until restart")
		}
		a.sched.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "events", 2*time.Second, func(context.Context) error { return a.pub.Close() })
	a.step(ctx, "metrics", 1*time.Second, func(c context.Context) error { a.metricsSrv.Stop(c); return nil })
	a.step(ctx, "storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event loops).
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() {
	if a.pub != nil {
		_ = a.pub.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
