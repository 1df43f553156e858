// Package app wires the scheduler, controller, Telegram surface and ops
// endpoints into one process and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"arkbot/internal/activity"
	"arkbot/internal/config"
	"arkbot/internal/controller"
	"arkbot/internal/dashboard"
	"arkbot/internal/eventbus"
	"arkbot/internal/notifier"
	"arkbot/internal/observability/ops"
	rtsup "arkbot/internal/runtime/supervisor"
	"arkbot/internal/stations"
	"arkbot/internal/storage"
	"arkbot/internal/task/scheduler"
	"arkbot/internal/toggle"
	kit "arkbot/internal/transport"
	telegram "arkbot/internal/transport/telegram/adapter"
	"arkbot/internal/transport/telegram/router"
	logx "arkbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	adapter  kit.Adapter
	ctrl     controller.Controller
	book     *stations.Book
	toggles  *toggle.Overlay
	alerts   *activity.Alerts
	registry *prometheus.Registry

	sched  *scheduler.Service
	dash   *dashboard.Dashboard
	router *router.Router
	notif  *notifier.Service
	ops    *ops.Service
	sd     sdNotify

	autoStart bool
	reason    atomic.Value // StopReason
	updates   chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging off, set the target, then apply the
	// final config so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID, ok := logTarget(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       eventbus.New(),
		adapter:   ad,
		sd:        sdNotify{log: log.With(logx.String("comp", "systemd"))},
		autoStart: cfg.Scheduler.AutoStart,
		updates:   make(chan kit.Update, 256),
	}
	a.reason.Store(StopUnknown)
	if err := a.build(cfg); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.log

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ctrl, err := controller.New(cfg.Controller, log)
	if err != nil {
		return err
	}
	a.ctrl = ctrl

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := scheduler.NewMetrics(a.registry)
	if err != nil {
		return err
	}

	alertsCfg, err := mapAlertsConfig(cfg)
	if err != nil {
		return err
	}
	a.alerts = activity.NewAlerts(alertsCfg)
	act := activity.New(activity.DefaultCapacity, activity.WithAlerts(a.alerts))

	a.toggles = toggle.NewOverlay(toggle.ConfigSource(a.cfgm))
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(schedCfg,
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithGate(toggle.NewGate(a.toggles, log.With(logx.String("comp", "toggle")))),
		scheduler.WithMaintainer(ctrl),
		scheduler.WithStore(a.store),
		scheduler.WithActivity(act),
		scheduler.WithBus(a.bus),
		scheduler.WithMetrics(metrics),
	)
	loc, err := schedulerLocation(cfg)
	if err != nil {
		return err
	}
	if err := a.sched.SetMaintenanceSchedule(cfg.Scheduler.MaintenanceCron, loc); err != nil {
		return fmt.Errorf("scheduler.maintenance_cron: %w", err)
	}

	if err := a.loadStations(cfg); err != nil {
		return err
	}

	dashCfg, err := mapDashboardConfig(cfg)
	if err != nil {
		return err
	}
	a.dash = dashboard.New(dashCfg, dashboard.Deps{
		Log:       log,
		Adapter:   a.adapter,
		Scheduler: a.sched,
		Action:    ctrl,
		Book:      a.book,
		Toggles:   a.toggles,
		Store:     a.store,
		Bus:       a.bus,
		Alerts:    a.alerts,
		StationOptions: func() stations.BuildOptions {
			return stationOptions(a.cfgm.Get())
		},
		Shutdown: a.requestShutdown,
	})
	a.router = router.New(log.With(logx.String("comp", "router")), a.adapter, cfg.Telegram.OwnerUserIDs)

	notifCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(notifCfg, a.adapter, log, a.bus)

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return err
	}
	a.ops = ops.New(opsCfg, log, ops.WithGatherer(a.registry), ops.WithHealth(a.health))
	return nil
}

// loadStations opens the station book and queues one job per station.
func (a *App) loadStations(cfg *config.Config) error {
	path := strings.TrimSpace(cfg.Stations.File)
	if path == "" {
		a.log.Warn("stations.file is not set; only operator jobs will run")
		return nil
	}
	book, err := stations.Open(path)
	if err != nil {
		return err
	}
	a.book = book

	jobs := stations.BuildJobs(book.File(), stationOptions(cfg), a.ctrl)
	added := 0
	for _, j := range jobs {
		if err := a.sched.AddTask(j); err != nil {
			a.log.Warn("station job rejected", logx.String("job", j.Name), logx.Err(err))
			continue
		}
		added++
	}
	a.log.Info("stations loaded", logx.String("file", path), logx.Int("jobs", added))
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error,
// /shutdown or Stop()).
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

// Reason reports why Done closed when the app stopped itself.
func (a *App) Reason() StopReason {
	if a.Err() != nil {
		return StopFatalError
	}
	return a.reason.Load().(StopReason)
}

func (a *App) requestShutdown() {
	a.reason.Store(StopOperator)
	a.log.Warn("shutdown requested by operator")
	if a.sup != nil {
		a.sup.Cancel()
	}
}

func (a *App) health(ctx context.Context) ops.Health {
	st := a.sched.Status()
	h := ops.Health{
		OK: a.Err() == nil,
		Details: map[string]any{
			"scheduler": map[string]any{
				"running": st.Running,
				"state":   string(st.State),
				"active":  st.Active,
				"waiting": st.Waiting,
				"faults":  st.Faults,
			},
			"controller":     a.ctrl.Name(),
			"events_dropped": a.bus.Dropped(),
		},
	}
	if a.sup != nil {
		workers := map[string]any{}
		for _, s := range a.sup.Snapshot() {
			workers[s.Name] = s
		}
		h.Details["workers"] = workers
	}
	return h
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.dash.Install(a.router)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("dashboard", a.dash.Run)
	a.notif.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	if a.autoStart {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	// Keep this debug-level; job events are frequent.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if e.Type == eventbus.SchedulerState {
					a.sd.status("scheduler %s", a.sched.State())
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return a.sd.watchdog(c, func() bool { return a.Err() == nil })
	})

	a.sd.ready()
	a.sd.status("scheduler %s", a.sched.State())
	a.log.Info("app started", logx.Bool("auto_start", a.autoStart), logx.String("controller", a.ctrl.Name()))
	return nil
}

// applyConfig fans a committed config out to every live component.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}
	for _, s := range []string{"storage", "controller", "stations"} {
		if changed[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for it to take effect")
	}

	if chatID, ok := logTarget(next); ok {
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(next))

	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	if sc, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Reconfigure(sc)
	}
	if loc, err := schedulerLocation(next); err != nil {
		a.log.Warn("invalid scheduler timezone; keeping previous", logx.Err(err))
	} else if err := a.sched.SetMaintenanceSchedule(next.Scheduler.MaintenanceCron, loc); err != nil {
		a.log.Warn("invalid maintenance schedule; keeping previous", logx.Err(err))
	}
	if changed["toggles"] {
		if resumed := a.sched.ResumeParked(); len(resumed) > 0 {
			a.log.Info("parked jobs resumed", logx.String("jobs", strings.Join(resumed, ",")))
		}
	}

	if dc, err := mapDashboardConfig(next); err == nil {
		a.dash.Configure(dc)
	}
	if ac, err := mapAlertsConfig(next); err == nil {
		a.alerts.Configure(ac)
	}
	if nc, err := mapNotifierConfig(next); err == nil {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case wasEnabled && !nc.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && nc.Enabled:
			a.notif.Start(ctx)
		}
	}
	if oc, err := mapOpsConfig(next); err == nil {
		a.ops.Reconfigure(ctx, oc)
	}

	a.bus.Publish(eventbus.Event{
		Type: eventbus.ConfigReloaded,
		Time: time.Now(),
		Data: eventbus.ConfigEvent{Changed: sections},
	})
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()

	a.sup.Cancel()

	// step bounds each shutdown stage so one component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The current job runs to completion; the scheduler step waits for it
	// as long as the caller allows.
	step("scheduler", 30*time.Second, func(c context.Context) error {
		if err := a.sched.Stop(c); !errors.Is(err, scheduler.ErrNotRunning) {
			return err
		}
		return nil
	})
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
