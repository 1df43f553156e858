// Package dashboard is the operator surface over Telegram: commands that
// drive the scheduler and station book, and panels that are edited in place
// on a timer.
package dashboard

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"arkbot/internal/activity"
	"arkbot/internal/eventbus"
	"arkbot/internal/stations"
	"arkbot/internal/storage"
	"arkbot/internal/task/job"
	"arkbot/internal/task/scheduler"
	"arkbot/internal/toggle"
	kit "arkbot/internal/transport"
	"arkbot/internal/transport/telegram/router"
	logx "arkbot/pkg/logx"
)

// Scheduler is the part of the scheduler service the dashboard drives.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Status() scheduler.Status
	Snapshot(sel scheduler.QueueSelector) []scheduler.QueueItem
	Recent(n int) []scheduler.RunSummary
	AddTask(j *job.Job) error
	EnqueueMaintenance(reason string, withSideEffect bool) bool
	ResumeParked() []string
	Activity() *activity.Log
}

// Config holds the dashboard knobs. Zero values take the defaults.
type Config struct {
	// Chat receives the panels. A zero ChatID disables panels.
	Chat         kit.ChatTarget
	RefreshEvery time.Duration // default 30s
	PreviewLimit int           // default 15
	LogTail      int           // default 20
	EditsPerMin  int           // default 20
}

func (c Config) withDefaults() Config {
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = 30 * time.Second
	}
	if c.PreviewLimit <= 0 {
		c.PreviewLimit = 15
	}
	if c.LogTail <= 0 {
		c.LogTail = 20
	}
	if c.EditsPerMin <= 0 {
		c.EditsPerMin = 20
	}
	return c
}

// Deps are the collaborators the commands act on. Book, Store, Bus and
// Alerts are optional.
type Deps struct {
	Log       logx.Logger
	Adapter   kit.Adapter
	Scheduler Scheduler
	// Action runs jobs created at runtime (stations, pause).
	Action  job.Action
	Book    *stations.Book
	Toggles *toggle.Overlay
	Store   storage.Store
	Bus     eventbus.Bus
	Alerts  *activity.Alerts
	// StationOptions reports the current per-deployment station knobs.
	StationOptions func() stations.BuildOptions
	// Shutdown asks the process to exit.
	Shutdown func()
	Now      func() time.Time
}

type Dashboard struct {
	Deps
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	base    context.Context
	panels  map[panelKind]*panel
	host    func(ctx context.Context) (hostStats, error)

	kick chan struct{}
}

func New(cfg Config, deps Deps) *Dashboard {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StationOptions == nil {
		deps.StationOptions = func() stations.BuildOptions { return stations.BuildOptions{} }
	}
	cfg = cfg.withDefaults()
	return &Dashboard{
		Deps:    deps,
		log:     deps.Log.With(logx.String("comp", "dashboard")),
		cfg:     cfg,
		limiter: newLimiter(cfg.EditsPerMin),
		base:    context.Background(),
		panels:  map[panelKind]*panel{},
		host:    readHost,
		kick:    make(chan struct{}, 1),
	}
}

func newLimiter(perMin int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 3)
}

// Configure applies new knobs. Moving the panel chat drops the old panel
// messages so they are posted fresh.
func (d *Dashboard) Configure(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	if cfg.Chat != d.cfg.Chat {
		d.panels = map[panelKind]*panel{}
	}
	if cfg.EditsPerMin != d.cfg.EditsPerMin {
		d.limiter = newLimiter(cfg.EditsPerMin)
	}
	d.cfg = cfg
	d.mu.Unlock()
	d.Refresh()
}

func (d *Dashboard) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// baseContext is the app-lifetime context; the scheduler loop started from
// /start must outlive the request.
func (d *Dashboard) baseContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.base
}

// Refresh asks the panel loop to redraw soon.
func (d *Dashboard) Refresh() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Install registers the dashboard commands, buttons and audit middleware.
func (d *Dashboard) Install(r *router.Router) {
	if d.Store != nil {
		r.Use(MWAudit(d.Store, d.log))
	}
	r.Register(d.commands(), d.callbacks())
}

// Run drives the panels until ctx is done. Scheduler events trigger an early
// redraw.
func (d *Dashboard) Run(ctx context.Context) error {
	d.mu.Lock()
	d.base = ctx
	d.mu.Unlock()

	var events <-chan eventbus.Event
	if d.Bus != nil {
		ch, unsubscribe := d.Bus.Subscribe(16,
			eventbus.JobFailed,
			eventbus.JobSkipped,
			eventbus.MaintenanceEnqueued,
			eventbus.MaintenanceCompleted,
			eventbus.SchedulerState,
		)
		defer unsubscribe()
		events = ch
	}

	d.refreshPanels(ctx)
	t := time.NewTicker(d.config().RefreshEvery)
	defer t.Stop()
	every := d.config().RefreshEvery
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-d.kick:
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if e.Type == eventbus.JobFailed {
				if ev, ok := e.Data.(eventbus.JobEvent); ok {
					d.log.Debug("job failed", logx.String("job", ev.Name), logx.String("err", ev.Error))
				}
			}
		}
		if cur := d.config().RefreshEvery; cur != every {
			every = cur
			t.Reset(every)
		}
		d.refreshPanels(ctx)
	}
}
