package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"arkbot/internal/activity"
	"arkbot/internal/eventbus"
	"arkbot/internal/runtime/supervisor"
	"arkbot/internal/storage"
	"arkbot/internal/task/job"
	"arkbot/internal/task/queue"
	logx "arkbot/pkg/logx"
)

// Gate reports whether a job kind may run right now. It is consulted on
// every dispatch.
type Gate interface {
	Enabled(k job.Kind) bool
}

type GateFunc func(k job.Kind) bool

func (f GateFunc) Enabled(k job.Kind) bool { return f(k) }

// Service owns both queues, the cycle tracker and the watchdog. Only the
// dispatch goroutine executes jobs; every other method is safe for
// concurrent use.
type Service struct {
	log      logx.Logger
	now      func() time.Time
	gate     Gate
	maint    Maintainer
	store    storage.Store
	activity *activity.Log
	bus      eventbus.Bus
	metrics  *Metrics

	seq      queue.Sequencer
	waiting  *queue.Waiting
	active   *queue.Active
	tracker  *CycleTracker
	watchdog *Watchdog

	resupply atomic.Bool
	stopping atomic.Bool
	looping  atomic.Bool  // a loop goroutine exists, possibly still draining after Stop
	state    atomic.Value // State
	wake     chan struct{}

	runs     atomic.Uint64
	failures atomic.Uint64
	faults   atomic.Uint64

	mu           sync.Mutex
	cfg          Config
	resident     map[string]struct{}
	parked       map[string]*job.Job
	current      string
	currentSince time.Time
	lastExecuted string
	history      []RunSummary
	sup          *supervisor.Supervisor
	cron         *cron.Cron
	cronSpec     string
	cronLoc      *time.Location
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithGate(g Gate) Option { return func(s *Service) { s.gate = g } }

func WithMaintainer(m Maintainer) Option { return func(s *Service) { s.maint = m } }

// WithStore persists one record per dispatch. Write errors are logged only.
func WithStore(st storage.Store) Option { return func(s *Service) { s.store = st } }

func WithActivity(l *activity.Log) Option { return func(s *Service) { s.activity = l } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		log:      logx.Nop(),
		now:      time.Now,
		cfg:      cfg.withDefaults(),
		tracker:  NewCycleTracker(),
		wake:     make(chan struct{}, 1),
		resident: map[string]struct{}{},
		parked:   map[string]*job.Job{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.activity == nil {
		s.activity = activity.New(activity.DefaultCapacity, activity.WithClock(s.now))
	}
	s.waiting = queue.NewWaiting(&s.seq)
	s.active = queue.NewActive()
	s.watchdog = NewWatchdog(s.cfg.MaintenanceTimeout, s.cfg.DeferThreshold, s.now())
	s.state.Store(StateStopped)
	return s
}

// Reconfigure applies new loop and watchdog settings without touching queue
// state.
func (s *Service) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.watchdog.Configure(cfg.MaintenanceTimeout, cfg.DeferThreshold)
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Activity returns the rolling log the scheduler writes to.
func (s *Service) Activity() *activity.Log { return s.activity }

// AddTask schedules j at now + NextDelay (the initial delay on first
// scheduling). A job is tracked in its cycle group from this point on.
func (s *Service) AddTask(j *job.Job) error {
	if j == nil || j.Name == "" {
		return ErrInvalidJob
	}
	if err := s.claim(j); err != nil {
		return err
	}
	due := s.now().Add(j.NextDelay())
	j.MarkScheduled()
	s.push(due, j)
	s.tracker.Track(j.Kind.Group, j.Name)
	return nil
}

func (s *Service) claim(j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.resident[j.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, j.Name)
	}
	s.resident[j.Name] = struct{}{}
	delete(s.parked, j.Name)
	return nil
}

func (s *Service) release(name string) {
	s.mu.Lock()
	delete(s.resident, name)
	s.mu.Unlock()
}

func (s *Service) push(due time.Time, j *job.Job) {
	s.waiting.Push(due, j.Priority, j)
	s.activity.Add(fmt.Sprintf("enqueue %s (p%d) due %s", j.Name, j.Priority, due.Format("15:04:05")))
	s.metrics.observeQueues(s.waiting.Len(), s.active.Len())
	s.kick()
}

// kick wakes an idle loop early.
func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// EnqueueMaintenance injects a one-shot maintenance job due now. It returns
// false when a maintenance job is already pending or executing.
func (s *Service) EnqueueMaintenance(reason string, withSideEffect bool) bool {
	if !s.watchdog.TryMarkEnqueued() {
		return false
	}
	j := NewMaintenanceJob(reason, withSideEffect, s.maint, func() { s.resupply.Store(true) })
	s.mu.Lock()
	s.resident[j.Name] = struct{}{}
	s.mu.Unlock()

	s.log.Info("maintenance enqueued", logx.String("reason", reason), logx.Bool("resupply", withSideEffect))
	s.activity.Add("maintenance enqueued: " + reason)
	s.metrics.observeMaintenance(reason)
	s.publish(eventbus.MaintenanceEnqueued, eventbus.MaintenanceEvent{Reason: reason, SideEffect: withSideEffect})
	s.push(s.now(), j)
	return true
}

// ResupplyPending reports whether the next gacha run will restock first.
func (s *Service) ResupplyPending() bool { return s.resupply.Load() }

// ConsumeResupply clears the resupply flag and reports whether it was set.
func (s *Service) ConsumeResupply() bool { return s.resupply.Swap(false) }

// ResumeParked re-adds jobs that were skipped while disabled and whose gate
// is open again. They are due immediately.
func (s *Service) ResumeParked() []string {
	s.mu.Lock()
	var ready []*job.Job
	for name, j := range s.parked {
		if s.gate == nil || s.gate.Enabled(j.Kind) {
			ready = append(ready, j)
			delete(s.parked, name)
		}
	}
	s.mu.Unlock()

	sort.Slice(ready, func(a, b int) bool { return ready[a].Name < ready[b].Name })
	names := make([]string, 0, len(ready))
	now := s.now()
	for _, j := range ready {
		if err := s.claim(j); err != nil {
			continue
		}
		s.tracker.Track(j.Kind.Group, j.Name)
		s.push(now, j)
		names = append(names, j.Name)
	}
	if len(names) > 0 {
		s.log.Info("parked jobs resumed", logx.Int("count", len(names)))
	}
	return names
}

// Start launches the dispatch loop and, if configured, the maintenance cron.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sup != nil || s.looping.Load() {
		s.mu.Unlock()
		return ErrRunning
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup = sup
	s.stopping.Store(false)
	s.looping.Store(true)
	if s.cronSpec != "" {
		s.startCronLocked()
	}
	s.mu.Unlock()

	sup.Go("scheduler.loop", func(ctx context.Context) error {
		defer s.detach(sup)
		return s.run(ctx)
	})
	s.log.Info("scheduler started")
	s.activity.Add("scheduler started")
	s.publish(eventbus.SchedulerState, eventbus.StateEvent{Running: true})
	return nil
}

// Stop sets the stop flag and waits for the loop to exit. A job that is
// executing runs to completion first; ctx bounds the wait.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if sup == nil {
		return ErrNotRunning
	}

	s.stopping.Store(true)
	if c != nil {
		<-c.Stop().Done()
	}
	err := sup.Stop(ctx)
	s.state.Store(StateStopped)
	s.log.Info("scheduler stopped", logx.Err(err))
	s.activity.Add("scheduler stopped")
	s.publish(eventbus.SchedulerState, eventbus.StateEvent{Running: false})
	return err
}

// detach clears the running state when the loop exits without Stop, e.g.
// because the parent context was cancelled.
func (s *Service) detach(sup *supervisor.Supervisor) {
	s.mu.Lock()
	if s.sup != sup {
		s.mu.Unlock()
		return
	}
	s.sup = nil
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	s.state.Store(StateStopped)
	s.log.Warn("scheduler loop exited without stop")
	s.activity.Add("scheduler stopped")
	s.publish(eventbus.SchedulerState, eventbus.StateEvent{Running: false})
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

func (s *Service) State() State {
	st, _ := s.state.Load().(State)
	return st
}

// Current returns the name of the executing job, if any.
func (s *Service) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
