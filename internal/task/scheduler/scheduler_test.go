package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arkbot/internal/eventbus"
	"arkbot/internal/task/job"
)

var t0 = time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recorder collects executed job names in order.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) Run(_ context.Context, j *job.Job) error {
	r.mu.Lock()
	r.names = append(r.names, j.Name)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newTestService(clk *fakeClock, cfg Config, opts ...Option) *Service {
	return New(cfg, append([]Option{WithClock(clk.Now)}, opts...)...)
}

func noTimeout() Config { return Config{MaintenanceTimeout: -1} }

func names(items []QueueItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func maintenanceReasons(t *testing.T, bus eventbus.Bus) func() []string {
	t.Helper()
	ch, unsub := bus.Subscribe(64, eventbus.MaintenanceEnqueued)
	t.Cleanup(unsub)
	return func() []string {
		var out []string
		for {
			select {
			case e := <-ch:
				out = append(out, e.Data.(eventbus.MaintenanceEvent).Reason)
			default:
				return out
			}
		}
	}
}

func assertNoDoubleResidency(t *testing.T, s *Service) {
	t.Helper()
	seen := map[string]string{}
	for _, sel := range []QueueSelector{QueueWaiting, QueueActive} {
		for _, it := range s.Snapshot(sel) {
			if prev, ok := seen[it.Name]; ok {
				t.Fatalf("%s present in %s and %s", it.Name, prev, sel)
			}
			seen[it.Name] = sel.String()
		}
	}
}

func TestHigherPriorityRunsFirstAndRequeues(t *testing.T) {
	t.Parallel()
	clk := newClock()
	rec := &recorder{}
	s := newTestService(clk, noTimeout())

	require.NoError(t, s.AddTask(&job.Job{Name: "A", Priority: 2, RequeueDelay: 10 * time.Second, Action: rec}))
	require.NoError(t, s.AddTask(&job.Job{Name: "B", Priority: 1, RequeueDelay: 10 * time.Second, Action: rec}))

	idle := s.step(context.Background())
	require.False(t, idle)
	assert.Equal(t, []string{"B"}, rec.Names())

	assert.Equal(t, []string{"A"}, names(s.Snapshot(QueueActive)))
	waiting := s.Snapshot(QueueWaiting)
	require.Len(t, waiting, 1)
	assert.Equal(t, "B", waiting[0].Name)
	assert.Equal(t, t0.Add(10*time.Second), waiting[0].Due)
	assertNoDoubleResidency(t, s)

	s.step(context.Background())
	assert.Equal(t, []string{"B", "A"}, rec.Names())
	assert.Empty(t, s.Snapshot(QueueActive))
}

func TestDispatchOrderAmongDueJobs(t *testing.T) {
	t.Parallel()
	clk := newClock()
	rec := &recorder{}
	s := newTestService(clk, noTimeout())

	// Same priority: earlier due first, then insertion order.
	for _, j := range []*job.Job{
		{Name: "p5", Priority: 5, OneShot: true},
		{Name: "p3-late", Priority: 3, InitialDelay: 2 * time.Second, OneShot: true},
		{Name: "p3-first", Priority: 3, InitialDelay: time.Second, OneShot: true},
		{Name: "p3-second", Priority: 3, InitialDelay: time.Second, OneShot: true},
		{Name: "p0", Priority: 0, InitialDelay: 2 * time.Second, OneShot: true},
	} {
		j.Action = rec
		require.NoError(t, s.AddTask(j))
	}
	clk.Advance(3 * time.Second)
	for !s.step(context.Background()) {
		assertNoDoubleResidency(t, s)
	}
	assert.Equal(t, []string{"p0", "p3-first", "p3-second", "p3-late", "p5"}, rec.Names())
}

func TestOneShotLeavesQueues(t *testing.T) {
	t.Parallel()
	clk := newClock()
	rec := &recorder{}
	s := newTestService(clk, noTimeout())

	require.NoError(t, s.AddTask(&job.Job{Name: "once", OneShot: true, Action: rec}))
	s.step(context.Background())

	assert.Equal(t, []string{"once"}, rec.Names())
	assert.Empty(t, s.Snapshot(QueueWaiting))
	assert.Empty(t, s.Snapshot(QueueActive))
	assert.True(t, s.step(context.Background()))

	// The name is free again.
	require.NoError(t, s.AddTask(&job.Job{Name: "once", OneShot: true, Action: rec}))
}

func TestPauseIsNeverRequeued(t *testing.T) {
	t.Parallel()
	clk := newClock()
	rec := &recorder{}
	s := newTestService(clk, noTimeout())

	p := job.NewPause(rec)
	require.False(t, p.OneShot)
	require.NoError(t, s.AddTask(p))
	s.step(context.Background())

	assert.Equal(t, []string{job.PauseName}, rec.Names())
	assert.Empty(t, s.Snapshot(QueueWaiting))
	assert.Empty(t, s.Snapshot(QueueActive))
}

func TestInitialDelayOnlyOnFirstScheduling(t *testing.T) {
	t.Parallel()
	clk := newClock()
	rec := &recorder{}
	s := newTestService(clk, noTimeout())

	require.NoError(t, s.AddTask(&job.Job{Name: "j", InitialDelay: 5 * time.Second, RequeueDelay: 100 * time.Second, Action: rec}))
	w := s.Snapshot(QueueWaiting)
	require.Len(t, w, 1)
	assert.Equal(t, t0.Add(5*time.Second), w[0].Due)

	assert.True(t, s.step(context.Background()))
	clk.Advance(5 * time.Second)
	assert.False(t, s.step(context.Background()))

	w = s.Snapshot(QueueWaiting)
	require.Len(t, w, 1)
	assert.Equal(t, t0.Add(105*time.Second), w[0].Due)
}

func groupJob(name, group string, prio int, rec job.Action) *job.Job {
	return &job.Job{
		Name:         name,
		Priority:     prio,
		RequeueDelay: time.Hour,
		Kind:         job.Recurring("f-"+name, group),
		Action:       rec,
	}
}

func TestCycleCompletionEnqueuesOnce(t *testing.T) {
	t.Parallel()

	t.Run("each member once", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		bus := eventbus.New()
		rec := &recorder{}
		s := newTestService(clk, noTimeout(), WithBus(bus))
		reasons := maintenanceReasons(t, bus)

		for i, n := range []string{"C", "A", "B"} {
			require.NoError(t, s.AddTask(groupJob(n, "g", i+2, rec)))
		}
		for range 3 {
			s.step(context.Background())
		}
		assert.Equal(t, []string{ReasonCycleComplete}, reasons())
		assert.True(t, s.Status().Watchdog.Enqueued)
		assert.Equal(t, 1, countName(s.Snapshot(QueueWaiting), maintenanceJobName))
	})

	t.Run("member repeated before cycle ends", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		bus := eventbus.New()
		rec := &recorder{}
		s := newTestService(clk, noTimeout(), WithBus(bus))
		reasons := maintenanceReasons(t, bus)

		a := groupJob("A", "g", 1, rec)
		b := groupJob("B", "g", 2, rec)
		b.RequeueDelay = 0
		c := groupJob("C", "g", 1, rec)
		c.InitialDelay = time.Second
		for _, j := range []*job.Job{a, b, c} {
			require.NoError(t, s.AddTask(j))
		}

		s.step(context.Background()) // A
		s.step(context.Background()) // B
		s.step(context.Background()) // B again
		assert.Empty(t, reasons())
		clk.Advance(time.Second)
		s.step(context.Background()) // C outranks B
		assert.Equal(t, []string{"A", "B", "B", "C"}, rec.Names())
		assert.Equal(t, []string{ReasonCycleComplete}, reasons())

		// Maintenance outranks B and starts a new cycle.
		s.step(context.Background()) // maintenance (priority 0)
		s.step(context.Background()) // B
		assert.Empty(t, reasons())
		assert.False(t, s.Status().Watchdog.Enqueued)
	})
}

func TestDeferredMaintenanceFiresOnCompletion(t *testing.T) {
	t.Parallel()
	clk := newClock()
	bus := eventbus.New()
	rec := &recorder{}
	s := newTestService(clk, Config{MaintenanceTimeout: time.Minute, DeferThreshold: 0.9}, WithBus(bus))
	reasons := maintenanceReasons(t, bus)

	for i := range 20 {
		require.NoError(t, s.AddTask(groupJob(fmt.Sprintf("m%02d", i), "g", 5, rec)))
	}
	for range 18 {
		s.step(context.Background())
	}
	clk.Advance(61 * time.Second)
	s.step(context.Background()) // 19/20 = 95%

	assert.Empty(t, reasons())
	st := s.Status()
	assert.True(t, st.Watchdog.Deferred)
	assert.False(t, st.Watchdog.Enqueued)

	s.step(context.Background()) // last member
	assert.Equal(t, []string{ReasonDeferredComplete}, reasons())
	assert.Len(t, rec.Names(), 20)
}

func TestTimeoutWithoutGroups(t *testing.T) {
	t.Parallel()
	clk := newClock()
	bus := eventbus.New()
	var resupply []bool
	m := MaintainerFunc(func(_ context.Context, r bool) error {
		resupply = append(resupply, r)
		return nil
	})
	s := newTestService(clk, Config{MaintenanceTimeout: 60 * time.Second}, WithBus(bus), WithMaintainer(m))
	reasons := maintenanceReasons(t, bus)

	require.NoError(t, s.AddTask(&job.Job{Name: "x", RequeueDelay: time.Second, InitialDelay: 61 * time.Second}))
	clk.Advance(61 * time.Second)
	s.step(context.Background())

	assert.Equal(t, []string{ReasonTimeout}, reasons())
	s.step(context.Background())
	assert.Equal(t, []bool{false}, resupply)
	assert.False(t, s.ResupplyPending())
	assert.Equal(t, t0.Add(61*time.Second), s.Status().Watchdog.LastMaintenance)
}

func TestDisabledJobSkippedAndCycleStillCompletes(t *testing.T) {
	t.Parallel()
	clk := newClock()
	bus := eventbus.New()
	rec := &recorder{}
	var mu sync.Mutex
	disabled := map[string]bool{"f-B": true}
	gate := GateFunc(func(k job.Kind) bool {
		mu.Lock()
		defer mu.Unlock()
		return !disabled[k.Feature]
	})
	s := newTestService(clk, noTimeout(), WithBus(bus), WithGate(gate))
	reasons := maintenanceReasons(t, bus)

	require.NoError(t, s.AddTask(groupJob("A", "g", 1, rec)))
	require.NoError(t, s.AddTask(groupJob("B", "g", 2, rec)))
	require.NoError(t, s.AddTask(groupJob("C", "g", 3, rec)))

	for range 3 {
		s.step(context.Background())
	}
	assert.Equal(t, []string{"A", "C"}, rec.Names())
	assert.Equal(t, []string{ReasonCycleComplete}, reasons())
	assert.NotContains(t, names(s.Snapshot(QueueWaiting)), "B")
	assert.Equal(t, []string{"B"}, s.Status().Parked)

	assert.Empty(t, s.ResumeParked())
	mu.Lock()
	disabled["f-B"] = false
	mu.Unlock()
	assert.Equal(t, []string{"B"}, s.ResumeParked())
	assert.Contains(t, names(s.Snapshot(QueueWaiting)), "B")
	assert.Empty(t, s.Status().Parked)
}

func TestSkipOfLastPendingJobCompletesCycle(t *testing.T) {
	t.Parallel()
	clk := newClock()
	bus := eventbus.New()
	rec := &recorder{}
	gate := GateFunc(func(k job.Kind) bool { return k.Feature != "f-B" })
	s := newTestService(clk, noTimeout(), WithBus(bus), WithGate(gate))
	reasons := maintenanceReasons(t, bus)

	require.NoError(t, s.AddTask(groupJob("A", "g", 1, rec)))
	require.NoError(t, s.AddTask(groupJob("C", "g", 2, rec)))
	require.NoError(t, s.AddTask(groupJob("B", "g", 3, rec)))

	for range 3 {
		s.step(context.Background())
	}
	assert.Equal(t, []string{"A", "C"}, rec.Names())
	assert.Equal(t, []string{ReasonCycleComplete}, reasons())
	assert.True(t, s.Status().Watchdog.Enqueued)
	assert.Equal(t, 1, countName(s.Snapshot(QueueWaiting), maintenanceJobName))
}

func TestLastMaintenanceZeroUntilFirstRun(t *testing.T) {
	t.Parallel()
	clk := newClock()
	s := newTestService(clk, noTimeout())
	assert.True(t, s.Status().Watchdog.LastMaintenance.IsZero())

	clk.Advance(time.Minute)
	require.True(t, s.EnqueueMaintenance(ReasonOperator, false))
	assert.True(t, s.Status().Watchdog.LastMaintenance.IsZero(), "pending is not done")

	s.step(context.Background())
	assert.Equal(t, t0.Add(time.Minute), s.Status().Watchdog.LastMaintenance)
}

func TestFailedJobCountsAndRequeues(t *testing.T) {
	t.Parallel()
	clk := newClock()
	bus := eventbus.New()
	reasons := maintenanceReasons(t, bus)
	s := newTestService(clk, noTimeout(), WithBus(bus))

	fail := job.ActionFunc(func(_ context.Context, j *job.Job) error { return job.Failf(j, "teleporter not found") })
	boom := job.ActionFunc(func(context.Context, *job.Job) error { panic("boom") })
	require.NoError(t, s.AddTask(&job.Job{Name: "bad", Priority: 1, RequeueDelay: time.Minute, Kind: job.Recurring("x", "g"), Action: fail}))
	require.NoError(t, s.AddTask(&job.Job{Name: "panics", Priority: 2, RequeueDelay: time.Minute, Action: boom}))

	s.step(context.Background()) // bad
	s.step(context.Background()) // maintenance
	s.step(context.Background()) // panics

	st := s.Status()
	assert.EqualValues(t, 3, st.Runs)
	assert.EqualValues(t, 2, st.Failures)
	assert.Equal(t, []string{"bad", "panics"}, names(s.Snapshot(QueueWaiting)))
	assert.Equal(t, []string{ReasonCycleComplete}, reasons())

	lines := s.Activity().TailLines(s.Activity().Len())
	assert.True(t, containsPrefix(lines, "failed action failed (bad): teleporter not found"))
	recent := s.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "panics", recent[0].Name)
	assert.Contains(t, recent[0].Error, "panic: boom")
}

func TestMaintenanceArmsResupplyForNextGacha(t *testing.T) {
	t.Parallel()
	clk := newClock()
	var got []bool
	gacha := job.ActionFunc(func(ctx context.Context, _ *job.Job) error {
		got = append(got, job.ResupplyRequested(ctx))
		return nil
	})
	s := newTestService(clk, noTimeout())

	g := &job.Job{Name: "g1", Priority: job.PriorityGacha, RequeueDelay: time.Minute, Kind: job.Recurring(job.FeatureGacha, job.GroupGacha), Action: gacha}
	require.NoError(t, s.AddTask(g))

	s.step(context.Background()) // g1, completes the cycle
	require.True(t, s.Status().Watchdog.Enqueued)
	s.step(context.Background()) // maintenance with side effect
	assert.True(t, s.ResupplyPending())

	clk.Advance(time.Minute)
	s.step(context.Background())
	assert.Equal(t, []bool{false, true}, got)
	assert.False(t, s.ResupplyPending())
}

func TestEnqueueMaintenanceDeduplicates(t *testing.T) {
	t.Parallel()
	s := newTestService(newClock(), noTimeout())

	assert.True(t, s.EnqueueMaintenance(ReasonOperator, false))
	assert.False(t, s.EnqueueMaintenance(ReasonOperator, true))
	assert.Equal(t, 1, countName(s.Snapshot(QueueWaiting), maintenanceJobName))

	s.step(context.Background())
	assert.True(t, s.EnqueueMaintenance(ReasonOperator, false))
}

func TestAddTaskRejectsDuplicatesAndInvalid(t *testing.T) {
	t.Parallel()
	s := newTestService(newClock(), noTimeout())

	require.NoError(t, s.AddTask(&job.Job{Name: "a"}))
	require.ErrorIs(t, s.AddTask(&job.Job{Name: "a"}), ErrDuplicate)
	require.ErrorIs(t, s.AddTask(&job.Job{}), ErrInvalidJob)
	require.ErrorIs(t, s.AddTask(nil), ErrInvalidJob)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	s := newTestService(newClock(), noTimeout())
	require.NoError(t, s.AddTask(&job.Job{Name: "a", InitialDelay: time.Second}))

	snap := s.Snapshot(QueueWaiting)
	snap[0].Name = "mutated"
	require.NoError(t, s.AddTask(&job.Job{Name: "b"}))

	assert.Len(t, snap, 1)
	assert.Equal(t, []string{"b", "a"}, names(s.Snapshot(QueueWaiting)))
}

func TestSafeStepRecoversLoopFault(t *testing.T) {
	t.Parallel()
	s := newTestService(newClock(), noTimeout(), WithGate(GateFunc(func(job.Kind) bool { panic("gate exploded") })))
	require.NoError(t, s.AddTask(&job.Job{Name: "a", Kind: job.Recurring("x", "")}))

	_, err := s.safeStep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate exploded")
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{PollInterval: 10 * time.Millisecond, MaintenanceTimeout: -1})

	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddTask(&job.Job{Name: "tick", OneShot: true, Action: job.ActionFunc(func(context.Context, *job.Job) error {
		ran <- struct{}{}
		return nil
	})}))

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrRunning)
	assert.True(t, s.Running())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.Running())
	require.ErrorIs(t, s.Stop(ctx), ErrNotRunning)

	require.Eventually(t, func() bool { return s.Start(context.Background()) == nil }, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(ctx))
}

func TestLoopExitOnParentCancelClearsRunning(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	states, unsub := bus.Subscribe(8, eventbus.SchedulerState)
	defer unsub()
	s := New(Config{PollInterval: 10 * time.Millisecond, MaintenanceTimeout: -1}, WithBus(bus))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.True(t, s.Running())
	cancel()

	require.Eventually(t, func() bool { return !s.Running() && !s.Status().Running }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateStopped, s.State())
	require.ErrorIs(t, s.Stop(context.Background()), ErrNotRunning)

	var last eventbus.StateEvent
	for len(states) > 0 {
		last = (<-states).Data.(eventbus.StateEvent)
	}
	assert.False(t, last.Running)

	require.Eventually(t, func() bool { return s.Start(context.Background()) == nil }, time.Second, 10*time.Millisecond)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestScheduledMaintenanceFires(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, eventbus.MaintenanceEnqueued)
	defer unsub()

	release := make(chan struct{})
	started := make(chan bool, 4)
	maint := MaintainerFunc(func(ctx context.Context, resupply bool) error {
		started <- resupply
		<-release
		return nil
	})
	s := New(Config{PollInterval: 10 * time.Millisecond, MaintenanceTimeout: -1}, WithBus(bus), WithMaintainer(maint))
	require.NoError(t, s.SetMaintenanceSchedule("@every 1s", time.UTC))
	require.NoError(t, s.Start(context.Background()))

	select {
	case e := <-events:
		ev := e.Data.(eventbus.MaintenanceEvent)
		assert.Equal(t, ReasonScheduled, ev.Reason)
		assert.False(t, ev.SideEffect)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled maintenance never enqueued")
	}
	select {
	case resupply := <-started:
		assert.False(t, resupply)
	case <-time.After(2 * time.Second):
		t.Fatal("maintenance did not start")
	}

	// further ticks land while the first maintenance is still executing
	time.Sleep(2200 * time.Millisecond)
	assert.Empty(t, events)
	assert.True(t, s.Status().Watchdog.Enqueued)

	close(release)
	require.Eventually(t, func() bool { return !s.Status().Watchdog.LastMaintenance.IsZero() }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.ResupplyPending())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestMaintenanceScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	require.Error(t, s.SetMaintenanceSchedule("whenever", nil))
	require.NoError(t, s.SetMaintenanceSchedule("6h", time.UTC))
	require.NoError(t, s.SetMaintenanceSchedule("", nil))
}

func countName(items []QueueItem, name string) int {
	n := 0
	for _, it := range items {
		if it.Name == name {
			n++
		}
	}
	return n
}

func containsPrefix(lines []string, sub string) bool {
	for _, l := range lines {
		// Lines are "HH:MM:SS msg".
		if len(l) > 9 && len(l[9:]) >= len(sub) && l[9:9+len(sub)] == sub {
			return true
		}
	}
	return false
}
