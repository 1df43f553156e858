package dashboard

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arkbot/internal/activity"
	"arkbot/internal/config"
	"arkbot/internal/stations"
	"arkbot/internal/storage"
	"arkbot/internal/task/job"
	"arkbot/internal/task/scheduler"
	"arkbot/internal/toggle"
	kit "arkbot/internal/transport"
	"arkbot/internal/transport/telegram/router"
	logx "arkbot/pkg/logx"
)

type sent struct {
	ref  kit.MessageRef
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	edits   []sent
	editErr error
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(f.sent) + 1}
	f.sent = append(f.sent, sent{ref: ref, text: text, opt: opt})
	return ref, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, sent{ref: ref, text: text, opt: opt})
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

func (f *fakeAdapter) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), len(f.edits)
}

type fixture struct {
	d     *Dashboard
	ad    *fakeAdapter
	sched *scheduler.Service
	now   time.Time
	base  config.Toggles
}

func newFixture(t *testing.T, chat kit.ChatTarget) *fixture {
	t.Helper()
	f := &fixture{
		ad:   &fakeAdapter{},
		now:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		base: config.Toggles{GachaEnabled: true, PegoEnabled: true},
	}
	clock := func() time.Time { return f.now }
	overlay := toggle.NewOverlay(toggle.SourceFunc(func() (config.Toggles, error) { return f.base, nil }))
	alerts := activity.NewAlerts(activity.AlertsConfig{})
	f.sched = scheduler.New(scheduler.Config{PollInterval: 10 * time.Millisecond},
		scheduler.WithClock(clock),
		scheduler.WithGate(toggle.NewGate(overlay, logx.Nop())),
		scheduler.WithActivity(activity.New(100, activity.WithClock(clock), activity.WithAlerts(alerts))),
	)
	book, err := stations.Open(filepath.Join(t.TempDir(), "stations.yaml"))
	require.NoError(t, err)

	f.d = New(Config{Chat: chat, EditsPerMin: 6000}, Deps{
		Log:       logx.Nop(),
		Adapter:   f.ad,
		Scheduler: f.sched,
		Action:    job.ActionFunc(func(context.Context, *job.Job) error { return nil }),
		Book:      book,
		Toggles:   overlay,
		Alerts:    alerts,
		Now:       clock,
	})
	f.d.host = func(context.Context) (hostStats, error) {
		return hostStats{MemUsedPercent: 42, MemTotal: 8 << 30, Load1: 0.5, HasLoad: true}, nil
	}
	return f
}

func (f *fixture) call(t *testing.T, h router.HandlerFunc, args ...string) string {
	t.Helper()
	req := &router.Request{
		Chat:    kit.ChatTarget{ChatID: 1},
		FromID:  42,
		Args:    args,
		Adapter: f.ad,
		Logger:  logx.Nop(),
	}
	require.NoError(t, h(context.Background(), req))
	return f.ad.last()
}

func TestPauseCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})

	assert.Contains(t, f.call(t, f.d.cmdPause), "usage")
	assert.Contains(t, f.call(t, f.d.cmdPause, "abc"), "between 1 and")
	assert.Contains(t, f.call(t, f.d.cmdPause, "999999"), "between 1 and")

	assert.Contains(t, f.call(t, f.d.cmdPause, "300"), "hold for 300s")
	assert.Contains(t, f.call(t, f.d.cmdPause, "10"), "already queued")

	items := f.sched.Snapshot(scheduler.QueueWaiting)
	require.Len(t, items, 1)
	assert.Equal(t, "pause", items[0].Name)
	assert.Equal(t, job.PriorityPause, items[0].Priority)
}

func TestMaintenanceCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})

	assert.Equal(t, "maintenance enqueued", f.call(t, f.d.cmdMaintenance))
	assert.Equal(t, "maintenance is already queued", f.call(t, f.d.cmdMaintenance, "resupply"))
	assert.True(t, f.sched.Status().Watchdog.Enqueued)
}

func TestToggleCommandResumesParked(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})
	f.base.PegoEnabled = false

	require.NoError(t, f.sched.AddTask(stations.PegoJob(stations.Pego{Name: "p1", Teleporter: "tp", Delay: 60}, f.d.Action)))
	require.NoError(t, f.sched.Start(context.Background()))
	require.Eventually(t, func() bool { return len(f.sched.Status().Parked) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.sched.Stop(context.Background()))
	assert.Equal(t, []string{"p1"}, f.sched.Status().Parked)

	out := f.call(t, f.d.cmdToggle)
	assert.Contains(t, out, "pego OFF")

	assert.Equal(t, "pego is now ON; resumed p1", f.call(t, f.d.cmdToggle, "pego", "on"))
	assert.Empty(t, f.sched.Status().Parked)
	assert.Contains(t, f.call(t, f.d.cmdToggle), "pego ON*")

	assert.Equal(t, "gacha is now OFF", f.call(t, f.d.cmdToggle, "gacha"))
	assert.Contains(t, f.call(t, f.d.cmdToggle, "bogus"), "unknown feature")
	assert.Contains(t, f.call(t, f.d.cmdToggle, "pego", "maybe"), "usage")

	assert.Equal(t, "overrides cleared", f.call(t, f.d.cmdToggle, "reset"))
	assert.Empty(t, f.d.Toggles.Overrides())
}

func TestStationCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})

	assert.Contains(t, f.call(t, f.d.cmdAddGacha, "g1", "tp1"), "usage")
	assert.Equal(t, "added new gacha station: g1", f.call(t, f.d.cmdAddGacha, "g1", "tp1", "berry", "left"))
	assert.Contains(t, f.call(t, f.d.cmdAddGacha, "g1", "tp2", "berry", "right"), "not added")

	assert.Contains(t, f.call(t, f.d.cmdAddPego, "p1", "tp3", "0"), "positive")
	assert.Equal(t, "added new pego station: p1", f.call(t, f.d.cmdAddPego, "p1", "tp3", "900"))

	assert.Contains(t, f.call(t, f.d.cmdList(stations.KindGacha)), "g1: teleporter tp1")
	assert.Contains(t, f.call(t, f.d.cmdList(stations.KindPego)), "delay 900s")

	names := []string{}
	for _, it := range f.sched.Snapshot(scheduler.QueueWaiting) {
		names = append(names, it.Name)
	}
	assert.ElementsMatch(t, []string{"g1", "p1"}, names)
}

func TestQueueAndLogCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, f.sched.AddTask(&job.Job{Name: n, Priority: 3, RequeueDelay: time.Minute, Kind: job.Recurring("x", ""), Action: f.d.Action}))
	}

	f.d.Configure(Config{PreviewLimit: 2})
	out := f.call(t, f.d.cmdQueue, "waiting")
	assert.Contains(t, out, "Waiting queue</b> (3)")
	assert.Contains(t, out, "…and 1 more")
	assert.Contains(t, f.call(t, f.d.cmdQueue, "active"), "<i>empty</i>")
	assert.Contains(t, f.call(t, f.d.cmdQueue, "sideways"), "usage")

	out = f.call(t, f.d.cmdLog, "2")
	assert.Contains(t, out, "enqueue c")
	assert.NotContains(t, out, "enqueue a")
	assert.Contains(t, f.call(t, f.d.cmdLog, "-1"), "usage")
}

func TestStatusRendering(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})
	out := f.call(t, f.d.cmdStatus)
	assert.Contains(t, out, "arkbot</b> stopped")
	assert.Contains(t, out, "Maintenance: never")
	assert.Contains(t, out, "gacha ON · pego ON · crafting OFF")
	assert.Contains(t, out, "mem 42% of 8.0 GiB · load 0.50")
}

func TestStartStopCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})
	assert.Equal(t, "scheduler is not running", f.call(t, f.d.cmdStop))
	assert.Equal(t, "scheduler started", f.call(t, f.d.cmdStart))
	assert.Equal(t, "scheduler already running", f.call(t, f.d.cmdStart))
	assert.Equal(t, "scheduler stopped", f.call(t, f.d.cmdStop))
}

func TestShutdownCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})
	assert.Contains(t, f.call(t, f.d.cmdShutdown), "not available")

	called := make(chan struct{}, 1)
	f.d.Shutdown = func() { called <- struct{}{} }
	assert.Contains(t, f.call(t, f.d.cmdShutdown), "shutting down")
	select {
	case <-called:
	default:
		t.Fatal("shutdown not requested")
	}
}

func TestPanelsPostThenEdit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{ChatID: 99})
	ctx := context.Background()

	f.d.refreshPanels(ctx)
	s, e := f.ad.counts()
	assert.Equal(t, len(panelOrder), s)
	assert.Equal(t, 0, e)

	// nothing changed: no traffic
	f.d.refreshPanels(ctx)
	s, e = f.ad.counts()
	assert.Equal(t, len(panelOrder), s)
	assert.Equal(t, 0, e)

	// the clock moves the status footer; a new job changes the waiting panel
	f.now = f.now.Add(time.Minute)
	require.NoError(t, f.sched.AddTask(&job.Job{Name: "g", Priority: 3, Kind: job.Recurring("x", ""), Action: f.d.Action}))
	f.d.refreshPanels(ctx)
	s, e = f.ad.counts()
	assert.Equal(t, len(panelOrder), s)
	assert.Equal(t, 3, e) // status, waiting, log

	// failed edits repost
	f.ad.mu.Lock()
	f.ad.editErr = errors.New("message to edit not found")
	f.ad.mu.Unlock()
	f.now = f.now.Add(time.Minute)
	f.d.refreshPanels(ctx)
	s, _ = f.ad.counts()
	assert.Equal(t, len(panelOrder)+1, s)

	f.ad.mu.Lock()
	for _, m := range f.ad.sent {
		assert.Equal(t, int64(99), m.ref.ChatID)
	}
	statusOpt := f.ad.sent[0].opt
	f.ad.mu.Unlock()
	require.NotNil(t, statusOpt)
	assert.NotEmpty(t, statusOpt.Keyboard)
}

func TestPanelsDisabledWithoutChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kit.ChatTarget{})
	f.d.refreshPanels(context.Background())
	s, e := f.ad.counts()
	assert.Zero(t, s)
	assert.Zero(t, e)
}

type auditStore struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *auditStore) AppendRun(context.Context, storage.RunRecord) error { return nil }
func (a *auditStore) RecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	return nil, nil
}

func (a *auditStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}
func (a *auditStore) Close() error { return nil }

func TestAuditMiddleware(t *testing.T) {
	t.Parallel()
	store := &auditStore{}
	h := router.Chain(func(_ context.Context, req *router.Request) error {
		if req.Command == "toggle" {
			return errors.New("boom")
		}
		return nil
	}, MWAudit(store, logx.Nop()))

	_ = h(context.Background(), &router.Request{Command: "status"})
	_ = h(context.Background(), &router.Request{Command: "pause", Args: []string{"30"}, FromID: 42, FromUsername: "op"})
	err := h(context.Background(), &router.Request{Command: "toggle", Args: []string{"pego", "off"}})
	require.Error(t, err)

	require.Len(t, store.entries, 2)
	assert.Equal(t, "pause", store.entries[0].Action)
	assert.Equal(t, "30", store.entries[0].Target)
	assert.Equal(t, "op", store.entries[0].ActorUsername)
	assert.Equal(t, "boom", store.entries[1].Error)
	assert.True(t, strings.HasPrefix(store.entries[1].Target, "pego"))
}
