package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCycleTrackerComplete(t *testing.T) {
	t.Parallel()
	c := NewCycleTracker()
	assert.False(t, c.Complete(), "no groups")

	c.Track("gacha", "g1")
	c.Track("gacha", "g2")
	assert.False(t, c.Complete())

	c.MarkDone("gacha", "g1")
	c.MarkDone("gacha", "g2")
	assert.True(t, c.Complete(), "pego group is empty, gacha is done")

	c.Track("pego", "p1")
	assert.False(t, c.Complete())
	c.MarkDone("pego", "p1")
	assert.True(t, c.Complete())

	done, total := c.Progress()
	assert.Equal(t, 3, done)
	assert.Equal(t, 3, total)

	c.Reset()
	done, total = c.Progress()
	assert.Equal(t, 0, done)
	assert.Equal(t, 3, total)
	assert.Equal(t, []GroupProgress{{Group: "gacha", Total: 2}, {Group: "pego", Total: 1}}, c.Snapshot())
}

func TestCycleTrackerForget(t *testing.T) {
	t.Parallel()
	c := NewCycleTracker()
	c.Track("g", "a")
	c.Track("g", "b")
	c.MarkDone("g", "a")
	c.Forget("b")
	assert.True(t, c.Complete())

	c.Forget("a")
	assert.False(t, c.Complete(), "every group is empty again")
}

func TestWatchdogRules(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := start.Add(2 * time.Hour)

	tests := []struct {
		name     string
		deferred bool
		now      time.Time
		complete bool
		done     int
		total    int
		want     Decision
	}{
		{name: "idle", now: start.Add(time.Minute), done: 1, total: 4},
		{name: "complete", now: start, complete: true, done: 4, total: 4,
			want: Decision{Enqueue: true, Reason: ReasonCycleComplete, SideEffect: true}},
		{name: "deferred then complete", deferred: true, now: late, complete: true, done: 4, total: 4,
			want: Decision{Enqueue: true, Reason: ReasonDeferredComplete, SideEffect: true}},
		{name: "timeout low progress", now: late, done: 1, total: 4,
			want: Decision{Enqueue: true, Reason: ReasonTimeout}},
		{name: "timeout no groups", now: late,
			want: Decision{Enqueue: true, Reason: ReasonTimeout}},
		{name: "timeout near done defers", now: late, done: 19, total: 20,
			want: Decision{Deferred: true}},
		{name: "already deferred stays quiet", deferred: true, now: late, done: 19, total: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWatchdog(time.Hour, 0.9, start)
			w.deferred = tt.deferred
			assert.Equal(t, tt.want, w.Evaluate(tt.now, tt.complete, tt.done, tt.total))
		})
	}
}

func TestWatchdogEpisode(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWatchdog(time.Hour, 0.9, start)
	assert.True(t, w.State().LastMaintenance.IsZero())
	assert.Equal(t, Decision{Enqueue: true, Reason: ReasonTimeout}, w.Evaluate(start.Add(time.Hour), false, 0, 2), "timeout counts from start")

	assert.True(t, w.TryMarkEnqueued())
	assert.False(t, w.TryMarkEnqueued())
	assert.Equal(t, Decision{}, w.Evaluate(start, true, 1, 1), "nothing while one is pending")

	w.Completed(start.Add(time.Minute))
	st := w.State()
	assert.False(t, st.Enqueued)
	assert.False(t, st.Deferred)
	assert.Equal(t, start.Add(time.Minute), st.LastMaintenance)
}
