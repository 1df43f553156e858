package activity

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLogEvictsOldest(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Date(2026, 5, 1, 13, 4, 5, 0, time.UTC)}
	l := New(3, WithClock(clk.Now))
	for i := 1; i <= 5; i++ {
		l.Add(fmt.Sprintf("msg %d", i))
	}

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []string{"13:04:05 msg 3", "13:04:05 msg 4", "13:04:05 msg 5"}, l.TailLines(10))
	assert.Equal(t, []string{"13:04:05 msg 5"}, l.TailLines(1))
	assert.Nil(t, l.Tail(0))
}

func TestLogDefaultCapacityAndBlankLines(t *testing.T) {
	t.Parallel()

	l := New(0)
	assert.Equal(t, DefaultCapacity, l.Cap())
	l.Add("   ")
	assert.Equal(t, 0, l.Len())
}

func TestAlertsDedupWithinWindow(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	a := NewAlerts(AlertsConfig{Window: 2 * time.Minute})
	l := New(10, WithClock(clk.Now), WithAlerts(a))

	l.Error("failed -> gacha-1: teleporter 12 missing")
	clk.Advance(30 * time.Second)
	l.Error("failed -> gacha-1: teleporter 13 missing")
	l.Add("completed -> pego-1")

	snap := a.Snapshot()
	require.Len(t, snap, 1, "info lines are not alerts; digits are normalized")
	assert.Equal(t, 2, snap[0].Count)
	assert.Contains(t, a.Render(), "x2")

	clk.Advance(5 * time.Minute)
	l.Error("failed -> gacha-1: teleporter 14 missing")
	assert.Len(t, a.Snapshot(), 2, "outside the window a new entry starts")
}

func TestAlertsBoundedAndRenderLimit(t *testing.T) {
	t.Parallel()

	a := NewAlerts(AlertsConfig{MaxEntries: 3, MaxChars: 80})
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, w := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		a.Observe(Entry{Time: base.Add(time.Duration(i) * time.Second), Level: LevelWarn, Msg: "warn " + w})
	}
	snap := a.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "warn charlie", snap[0].Msg)

	out := a.Render()
	assert.LessOrEqual(t, len(out), 80)
	assert.True(t, strings.Contains(out, "warn echo"), "newest first")

	v := a.Version()
	a.Clear()
	assert.Greater(t, a.Version(), v)
	assert.Equal(t, "No alerts.", a.Render())
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Normalize("Failed  42 at 10:22"), Normalize("failed 7 at 11:01"))
}
