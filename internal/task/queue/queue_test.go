package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arkbot/internal/task/job"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func mk(name string, prio int) *job.Job { return &job.Job{Name: name, Priority: prio} }

func TestWaitingOrdersByDueThenSeq(t *testing.T) {
	t.Parallel()

	q := NewWaiting(nil)
	q.Push(t0.Add(10*time.Second), 1, mk("late", 1))
	q.Push(t0, 9, mk("first", 9))
	q.Push(t0, 1, mk("second", 1))

	var got []string
	for {
		e, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, e.Job.Name)
	}
	assert.Equal(t, []string{"first", "second", "late"}, got)
}

func TestWaitingPeekIfDue(t *testing.T) {
	t.Parallel()

	q := NewWaiting(nil)
	_, ok := q.PeekIfDue(t0)
	assert.False(t, ok, "empty queue")

	q.Push(t0.Add(time.Minute), 1, mk("a", 1))
	_, ok = q.PeekIfDue(t0)
	assert.False(t, ok, "not due yet")

	e, ok := q.PeekIfDue(t0.Add(time.Minute))
	require.True(t, ok, "due exactly at now")
	assert.Equal(t, "a", e.Job.Name)
	assert.Equal(t, 1, q.Len(), "peek does not remove")

	_, ok = q.PopIfDue(t0)
	assert.False(t, ok)
	e, ok = q.PopIfDue(t0.Add(2 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, "a", e.Job.Name)
	assert.Equal(t, 0, q.Len())
}

func TestActiveOrdersByPriorityDueSeq(t *testing.T) {
	t.Parallel()

	seq := &Sequencer{}
	w := NewWaiting(seq)
	a := NewActive()

	entries := []WaitingEntry{
		w.Push(t0.Add(2*time.Second), 2, mk("p2-late", 2)),
		w.Push(t0, 2, mk("p2-early", 2)),
		w.Push(t0, 1, mk("p1", 1)),
		w.Push(t0, 2, mk("p2-early-b", 2)),
		w.Push(t0, 8, mk("render", 8)),
	}
	for _, e := range entries {
		a.Push(e)
	}

	snap := a.Snapshot()
	require.Len(t, snap, 5)

	var got []string
	for {
		e, ok := a.Pop()
		if !ok {
			break
		}
		got = append(got, e.Job.Name)
	}
	want := []string{"p1", "p2-early", "p2-early-b", "p2-late", "render"}
	assert.Equal(t, want, got)
	for i, e := range snap {
		assert.Equal(t, want[i], e.Job.Name, "snapshot is sorted")
	}
}

func TestSequenceSharedAndIncreasing(t *testing.T) {
	t.Parallel()

	seq := &Sequencer{}
	w := NewWaiting(seq)
	a := w.Push(t0, 1, mk("a", 1))
	b := w.Push(t0, 1, mk("b", 1))
	c := seq.Next()
	assert.Less(t, a.Seq, b.Seq)
	assert.Less(t, b.Seq, c)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	w := NewWaiting(nil)
	w.Push(t0, 1, mk("a", 1))
	snap := w.Snapshot()
	w.Push(t0.Add(-time.Second), 1, mk("b", 1))
	_, _ = w.Pop()

	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].Job.Name)
}

func TestConcurrentSnapshots(t *testing.T) {
	t.Parallel()

	w := NewWaiting(nil)
	a := NewActive()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			w.Push(t0.Add(time.Duration(i%7)*time.Second), i%5, mk(fmt.Sprintf("j%d", i), i%5))
			if e, ok := w.PopIfDue(t0.Add(10 * time.Second)); ok {
				a.Push(e)
			}
			_, _ = a.Pop()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			ws := w.Snapshot()
			for k := 1; k < len(ws); k++ {
				if waitingLess(ws[k], ws[k-1]) {
					t.Errorf("waiting snapshot out of order at %d", k)
					return
				}
			}
			_ = a.Snapshot()
		}
	}()
	wg.Wait()
}
