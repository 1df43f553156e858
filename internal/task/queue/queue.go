package queue

import (
	"sort"
	"sync"
	"time"

	"arkbot/internal/task/job"
)

// WaitingEntry is a job that is not due yet.
type WaitingEntry struct {
	Due      time.Time
	Seq      uint64
	Priority int
	Job      *job.Job
}

// ActiveEntry is a due job waiting for the worker.
type ActiveEntry struct {
	Priority int
	Due      time.Time
	Seq      uint64
	Job      *job.Job
}

func waitingLess(a, b WaitingEntry) bool {
	if !a.Due.Equal(b.Due) {
		return a.Due.Before(b.Due)
	}
	return a.Seq < b.Seq
}

func activeLess(a, b ActiveEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.Due.Equal(b.Due) {
		return a.Due.Before(b.Due)
	}
	return a.Seq < b.Seq
}

// Waiting orders jobs by due time, then insertion sequence.
type Waiting struct {
	mu  sync.Mutex
	h   minHeap[WaitingEntry]
	seq *Sequencer
}

func NewWaiting(seq *Sequencer) *Waiting {
	if seq == nil {
		seq = &Sequencer{}
	}
	return &Waiting{h: minHeap[WaitingEntry]{less: waitingLess}, seq: seq}
}

// Push inserts the job with a fresh sequence number. A due time in the past
// means "already due".
func (q *Waiting) Push(due time.Time, priority int, j *job.Job) WaitingEntry {
	e := WaitingEntry{Due: due, Seq: q.seq.Next(), Priority: priority, Job: j}
	q.mu.Lock()
	q.h.push(e)
	q.mu.Unlock()
	return e
}

// PeekIfDue returns the earliest entry without removing it, only if it is due.
func (q *Waiting) PeekIfDue(now time.Time) (WaitingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.h.peek()
	if !ok || e.Due.After(now) {
		return WaitingEntry{}, false
	}
	return e, true
}

// Pop removes the earliest entry regardless of due time.
func (q *Waiting) Pop() (WaitingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.pop()
}

// PopIfDue is PeekIfDue followed by Pop under one lock.
func (q *Waiting) PopIfDue(now time.Time) (WaitingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.h.peek()
	if !ok || e.Due.After(now) {
		return WaitingEntry{}, false
	}
	return q.h.pop()
}

// NextDue reports the earliest due time.
func (q *Waiting) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.h.peek()
	return e.Due, ok
}

func (q *Waiting) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Snapshot returns a sorted copy.
func (q *Waiting) Snapshot() []WaitingEntry {
	q.mu.Lock()
	out := q.h.clone()
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return waitingLess(out[i], out[j]) })
	return out
}

// Active orders due jobs by (priority, due, seq).
type Active struct {
	mu sync.Mutex
	h  minHeap[ActiveEntry]
}

func NewActive() *Active {
	return &Active{h: minHeap[ActiveEntry]{less: activeLess}}
}

// Push promotes a waiting entry, keeping its due time and sequence.
func (q *Active) Push(e WaitingEntry) {
	q.mu.Lock()
	q.h.push(ActiveEntry{Priority: e.Priority, Due: e.Due, Seq: e.Seq, Job: e.Job})
	q.mu.Unlock()
}

func (q *Active) Pop() (ActiveEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.pop()
}

func (q *Active) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

func (q *Active) Snapshot() []ActiveEntry {
	q.mu.Lock()
	out := q.h.clone()
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return activeLess(out[i], out[j]) })
	return out
}
