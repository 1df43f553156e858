// Package queue holds the two scheduling heaps: Waiting (ordered by due time)
// and Active (ordered by priority). Every operation takes the queue mutex, so
// snapshots never observe a heap mid-fix.
package queue

import (
	"container/heap"
	"sync/atomic"
)

// minHeap is a typed binary heap on top of container/heap.
type minHeap[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h *minHeap[T]) Len() int           { return len(h.items) }
func (h *minHeap[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *minHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *minHeap[T]) Push(x any)         { h.items = append(h.items, x.(T)) }
func (h *minHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	var zero T
	old[n-1] = zero
	h.items = old[:n-1]
	return it
}

func (h *minHeap[T]) push(v T) { heap.Push(h, v) }

func (h *minHeap[T]) pop() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(h).(T), true
}

func (h *minHeap[T]) peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

func (h *minHeap[T]) clone() []T {
	out := make([]T, len(h.items))
	copy(out, h.items)
	return out
}

// Sequencer hands out strictly increasing tie-break numbers. One Sequencer is
// shared by both queues of a scheduler.
type Sequencer struct{ n atomic.Uint64 }

func (s *Sequencer) Next() uint64 { return s.n.Add(1) }
