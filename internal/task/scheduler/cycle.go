package scheduler

import (
	"sort"
	"sync"
)

// GroupProgress is a read-only view of one cycle group.
type GroupProgress struct {
	Group string `json:"group"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

type groupSets struct {
	seen map[string]struct{}
	done map[string]struct{}
}

// CycleTracker records which members of each group ran since the last
// maintenance pass. done is always a subset of seen.
type CycleTracker struct {
	mu     sync.Mutex
	groups map[string]*groupSets
}

func NewCycleTracker() *CycleTracker {
	return &CycleTracker{groups: map[string]*groupSets{}}
}

func (c *CycleTracker) group(g string) *groupSets {
	gs := c.groups[g]
	if gs == nil {
		gs = &groupSets{seen: map[string]struct{}{}, done: map[string]struct{}{}}
		c.groups[g] = gs
	}
	return gs
}

// Track adds name to the seen set of group g. Empty groups are ignored.
func (c *CycleTracker) Track(g, name string) {
	if g == "" || name == "" {
		return
	}
	c.mu.Lock()
	c.group(g).seen[name] = struct{}{}
	c.mu.Unlock()
}

// MarkDone records a run. A name that was never tracked (or was forgotten)
// is tracked again first.
func (c *CycleTracker) MarkDone(g, name string) {
	if g == "" || name == "" {
		return
	}
	c.mu.Lock()
	gs := c.group(g)
	gs.seen[name] = struct{}{}
	gs.done[name] = struct{}{}
	c.mu.Unlock()
}

// Forget removes name from every group, so a disabled job does not hold the
// cycle open.
func (c *CycleTracker) Forget(name string) {
	c.mu.Lock()
	for _, gs := range c.groups {
		delete(gs.seen, name)
		delete(gs.done, name)
	}
	c.mu.Unlock()
}

// Reset clears the done sets; membership is kept.
func (c *CycleTracker) Reset() {
	c.mu.Lock()
	for _, gs := range c.groups {
		clear(gs.done)
	}
	c.mu.Unlock()
}

// Complete is true when at least one group has members and every group with
// members has run all of them.
func (c *CycleTracker) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonEmpty := 0
	for _, gs := range c.groups {
		if len(gs.seen) == 0 {
			continue
		}
		nonEmpty++
		for name := range gs.seen {
			if _, ok := gs.done[name]; !ok {
				return false
			}
		}
	}
	return nonEmpty > 0
}

// Progress sums done and seen counts across groups.
func (c *CycleTracker) Progress() (done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, gs := range c.groups {
		done += len(gs.done)
		total += len(gs.seen)
	}
	return done, total
}

func (c *CycleTracker) Snapshot() []GroupProgress {
	c.mu.Lock()
	out := make([]GroupProgress, 0, len(c.groups))
	for g, gs := range c.groups {
		if len(gs.seen) == 0 {
			continue
		}
		out = append(out, GroupProgress{Group: g, Done: len(gs.done), Total: len(gs.seen)})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}
