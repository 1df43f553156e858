package scheduler

import (
	"sort"
)

// Snapshot returns an owned, ordered copy of the selected queue.
func (s *Service) Snapshot(sel QueueSelector) []QueueItem {
	if sel == QueueActive {
		entries := s.active.Snapshot()
		out := make([]QueueItem, 0, len(entries))
		for _, e := range entries {
			out = append(out, QueueItem{Name: e.Job.Name, Priority: e.Priority, Due: e.Due, Kind: e.Job.Kind.String()})
		}
		return out
	}
	entries := s.waiting.Snapshot()
	out := make([]QueueItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, QueueItem{Name: e.Job.Name, Priority: e.Priority, Due: e.Due, Kind: e.Job.Kind.String()})
	}
	return out
}

// Status collects a consistent-enough view for panels; each part is read
// under its own lock.
func (s *Service) Status() Status {
	st := Status{
		State:         s.State(),
		Waiting:       s.waiting.Len(),
		Active:        s.active.Len(),
		Cycle:         s.tracker.Snapshot(),
		CycleComplete: s.tracker.Complete(),
		Watchdog:      s.watchdog.State(),
		Resupply:      s.resupply.Load(),
		Runs:          s.runs.Load(),
		Failures:      s.failures.Load(),
		Faults:        s.faults.Load(),
	}
	if due, ok := s.waiting.NextDue(); ok {
		st.NextDue = due
	}

	s.mu.Lock()
	st.Running = s.sup != nil
	st.Current = s.current
	st.CurrentSince = s.currentSince
	for name := range s.parked {
		st.Parked = append(st.Parked, name)
	}
	s.mu.Unlock()
	sort.Strings(st.Parked)
	return st
}

// Recent returns up to n summaries, newest first.
func (s *Service) Recent(n int) []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]RunSummary, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[i])
	}
	return out
}
