package scheduler

import (
	"context"
	"sync"
	"time"

	"arkbot/internal/task/job"
)

// Maintenance reasons.
const (
	ReasonDeferredComplete = "deferred, cycle complete"
	ReasonCycleComplete    = "cycle complete"
	ReasonTimeout          = "timeout"
	ReasonScheduled        = "scheduled"
	ReasonOperator         = "operator"
)

const maintenanceJobName = "maintenance"

// Maintainer returns the game client to a known-safe state. resupply asks it
// to also restock before the next gacha run.
type Maintainer interface {
	Maintain(ctx context.Context, resupply bool) error
}

type MaintainerFunc func(ctx context.Context, resupply bool) error

func (f MaintainerFunc) Maintain(ctx context.Context, resupply bool) error { return f(ctx, resupply) }

// Decision is the outcome of one watchdog evaluation.
type Decision struct {
	Enqueue    bool
	Reason     string
	SideEffect bool
	// Deferred is set on the evaluation that first postpones a timeout to
	// let the cycle finish.
	Deferred bool
}

// Watchdog decides when maintenance is injected. It only holds flags; the
// scheduler owns the queues.
type Watchdog struct {
	mu sync.Mutex

	timeout   time.Duration
	threshold float64

	enqueued bool
	deferred bool
	// since is where the timeout is measured from: start, then each
	// completed maintenance. last stays zero until one completes.
	since time.Time
	last  time.Time
}

func NewWatchdog(timeout time.Duration, threshold float64, start time.Time) *Watchdog {
	return &Watchdog{timeout: timeout, threshold: threshold, since: start}
}

// Evaluate applies the trigger rules in order; the first match wins.
// A timeout of zero disables the timeout rule.
func (w *Watchdog) Evaluate(now time.Time, complete bool, done, total int) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.enqueued {
		return Decision{}
	}
	if w.deferred && complete {
		return Decision{Enqueue: true, Reason: ReasonDeferredComplete, SideEffect: true}
	}
	if complete {
		return Decision{Enqueue: true, Reason: ReasonCycleComplete, SideEffect: true}
	}
	if w.timeout <= 0 || now.Sub(w.since) < w.timeout {
		return Decision{}
	}
	if total > 0 && float64(done)/float64(total) >= w.threshold {
		if w.deferred {
			return Decision{}
		}
		w.deferred = true
		return Decision{Deferred: true}
	}
	return Decision{Enqueue: true, Reason: ReasonTimeout}
}

// TryMarkEnqueued sets the enqueued flag; false means one is already pending.
func (w *Watchdog) TryMarkEnqueued() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enqueued {
		return false
	}
	w.enqueued = true
	return true
}

// Completed clears the episode and records the maintenance time.
func (w *Watchdog) Completed(now time.Time) {
	w.mu.Lock()
	w.enqueued = false
	w.deferred = false
	w.since = now
	w.last = now
	w.mu.Unlock()
}

// Configure updates the timeout and threshold in place.
func (w *Watchdog) Configure(timeout time.Duration, threshold float64) {
	w.mu.Lock()
	w.timeout = timeout
	w.threshold = threshold
	w.mu.Unlock()
}

// WatchdogState is a read-only copy of the flags.
type WatchdogState struct {
	Enqueued        bool          `json:"enqueued"`
	Deferred        bool          `json:"deferred"`
	LastMaintenance time.Time     `json:"last_maintenance"`
	Timeout         time.Duration `json:"timeout"`
}

func (w *Watchdog) State() WatchdogState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WatchdogState{Enqueued: w.enqueued, Deferred: w.deferred, LastMaintenance: w.last, Timeout: w.timeout}
}

// NewMaintenanceJob builds the one-shot maintenance job. sideEffect is
// forwarded to the Maintainer and arms the resupply flag via onResupply even
// when the Maintainer fails.
func NewMaintenanceJob(reason string, sideEffect bool, m Maintainer, onResupply func()) *job.Job {
	return &job.Job{
		Name:     maintenanceJobName,
		Priority: job.PriorityMaintenance,
		OneShot:  true,
		Kind:     job.Maintenance(),
		Meta:     map[string]string{"reason": reason},
		Action: job.ActionFunc(func(ctx context.Context, j *job.Job) error {
			if sideEffect && onResupply != nil {
				defer onResupply()
			}
			if m == nil {
				return nil
			}
			return m.Maintain(ctx, sideEffect)
		}),
	}
}
