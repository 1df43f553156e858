package scheduler

import (
	"errors"
	"time"
)

var (
	ErrRunning    = errors.New("scheduler already running")
	ErrNotRunning = errors.New("scheduler not running")
	ErrInvalidJob = errors.New("invalid job")
	// ErrDuplicate is returned when a job with the same name is already
	// queued or executing.
	ErrDuplicate = errors.New("job already scheduled")
)

// Config tunes the dispatch loop. Zero values take the defaults below.
type Config struct {
	PollInterval       time.Duration // default 1s
	MaintenanceTimeout time.Duration // default 3h; negative disables the timeout rule
	DeferThreshold     float64       // default 0.90
	FaultBackoff       time.Duration // default 2s
	HistorySize        int           // default 50
}

const (
	DefaultPollInterval       = time.Second
	DefaultMaintenanceTimeout = 3 * time.Hour
	DefaultDeferThreshold     = 0.90
	DefaultFaultBackoff       = 2 * time.Second
	DefaultHistorySize        = 50
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaintenanceTimeout == 0 {
		c.MaintenanceTimeout = DefaultMaintenanceTimeout
	}
	if c.MaintenanceTimeout < 0 {
		c.MaintenanceTimeout = 0
	}
	if c.DeferThreshold <= 0 {
		c.DeferThreshold = DefaultDeferThreshold
	}
	if c.FaultBackoff <= 0 {
		c.FaultBackoff = DefaultFaultBackoff
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// State of the dispatch loop.
type State string

const (
	StateStopped   State = "stopped"
	StatePromoting State = "promoting"
	StateIdle      State = "idle"
	StateExecuting State = "executing"
)

// QueueSelector picks the queue Snapshot reads.
type QueueSelector int

const (
	QueueWaiting QueueSelector = iota
	QueueActive
)

func (q QueueSelector) String() string {
	if q == QueueActive {
		return "active"
	}
	return "waiting"
}

// ParseQueueSelector accepts "active" or "waiting" (and their initials).
func ParseQueueSelector(s string) (QueueSelector, bool) {
	switch s {
	case "active", "a", "ready":
		return QueueActive, true
	case "waiting", "w", "wait", "":
		return QueueWaiting, true
	}
	return QueueWaiting, false
}

// QueueItem is an owned copy of one queue entry.
type QueueItem struct {
	Name     string    `json:"name"`
	Priority int       `json:"priority"`
	Due      time.Time `json:"due"`
	Kind     string    `json:"kind"`
}

// RunSummary is one dispatch kept in the in-memory history.
type RunSummary struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Status   string        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Status is a point-in-time view for panels.
type Status struct {
	Running      bool      `json:"running"`
	State        State     `json:"state"`
	Current      string    `json:"current,omitempty"`
	CurrentSince time.Time `json:"current_since,omitempty"`

	Waiting int       `json:"waiting"`
	Active  int       `json:"active"`
	NextDue time.Time `json:"next_due,omitempty"`

	Cycle         []GroupProgress `json:"cycle"`
	CycleComplete bool            `json:"cycle_complete"`
	Watchdog      WatchdogState   `json:"watchdog"`
	Resupply      bool            `json:"resupply"`
	Parked        []string        `json:"parked,omitempty"`

	Runs     uint64 `json:"runs"`
	Failures uint64 `json:"failures"`
	Faults   uint64 `json:"faults"`
}
