package eventbus

import "time"

// Event types published by the scheduler and config manager.
const (
	JobCompleted         = "job.completed"
	JobFailed            = "job.failed"
	JobSkipped           = "job.skipped"
	MaintenanceEnqueued  = "maintenance.enqueued"
	MaintenanceCompleted = "maintenance.completed"
	SchedulerState       = "scheduler.state"
	ConfigReloaded       = "config.reloaded"
)

// JobEvent is the payload of the job.* events.
type JobEvent struct {
	RunID    string
	Name     string
	Kind     string
	Priority int
	Started  time.Time
	Duration time.Duration
	Error    string
}

// MaintenanceEvent is the payload of the maintenance.* events.
type MaintenanceEvent struct {
	Reason     string
	SideEffect bool
}

// StateEvent is the payload of scheduler.state.
type StateEvent struct {
	Running bool
}

// ConfigEvent is the payload of config.reloaded.
type ConfigEvent struct {
	Changed []string
}
