// Package job defines the unit of work dispatched by the scheduler.
package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// PauseName is reserved: a job with this name is never re-queued,
// regardless of OneShot.
const PauseName = "pause"

// Tag discriminates the Kind union.
type Tag uint8

const (
	TagEphemeral Tag = iota
	TagRecurring
	TagMaintenance
)

func (t Tag) String() string {
	switch t {
	case TagRecurring:
		return "recurring"
	case TagMaintenance:
		return "maintenance"
	default:
		return "ephemeral"
	}
}

// Kind classifies a job for toggle gating and cycle tracking.
//
// Feature names the toggle-gated feature ("gacha", "pego", ...); empty means
// always enabled. Group is the cycle group a recurring job contributes to.
type Kind struct {
	Tag     Tag
	Feature string
	Group   string
}

func Recurring(feature, group string) Kind {
	return Kind{Tag: TagRecurring, Feature: feature, Group: group}
}

func Maintenance() Kind { return Kind{Tag: TagMaintenance, Feature: "maintenance"} }

func Ephemeral(feature string) Kind { return Kind{Tag: TagEphemeral, Feature: feature} }

func (k Kind) IsMaintenance() bool { return k.Tag == TagMaintenance }

func (k Kind) String() string {
	if k.Feature == "" {
		return k.Tag.String()
	}
	return k.Tag.String() + ":" + k.Feature
}

// Action performs the real-world side effects of a job.
type Action interface {
	Run(ctx context.Context, j *Job) error
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context, j *Job) error

func (f ActionFunc) Run(ctx context.Context, j *Job) error { return f(ctx, j) }

// Job is one schedulable unit. Fields are set by the loader before AddTask and
// treated as read-only afterwards; only the run marker mutates, and only on
// the dispatch goroutine.
type Job struct {
	Name     string
	Priority int

	RequeueDelay time.Duration
	InitialDelay time.Duration
	OneShot      bool

	Kind   Kind
	Action Action

	// Meta carries loader-specific attributes (teleporter, side, reason...).
	Meta map[string]string

	hasRunBefore bool
}

// NextDelay is InitialDelay until the job has been scheduled once,
// RequeueDelay afterwards.
func (j *Job) NextDelay() time.Duration {
	if !j.hasRunBefore {
		return j.InitialDelay
	}
	return j.RequeueDelay
}

func (j *Job) MarkScheduled() { j.hasRunBefore = true }

func (j *Job) HasRunBefore() bool { return j.hasRunBefore }

// Requeues reports whether the job goes back to the waiting queue after it runs.
func (j *Job) Requeues() bool { return !j.OneShot && j.Name != PauseName }

// Execute runs the action. A panic inside the action is returned as an
// ActionFailed error carrying the stack.
func (j *Job) Execute(ctx context.Context) (err error) {
	if j.Action == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &ActionFailed{
				Job:    j.Name,
				Detail: fmt.Sprintf("panic: %v", r),
				Stack:  string(debug.Stack()),
			}
		}
	}()
	return j.Action.Run(ctx, j)
}

func (j *Job) MetaValue(key string) string {
	if j.Meta == nil {
		return ""
	}
	return j.Meta[key]
}

func (j *Job) String() string {
	return fmt.Sprintf("%s(p=%d,%s)", j.Name, j.Priority, j.Kind)
}
