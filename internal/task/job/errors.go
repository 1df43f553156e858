package job

import (
	"errors"
	"fmt"
)

// ActionFailed is returned by an Action when a step against the game client
// did not succeed. The scheduler logs it and continues; it is never retried
// synchronously.
type ActionFailed struct {
	Job    string
	Detail string
	Err    error
	Stack  string
}

func (e *ActionFailed) Error() string {
	msg := "action failed"
	if e.Job != "" {
		msg += " (" + e.Job + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionFailed) Unwrap() error { return e.Err }

// Failf builds an ActionFailed for the given job.
func Failf(j *Job, format string, args ...any) error {
	name := ""
	if j != nil {
		name = j.Name
	}
	return &ActionFailed{Job: name, Detail: fmt.Sprintf(format, args...)}
}

// AsActionFailed extracts an ActionFailed, wrapping foreign errors so callers
// always get a detail string.
func AsActionFailed(name string, err error) *ActionFailed {
	if err == nil {
		return nil
	}
	var af *ActionFailed
	if errors.As(err, &af) {
		return af
	}
	return &ActionFailed{Job: name, Err: err}
}
