// Package controller drives the game client on behalf of scheduler jobs.
//
// The perception and input layers live outside this process. The exec
// driver reaches them through one command line per job kind; the dry-run
// driver only logs and waits, for development.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"arkbot/internal/config"
	"arkbot/internal/task/job"
	logx "arkbot/pkg/logx"
)

// Kinds with a command slot besides the station kinds.
const (
	KindMaintenance = "maintenance"
	KindPause       = "pause"
)

// MetaSeconds carries the pause length on pause jobs.
const MetaSeconds = "seconds"

// Controller runs station actions and the maintenance routine.
type Controller interface {
	Run(ctx context.Context, j *job.Job) error
	Maintain(ctx context.Context, resupply bool) error
	Name() string
}

// New builds the controller selected by cfg.Driver.
func New(cfg config.ControllerConfig, log logx.Logger) (Controller, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "controller"))

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "dryrun", "dry-run":
		delay, err := config.ParseDurationOrDefault("controller.dry_run_delay", cfg.DryRunDelay, 2*time.Second)
		if err != nil {
			return nil, err
		}
		return NewDryRun(delay, log), nil
	case "exec":
		timeout, err := config.ParseDurationOrDefault("controller.action_timeout", cfg.ActionTimeout, 10*time.Minute)
		if err != nil {
			return nil, err
		}
		return NewExec(ExecConfig{Commands: cfg.Commands, Timeout: timeout, WorkDir: cfg.WorkDir}, log)
	default:
		return nil, fmt.Errorf("unknown controller driver %q", cfg.Driver)
	}
}

// NewPauseJob builds the operator pause: it holds the worker for d and is
// never re-queued.
func NewPauseJob(c job.Action, d time.Duration) *job.Job {
	j := job.NewPause(c)
	j.Meta = map[string]string{
		"kind":      KindPause,
		MetaSeconds: strconv.Itoa(int(d / time.Second)),
	}
	return j
}

// kindOf resolves the command slot for a job.
func kindOf(j *job.Job) string {
	if k := j.MetaValue("kind"); k != "" {
		return k
	}
	if j.Kind.IsMaintenance() {
		return KindMaintenance
	}
	return j.Kind.Feature
}

func pauseLength(j *job.Job) time.Duration {
	n, err := strconv.Atoi(j.MetaValue(MetaSeconds))
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// waitFor sleeps for d or until ctx is done.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
