package controller

import (
	"context"
	"sync/atomic"
	"time"

	"arkbot/internal/task/job"
	logx "arkbot/pkg/logx"
)

// DryRun logs each action and waits instead of touching the game client.
type DryRun struct {
	log   logx.Logger
	delay time.Duration

	runs        atomic.Uint64
	maintenance atomic.Uint64
}

func NewDryRun(delay time.Duration, log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{log: log, delay: delay}
}

func (d *DryRun) Name() string { return "dryrun" }

func (d *DryRun) Run(ctx context.Context, j *job.Job) error {
	d.runs.Add(1)
	kind := kindOf(j)
	wait := d.delay
	if kind == KindPause {
		wait = pauseLength(j)
	}
	d.log.Info("dry-run action",
		logx.String("job", j.Name),
		logx.String("kind", kind),
		logx.String("teleporter", j.MetaValue("teleporter")),
		logx.Bool("resupply", job.ResupplyRequested(ctx)),
		logx.Duration("wait", wait),
	)
	return waitFor(ctx, wait)
}

func (d *DryRun) Maintain(ctx context.Context, resupply bool) error {
	d.maintenance.Add(1)
	d.log.Info("dry-run maintenance", logx.Bool("resupply", resupply))
	return waitFor(ctx, d.delay)
}

// Counts reports actions and maintenance passes performed so far.
func (d *DryRun) Counts() (runs, maintenance uint64) {
	return d.runs.Load(), d.maintenance.Load()
}
