package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"arkbot/internal/eventbus"
	"arkbot/internal/storage"
	"arkbot/internal/task/job"
	logx "arkbot/pkg/logx"
)

// run is the dispatch loop. The stop flag is checked between iterations,
// never inside an executing job.
func (s *Service) run(ctx context.Context) error {
	defer s.looping.Store(false)
	for {
		if s.stopping.Load() || ctx.Err() != nil {
			return nil
		}
		idle, err := s.safeStep(ctx)
		cfg := s.config()
		switch {
		case err != nil:
			s.faults.Add(1)
			s.metrics.observeFault()
			s.log.Error("scheduler loop fault", logx.Err(err), logx.Duration("backoff", cfg.FaultBackoff))
			s.activity.Error("scheduler fault: " + err.Error())
			s.sleep(ctx, cfg.FaultBackoff, false)
		case idle:
			s.sleep(ctx, cfg.PollInterval, true)
		}
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration, wakeable bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	wake := s.wake
	if !wakeable {
		wake = nil
	}
	select {
	case <-ctx.Done():
	case <-wake:
	case <-t.C:
	}
}

// safeStep converts a panic in scheduler bookkeeping into an error.
func (s *Service) safeStep(ctx context.Context) (idle bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler step panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.step(ctx), nil
}

// step runs one PROMOTING pass and at most one job. It reports true when
// nothing was ready.
func (s *Service) step(ctx context.Context) bool {
	s.state.Store(StatePromoting)
	s.promote(s.now())

	e, ok := s.active.Pop()
	if !ok {
		s.state.Store(StateIdle)
		s.metrics.observeQueues(s.waiting.Len(), s.active.Len())
		return true
	}
	s.dispatch(ctx, e.Job)
	return false
}

func (s *Service) promote(now time.Time) {
	for {
		e, ok := s.waiting.PopIfDue(now)
		if !ok {
			return
		}
		s.active.Push(e)
		s.activity.Add("ready " + e.Job.Name)
	}
}

func (s *Service) dispatch(ctx context.Context, j *job.Job) {
	if s.gate != nil && !s.gate.Enabled(j.Kind) {
		s.skip(j)
		return
	}

	runID := uuid.NewString()
	started := s.now()
	s.state.Store(StateExecuting)
	s.mu.Lock()
	s.current = j.Name
	s.currentSince = started
	repeat := s.lastExecuted == j.Name
	s.lastExecuted = j.Name
	s.mu.Unlock()

	if !repeat {
		s.activity.Add("executing " + j.Name)
	}
	log := s.log.With(logx.String("job", j.Name), logx.String("run_id", runID))
	log.Debug("job executing", logx.Int("priority", j.Priority), logx.String("kind", j.Kind.String()))

	jctx := job.WithRunID(context.WithoutCancel(ctx), runID)
	if j.Kind.Feature == job.FeatureGacha && s.ConsumeResupply() {
		jctx = job.WithResupply(jctx, true)
		s.activity.Add("resupply requested for " + j.Name)
	}
	err := j.Execute(jctx)
	finished := s.now()

	s.mu.Lock()
	s.current = ""
	s.currentSince = time.Time{}
	s.mu.Unlock()

	s.runs.Add(1)
	status := storage.StatusOK
	errText := ""
	if err != nil {
		s.failures.Add(1)
		status = storage.StatusFailed
		af := job.AsActionFailed(j.Name, err)
		errText = af.Error()
		fields := []logx.Field{logx.Err(err)}
		if af.Stack != "" {
			fields = append(fields, logx.Stack(af.Stack))
		}
		log.Warn("job failed", fields...)
		s.activity.Error("failed " + errText)
	} else {
		log.Info("job completed", logx.Duration("took", finished.Sub(started)))
		s.activity.Add(fmt.Sprintf("completed %s in %s", j.Name, finished.Sub(started).Round(time.Second)))
	}
	s.record(runID, j, status, errText, started, finished)

	if j.Kind.IsMaintenance() {
		s.tracker.Reset()
		s.watchdog.Completed(finished)
		s.release(j.Name)
		reason := j.MetaValue("reason")
		s.activity.Add("maintenance done: " + reason)
		s.publish(eventbus.MaintenanceCompleted, eventbus.MaintenanceEvent{Reason: reason})
		return
	}

	s.tracker.MarkDone(j.Kind.Group, j.Name)
	s.evaluate(finished)

	if !j.Requeues() {
		s.release(j.Name)
		return
	}
	s.push(finished.Add(j.RequeueDelay), j)
}

// skip drops a disabled job from the cycle and parks it for ResumeParked.
func (s *Service) skip(j *job.Job) {
	s.tracker.Forget(j.Name)
	s.mu.Lock()
	delete(s.resident, j.Name)
	if j.Requeues() {
		s.parked[j.Name] = j
	}
	s.mu.Unlock()

	now := s.now()
	s.log.Info("job skipped (disabled)", logx.String("job", j.Name), logx.String("kind", j.Kind.String()))
	s.activity.Add("skipped-disabled " + j.Name)
	s.metrics.observeRun(j.Kind.Feature, storage.StatusSkipped, 0)
	s.publish(eventbus.JobSkipped, eventbus.JobEvent{Name: j.Name, Kind: j.Kind.String(), Priority: j.Priority, Started: now})
	s.appendHistory(RunSummary{Name: j.Name, Kind: j.Kind.String(), Status: storage.StatusSkipped, Started: now})

	// Forgetting the last pending member can complete the cycle.
	s.evaluate(now)
}

// evaluate runs the watchdog against the current cycle progress.
func (s *Service) evaluate(now time.Time) {
	done, total := s.tracker.Progress()
	d := s.watchdog.Evaluate(now, s.tracker.Complete(), done, total)
	switch {
	case d.Enqueue:
		s.EnqueueMaintenance(d.Reason, d.SideEffect)
	case d.Deferred:
		s.log.Info("maintenance deferred", logx.Int("done", done), logx.Int("total", total))
		s.activity.Add(fmt.Sprintf("maintenance deferred at %d/%d", done, total))
	}
}

func (s *Service) record(runID string, j *job.Job, status, errText string, started, finished time.Time) {
	took := finished.Sub(started)
	s.metrics.observeRun(j.Kind.Feature, status, took)

	typ := eventbus.JobCompleted
	if status == storage.StatusFailed {
		typ = eventbus.JobFailed
	}
	s.publish(typ, eventbus.JobEvent{
		RunID: runID, Name: j.Name, Kind: j.Kind.String(), Priority: j.Priority,
		Started: started, Duration: took, Error: errText,
	})
	s.appendHistory(RunSummary{
		ID: runID, Name: j.Name, Kind: j.Kind.String(), Status: status,
		Started: started, Duration: took, Error: errText,
	})

	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.store.AppendRun(ctx, storage.RunRecord{
		ID: runID, Job: j.Name, Kind: j.Kind.String(), Priority: j.Priority,
		Started: started, Finished: finished, Status: status, Error: errText,
	})
	if err != nil {
		s.log.Debug("run record write failed", logx.String("job", j.Name), logx.Err(err))
	}
}

func (s *Service) appendHistory(r RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, r)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}
