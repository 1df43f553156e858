package scheduler

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "arkbot/pkg/logx"
)

// SetMaintenanceSchedule installs a recurring "scheduled" maintenance
// trigger. An empty spec removes it. The schedule runs only while the
// scheduler is started.
func (s *Service) SetMaintenanceSchedule(spec string, loc *time.Location) error {
	spec = strings.TrimSpace(spec)
	expr := ""
	if spec != "" {
		p, err := ParseSchedule(spec)
		if err != nil {
			return err
		}
		expr = p.Expr()
	}
	if loc == nil {
		loc = time.Local
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if expr == s.cronSpec && loc == s.cronLoc {
		return nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.cronSpec = expr
	s.cronLoc = loc
	if s.sup != nil && expr != "" {
		s.startCronLocked()
	}
	return nil
}

func (s *Service) startCronLocked() {
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(s.cronLoc), cron.WithChain(cron.Recover(cronLogger{s.log})))
	_, err := c.AddFunc(s.cronSpec, func() {
		if !s.EnqueueMaintenance(ReasonScheduled, false) {
			s.log.Debug("scheduled maintenance skipped; one is already pending")
		}
	})
	if err != nil {
		s.log.Warn("maintenance schedule rejected", logx.String("spec", s.cronSpec), logx.Err(err))
		return
	}
	c.Start()
	s.cron = c
	s.log.Info("maintenance schedule active", logx.String("spec", s.cronSpec))
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
