package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownKinds = map[string]struct{}{
	"gacha": {}, "pego": {}, "sparkpowder": {}, "gunpowder": {},
	"render": {}, "collect": {}, "pause": {}, "maintenance": {},
}

// Validate checks static constraints that do not need any running service.
// It returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	durations := map[string]string{
		"telegram.poll_timeout":     cfg.Telegram.PollTimeout,
		"scheduler.poll_interval":   cfg.Scheduler.PollInterval,
		"scheduler.fault_backoff":   cfg.Scheduler.FaultBackoff,
		"controller.action_timeout": cfg.Controller.ActionTimeout,
		"controller.dry_run_delay":  cfg.Controller.DryRunDelay,
		"dashboard.refresh_every":   cfg.Dashboard.RefreshEvery,
		"dashboard.alert_window":    cfg.Dashboard.AlertWindow,
		"notifier.dedup_window":     cfg.Notifier.DedupWindow,
		"ops.read_timeout":          cfg.Ops.ReadTimeout,
		"ops.write_timeout":         cfg.Ops.WriteTimeout,
		"ops.idle_timeout":          cfg.Ops.IdleTimeout,
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	if cfg.Storage != nil {
		_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		add(err)
	}

	// maintenance_timeout may be negative: that disables the timeout rule.
	_, err := ParseSignedDuration("scheduler.maintenance_timeout", cfg.Scheduler.MaintenanceTimeout)
	add(err)

	if t := cfg.Scheduler.DeferThreshold; t < 0 || t > 1 {
		add(fmt.Errorf("scheduler.defer_threshold: must be within [0,1], got %v", t))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Controller.Driver)) {
	case "", "dryrun", "dry-run", "exec":
	default:
		add(fmt.Errorf("controller.driver: unknown driver %q", cfg.Controller.Driver))
	}
	for kind := range cfg.Controller.Commands {
		if _, ok := knownKinds[kind]; !ok {
			add(fmt.Errorf("controller.commands: unknown kind %q", kind))
		}
	}

	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.RetryMax < 0 {
		add(errors.New("notifier: rate_per_sec and retry_max must be >= 0"))
	}

	if cfg.Dashboard.PreviewLimit < 0 || cfg.Dashboard.LogTail < 0 {
		add(errors.New("dashboard: preview_limit and log_tail must be >= 0"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
