package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"arkbot/internal/activity"
	"arkbot/internal/config"
	"arkbot/internal/dashboard"
	"arkbot/internal/notifier"
	"arkbot/internal/observability/ops"
	"arkbot/internal/stations"
	"arkbot/internal/storage"
	"arkbot/internal/task/scheduler"
	kit "arkbot/internal/transport"
	logx "arkbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log. ok is false when it is unset or not
// a chat id.
func logTarget(cfg *config.Config) (chatID int64, ok bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	poll, err := config.ParseDurationField("scheduler.poll_interval", s.PollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	backoff, err := config.ParseDurationField("scheduler.fault_backoff", s.FaultBackoff)
	if err != nil {
		return scheduler.Config{}, err
	}
	// A negative timeout disables the rule.
	timeout, err := config.ParseSignedDuration("scheduler.maintenance_timeout", s.MaintenanceTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		PollInterval:       poll,
		MaintenanceTimeout: timeout,
		DeferThreshold:     s.DeferThreshold,
		FaultBackoff:       backoff,
		HistorySize:        s.HistorySize,
	}, nil
}

func schedulerLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapDashboardConfig(cfg *config.Config) (dashboard.Config, error) {
	d := cfg.Dashboard
	every, err := config.ParseDurationField("dashboard.refresh_every", d.RefreshEvery)
	if err != nil {
		return dashboard.Config{}, err
	}
	out := dashboard.Config{
		RefreshEvery: every,
		PreviewLimit: d.PreviewLimit,
		LogTail:      d.LogTail,
		EditsPerMin:  d.EditsPerMin,
	}
	// Commands keep working without panels.
	if d.Enabled {
		out.Chat = kit.ChatTarget{ChatID: d.ChatID, ThreadID: d.ThreadID}
	}
	return out, nil
}

func mapAlertsConfig(cfg *config.Config) (activity.AlertsConfig, error) {
	d := cfg.Dashboard
	window, err := config.ParseDurationField("dashboard.alert_window", d.AlertWindow)
	if err != nil {
		return activity.AlertsConfig{}, err
	}
	return activity.AlertsConfig{Window: window, MaxEntries: d.AlertMaxEntries, MaxChars: d.AlertMaxChars}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	rt, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profile and trace endpoints stream for up to 30s by default.
	wt, err := config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         o.Token,
		Pprof:         o.Pprof,
		Prefix:        o.Prefix,
		AllowInsecure: o.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

// mapNotifierConfig falls back to the log chat when no chat is set.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	target := kit.ChatTarget{ChatID: n.ChatID, ThreadID: n.ThreadID}
	if target.ChatID == 0 {
		if id, ok := logTarget(cfg); ok {
			target = kit.ChatTarget{ChatID: id, ThreadID: n.ThreadID}
		}
	}
	if n.Enabled && target.ChatID == 0 {
		return notifier.Config{}, fmt.Errorf("notifier: chat_id or telegram.group_log is required when enabled")
	}
	return notifier.Config{
		Enabled:     n.Enabled,
		Target:      target,
		RatePerSec:  n.RatePerSec,
		RetryMax:    n.RetryMax,
		DedupWindow: window,
		Maintenance: n.Maintenance,
	}, nil
}

func stationOptions(cfg *config.Config) stations.BuildOptions {
	return stations.BuildOptions{
		Seeds230: cfg.Stations.Seeds230,
		Render:   cfg.Stations.RenderEnabled,
		Collect:  cfg.Stations.CollectEnabled,
	}
}

// validate is installed on the config manager so a bad hot reload is
// rejected before it is committed.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := schedulerLocation(cfg); err != nil {
		return err
	}
	if spec := strings.TrimSpace(cfg.Scheduler.MaintenanceCron); spec != "" {
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return fmt.Errorf("scheduler.maintenance_cron: %w", err)
		}
	}
	if _, err := mapDashboardConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAlertsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads and validates the config file without starting anything.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StationOptions maps the per-deployment station knobs.
func StationOptions(cfg *config.Config) stations.BuildOptions { return stationOptions(cfg) }
