package config

import (
	"reflect"
	"sort"
	"strings"

	logx "arkbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		(oldCfg.Telegram.Token != "") != (newCfg.Telegram.Token != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.maintenance_timeout", strings.TrimSpace(newCfg.Scheduler.MaintenanceTimeout)),
			logx.Float64("scheduler.defer_threshold", newCfg.Scheduler.DeferThreshold),
			logx.String("scheduler.maintenance_cron", strings.TrimSpace(newCfg.Scheduler.MaintenanceCron)),
		)
	}

	if oldCfg.Toggles != newCfg.Toggles {
		changed = append(changed, "toggles")
		t := newCfg.Toggles
		attrs = append(attrs,
			logx.Bool("toggles.gacha_enabled", t.GachaEnabled),
			logx.Bool("toggles.pego_enabled", t.PegoEnabled),
			logx.Bool("toggles.crafting", t.Crafting),
			logx.Bool("toggles.sparkpowder_enabled", t.SparkpowderEnabled),
			logx.Bool("toggles.gunpowder_enabled", t.GunpowderEnabled),
		)
	}

	if oldCfg.Stations != newCfg.Stations {
		changed = append(changed, "stations")
		attrs = append(attrs,
			logx.String("stations.file", strings.TrimSpace(newCfg.Stations.File)),
			logx.Bool("stations.seeds_230", newCfg.Stations.Seeds230),
		)
	}

	if !reflect.DeepEqual(oldCfg.Controller, newCfg.Controller) {
		changed = append(changed, "controller")
		attrs = append(attrs,
			logx.String("controller.driver", strings.TrimSpace(newCfg.Controller.Driver)),
			logx.Int("controller.commands", len(newCfg.Controller.Commands)),
		)
	}

	// Storage: nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oBusy = strings.TrimSpace(s.BusyTimeout)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nBusy = strings.TrimSpace(s.BusyTimeout)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if oldCfg.Dashboard != newCfg.Dashboard {
		changed = append(changed, "dashboard")
		attrs = append(attrs,
			logx.Bool("dashboard.enabled", newCfg.Dashboard.Enabled),
			logx.Bool("dashboard.chat_set", newCfg.Dashboard.ChatID != 0),
			logx.String("dashboard.refresh_every", strings.TrimSpace(newCfg.Dashboard.RefreshEvery)),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Bool("notifier.maintenance", newCfg.Notifier.Maintenance),
			logx.String("notifier.dedup_window", strings.TrimSpace(newCfg.Notifier.DedupWindow)),
		)
	}

	// Ops (never log token)
	oOps, nOps := oldCfg.Ops, newCfg.Ops
	oOps.Token, nOps.Token = "", ""
	if oOps != nOps || (oldCfg.Ops.Token != "") != (newCfg.Ops.Token != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
