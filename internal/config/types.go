package config

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Toggles    Toggles          `json:"toggles"`
	Stations   StationsConfig   `json:"stations"`
	Controller ControllerConfig `json:"controller"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Dashboard  DashboardConfig  `json:"dashboard"`
	Notifier   NotifierConfig   `json:"notifier"`
	Ops        OpsConfig        `json:"ops,omitempty"`
}

// SchedulerConfig controls the single-worker dispatch loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "3h").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "1s"
//   - maintenance_timeout: "3h"
//   - defer_threshold: 0.90
//   - fault_backoff: "2s"
type SchedulerConfig struct {
	// AutoStart starts dispatching right after boot; otherwise the operator
	// has to send /start.
	AutoStart bool `json:"auto_start"`

	PollInterval       string  `json:"poll_interval,omitempty"`
	MaintenanceTimeout string  `json:"maintenance_timeout,omitempty"`
	DeferThreshold     float64 `json:"defer_threshold,omitempty"`
	FaultBackoff       string  `json:"fault_backoff,omitempty"`

	// MaintenanceCron optionally enqueues maintenance on a schedule: a cron
	// spec ("0 */6 * * *", "@daily"), a Go duration ("6h") or HH:MM ("06:00").
	MaintenanceCron string `json:"maintenance_cron,omitempty"`
	Timezone        string `json:"timezone,omitempty"`

	// HistorySize bounds the in-memory list of recent runs.
	HistorySize int `json:"history_size,omitempty"`
}

// Toggles are operator feature switches re-read on every dispatch.
//
// Crafting is a master switch for sparkpowder and gunpowder.
type Toggles struct {
	GachaEnabled       bool `json:"gacha_enabled"`
	PegoEnabled        bool `json:"pego_enabled"`
	Crafting           bool `json:"crafting"`
	SparkpowderEnabled bool `json:"sparkpowder_enabled"`
	GunpowderEnabled   bool `json:"gunpowder_enabled"`
}

// StationsConfig points to the station definition file and the per-kind knobs
// that are not stored per station.
type StationsConfig struct {
	// File is a JSON, YAML or TOML station file (see internal/stations).
	File string `json:"file"`

	// Seeds230 selects the longer gacha requeue delay (230 seed slots).
	Seeds230 bool `json:"seeds_230,omitempty"`

	RenderEnabled  bool `json:"render_enabled,omitempty"`
	CollectEnabled bool `json:"collect_enabled,omitempty"`
}

// ControllerConfig selects how station actions reach the game client.
//
// Driver "exec" runs a command template per kind; "dryrun" only logs.
type ControllerConfig struct {
	Driver string `json:"driver"`

	// Commands maps a job kind (gacha, pego, sparkpowder, gunpowder, render,
	// collect, pause, maintenance) to a command line template.
	// Placeholders: {name} {kind} {teleporter} {resupply}.
	Commands map[string]string `json:"commands,omitempty"`

	// ActionTimeout bounds each command (Go duration string; default "10m").
	ActionTimeout string `json:"action_timeout,omitempty"`
	// DryRunDelay is how long a dry-run action pretends to work (default "2s").
	DryRunDelay string `json:"dry_run_delay,omitempty"`
	WorkDir     string `json:"work_dir,omitempty"`
}

// StorageConfig controls the optional run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/arkbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DashboardConfig controls the Telegram panels.
type DashboardConfig struct {
	Enabled bool `json:"enabled"`
	// ChatID is where panels are posted; 0 disables panels but keeps commands.
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`

	RefreshEvery string `json:"refresh_every,omitempty"` // default "30s"
	PreviewLimit int    `json:"preview_limit,omitempty"` // default 15
	LogTail      int    `json:"log_tail,omitempty"`      // default 20
	EditsPerMin  int    `json:"edits_per_min,omitempty"` // default 20

	AlertWindow     string `json:"alert_window,omitempty"`      // default "120s"
	AlertMaxEntries int    `json:"alert_max_entries,omitempty"` // default 20
	AlertMaxChars   int    `json:"alert_max_chars,omitempty"`   // default 1800
}

// NotifierConfig controls operator pings for failed jobs and, optionally,
// maintenance passes.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`
	// ChatID defaults to telegram.group_log when 0.
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`

	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 1
	RetryMax    int    `json:"retry_max,omitempty"`    // default 0
	DedupWindow string `json:"dedup_window,omitempty"` // e.g. "10m"; empty disables
	Maintenance bool   `json:"maintenance,omitempty"`  // also report maintenance
}

// OpsConfig controls the optional ops HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	Pprof         bool   `json:"pprof,omitempty"`  // mount /debug/pprof/
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
