package notifier

import (
	"time"

	kit "arkbot/internal/transport"
)

// Config controls the notification pipeline. Zero values take defaults.
type Config struct {
	Enabled bool
	Target  kit.ChatTarget

	QueueSize     int           // default 128
	RatePerSec    int           // default 1
	RetryMax      int           // default 0 (no retry)
	RetryBase     time.Duration // default 500ms
	RetryMaxDelay time.Duration // default 10s

	DedupWindow     time.Duration // 0 disables dedup
	DedupMaxEntries int           // default 500

	// Maintenance also reports maintenance enqueue/completion, not only
	// failures.
	Maintenance bool
}

// Notification is one operator message. Priority 0 is low, 10 is urgent.
type Notification struct {
	Priority int
	Text     string
}

type HistoryItem struct {
	At   time.Time
	Text string
}
