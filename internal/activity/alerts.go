package activity

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	digitsRe = regexp.MustCompile(`\d+`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// Normalize collapses the parts of a line that vary between repeats of the
// same failure (numbers, timestamps, spacing) so repeats share one key.
func Normalize(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	s = digitsRe.ReplaceAllString(s, "#")
	s = spaceRe.ReplaceAllString(s, " ")
	return s
}

type Alert struct {
	Key   string
	Level Level
	Msg   string
	First time.Time
	Last  time.Time
	Count int
}

type AlertsConfig struct {
	Window     time.Duration // repeats inside this window bump Count
	MaxEntries int
	MaxChars   int
}

func (c AlertsConfig) withDefaults() AlertsConfig {
	if c.Window <= 0 {
		c.Window = 120 * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 20
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 1800
	}
	return c
}

// Alerts is a deduplicated, bounded list of recent warn/error lines.
type Alerts struct {
	mu      sync.Mutex
	cfg     AlertsConfig
	entries []*Alert // newest last
	version uint64
}

func NewAlerts(cfg AlertsConfig) *Alerts {
	return &Alerts{cfg: cfg.withDefaults()}
}

func (a *Alerts) Configure(cfg AlertsConfig) {
	a.mu.Lock()
	a.cfg = cfg.withDefaults()
	a.trimLocked()
	a.mu.Unlock()
}

// Observe folds an entry into the board. A repeat of the newest matching key
// inside the window increments its count instead of adding a line.
func (a *Alerts) Observe(e Entry) {
	key := Normalize(e.Msg)
	if key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.version++

	for i := len(a.entries) - 1; i >= 0; i-- {
		al := a.entries[i]
		if al.Key != key {
			continue
		}
		if e.Time.Sub(al.Last) <= a.cfg.Window {
			al.Count++
			al.Last = e.Time
			al.Msg = e.Msg
			if e.Level > al.Level {
				al.Level = e.Level
			}
			// keep newest-last ordering
			a.entries = append(append(a.entries[:i:i], a.entries[i+1:]...), al)
			return
		}
		break
	}
	a.entries = append(a.entries, &Alert{Key: key, Level: e.Level, Msg: e.Msg, First: e.Time, Last: e.Time, Count: 1})
	a.trimLocked()
}

func (a *Alerts) trimLocked() {
	if over := len(a.entries) - a.cfg.MaxEntries; over > 0 {
		a.entries = append(a.entries[:0:0], a.entries[over:]...)
	}
}

// Snapshot returns copies, oldest first.
func (a *Alerts) Snapshot() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Alert, len(a.entries))
	for i, al := range a.entries {
		out[i] = *al
	}
	return out
}

// Version changes whenever the board changes; panels use it to skip edits.
func (a *Alerts) Version() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

func (a *Alerts) Clear() {
	a.mu.Lock()
	a.entries = nil
	a.version++
	a.mu.Unlock()
}

// Render formats the newest alerts that fit into MaxChars, newest first.
func (a *Alerts) Render() string {
	snap := a.Snapshot()
	a.mu.Lock()
	maxChars := a.cfg.MaxChars
	a.mu.Unlock()

	if len(snap) == 0 {
		return "No alerts."
	}
	var b strings.Builder
	for i := len(snap) - 1; i >= 0; i-- {
		al := snap[i]
		line := fmt.Sprintf("%s [%s] %s", al.Last.Format("15:04:05"), al.Level, al.Msg)
		if al.Count > 1 {
			line += fmt.Sprintf(" x%d", al.Count)
		}
		if b.Len()+len(line)+1 > maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}
