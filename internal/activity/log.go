// Package activity keeps the human-readable rolling log the dashboard tails,
// and the deduplicated alert board built from its failure lines.
package activity

import (
	"strings"
	"sync"
	"time"
)

const DefaultCapacity = 400

type Level uint8

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

type Entry struct {
	Time  time.Time
	Level Level
	Msg   string
}

// Line renders "HH:MM:SS msg" in the entry's own location.
func (e Entry) Line() string { return e.Time.Format("15:04:05") + " " + e.Msg }

// Log is a bounded ring; the oldest entries are evicted first.
type Log struct {
	mu   sync.Mutex
	buf  []Entry
	head int
	n    int

	now    func() time.Time
	alerts *Alerts
}

type Option func(*Log)

func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }

// WithAlerts mirrors warn/error entries into the alert board.
func WithAlerts(a *Alerts) Option { return func(l *Log) { l.alerts = a } }

func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{buf: make([]Entry, capacity), now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	return l
}

func (l *Log) Add(msg string) { l.AddLevel(LevelInfo, msg) }

func (l *Log) Warn(msg string) { l.AddLevel(LevelWarn, msg) }

func (l *Log) Error(msg string) { l.AddLevel(LevelError, msg) }

func (l *Log) AddLevel(level Level, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	e := Entry{Time: l.now(), Level: level, Msg: msg}

	l.mu.Lock()
	idx := (l.head + l.n) % len(l.buf)
	if l.n == len(l.buf) {
		l.buf[l.head] = e
		l.head = (l.head + 1) % len(l.buf)
	} else {
		l.buf[idx] = e
		l.n++
	}
	l.mu.Unlock()

	if l.alerts != nil && level >= LevelWarn {
		l.alerts.Observe(e)
	}
}

// Tail returns up to n most recent entries, oldest first.
func (l *Log) Tail(n int) []Entry {
	if n <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.n {
		n = l.n
	}
	out := make([]Entry, 0, n)
	start := l.head + l.n - n
	for i := 0; i < n; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

// TailLines is Tail rendered as "HH:MM:SS msg" lines.
func (l *Log) TailLines(n int) []string {
	entries := l.Tail(n)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Line()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

func (l *Log) Cap() int { return len(l.buf) }
