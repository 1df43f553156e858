// Package toggle maps job kinds to operator feature switches.
package toggle

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"arkbot/internal/config"
	"arkbot/internal/task/job"
	logx "arkbot/pkg/logx"
)

// ErrUnavailable is returned by a Source that cannot be read right now.
var ErrUnavailable = errors.New("toggle source unavailable")

// Source yields the current toggle values.
type Source interface {
	Toggles() (config.Toggles, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (config.Toggles, error)

func (f SourceFunc) Toggles() (config.Toggles, error) { return f() }

// Gate decides, per dispatch, whether a job kind may run.
// Values are never cached; every call reads the Source.
type Gate struct {
	src Source
	log logx.Logger

	warn *rate.Limiter
}

func NewGate(src Source, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{src: src, log: log, warn: rate.NewLimiter(rate.Every(time.Minute), 1)}
}

// Enabled fails open: if the Source errors, the job runs.
func (g *Gate) Enabled(k job.Kind) bool {
	if k.IsMaintenance() || k.Feature == "" {
		return true
	}
	if g == nil || g.src == nil {
		return true
	}
	t, err := g.src.Toggles()
	if err != nil {
		if g.warn.Allow() {
			g.log.Warn("toggle source unavailable; treating job as enabled", logx.String("feature", k.Feature), logx.Err(err))
		}
		return true
	}
	return FeatureEnabled(t, k.Feature)
}

// FeatureEnabled applies the toggle table. Features without a toggle are
// always on; sparkpowder and gunpowder also need the crafting master switch.
// Collection runs belong to the gacha loop and share its switch.
func FeatureEnabled(t config.Toggles, feature string) bool {
	switch feature {
	case job.FeatureGacha, job.FeatureCollect:
		return t.GachaEnabled
	case job.FeaturePego:
		return t.PegoEnabled
	case job.FeatureSparkpowder:
		return t.Crafting && t.SparkpowderEnabled
	case job.FeatureGunpowder:
		return t.Crafting && t.GunpowderEnabled
	default:
		return true
	}
}

// Names lists the switchable toggles in display order.
var Names = []string{"gacha_enabled", "pego_enabled", "crafting", "sparkpowder_enabled", "gunpowder_enabled"}

// Get reads a toggle by its config key.
func Get(t config.Toggles, name string) (bool, bool) {
	switch name {
	case "gacha_enabled", "gacha":
		return t.GachaEnabled, true
	case "pego_enabled", "pego":
		return t.PegoEnabled, true
	case "crafting":
		return t.Crafting, true
	case "sparkpowder_enabled", "sparkpowder":
		return t.SparkpowderEnabled, true
	case "gunpowder_enabled", "gunpowder":
		return t.GunpowderEnabled, true
	}
	return false, false
}

// Set returns t with the named toggle changed.
func Set(t config.Toggles, name string, v bool) (config.Toggles, bool) {
	switch name {
	case "gacha_enabled", "gacha":
		t.GachaEnabled = v
	case "pego_enabled", "pego":
		t.PegoEnabled = v
	case "crafting":
		t.Crafting = v
	case "sparkpowder_enabled", "sparkpowder":
		t.SparkpowderEnabled = v
	case "gunpowder_enabled", "gunpowder":
		t.GunpowderEnabled = v
	default:
		return t, false
	}
	return t, true
}

// Overlay layers operator overrides (from the dashboard) on top of a base
// Source such as the config manager. Overrides last until cleared or until
// the process exits.
type Overlay struct {
	base Source

	mu        sync.RWMutex
	overrides map[string]bool
}

func NewOverlay(base Source) *Overlay {
	return &Overlay{base: base, overrides: map[string]bool{}}
}

func (o *Overlay) Toggles() (config.Toggles, error) {
	if o.base == nil {
		return config.Toggles{}, ErrUnavailable
	}
	t, err := o.base.Toggles()
	if err != nil {
		return t, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for name, v := range o.overrides {
		t, _ = Set(t, name, v)
	}
	return t, nil
}

// Override pins a toggle. Unknown names are rejected.
func (o *Overlay) Override(name string, v bool) bool {
	if _, ok := Set(config.Toggles{}, name, v); !ok {
		return false
	}
	o.mu.Lock()
	o.overrides[canonical(name)] = v
	o.mu.Unlock()
	return true
}

// Clear drops every override so the base Source applies again.
func (o *Overlay) Clear() {
	o.mu.Lock()
	o.overrides = map[string]bool{}
	o.mu.Unlock()
}

func (o *Overlay) Overrides() map[string]bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]bool, len(o.overrides))
	for k, v := range o.overrides {
		out[k] = v
	}
	return out
}

func canonical(name string) string {
	switch name {
	case "gacha", "pego", "sparkpowder", "gunpowder":
		return name + "_enabled"
	}
	return name
}

// ConfigSource reads toggles from the live config manager.
func ConfigSource(m *config.ConfigManager) Source {
	return SourceFunc(func() (config.Toggles, error) {
		if m == nil {
			return config.Toggles{}, ErrUnavailable
		}
		cfg := m.Get()
		if cfg == nil {
			return config.Toggles{}, ErrUnavailable
		}
		return cfg.Toggles, nil
	})
}
