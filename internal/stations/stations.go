// Package stations loads the station book (gacha, pego, crafting and
// collection points) and turns it into scheduler jobs.
//
// The book is a single JSON, YAML or TOML file, chosen by extension:
//
//	gacha:
//	  - {name: g1, teleporter: tp_g1, resource_type: berry, side: left}
//	pego:
//	  - {name: p1, teleporter: tp_p1, delay: 1800}
//	sparkpowder:
//	  - {name: s1, teleporter: tp_s1, delay: 1800, initial_delay: 60}
//	gunpowder: []
//	collect:
//	  - {name: c1, teleporter: tp_c1, side: right, depot: tp_depot}
package stations

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExists   = errors.New("station already exists")
	ErrReserved = errors.New("station name is reserved")
)

// Kinds of stations in a book.
const (
	KindGacha       = "gacha"
	KindPego        = "pego"
	KindSparkpowder = "sparkpowder"
	KindGunpowder   = "gunpowder"
	KindCollect     = "collect"
)

// Kinds lists the station kinds in display order.
var Kinds = []string{KindGacha, KindPego, KindSparkpowder, KindGunpowder, KindCollect}

type Gacha struct {
	Name         string `json:"name" yaml:"name" toml:"name"`
	Teleporter   string `json:"teleporter" yaml:"teleporter" toml:"teleporter"`
	ResourceType string `json:"resource_type" yaml:"resource_type" toml:"resource_type"`
	Side         string `json:"side" yaml:"side" toml:"side"`
}

// Pego stations requeue after their own Delay (seconds); coverage differs
// per station.
type Pego struct {
	Name       string `json:"name" yaml:"name" toml:"name"`
	Teleporter string `json:"teleporter" yaml:"teleporter" toml:"teleporter"`
	Delay      int    `json:"delay" yaml:"delay" toml:"delay"`
}

// Crafting is a sparkpowder or gunpowder station. Delay 0 selects the
// kind's default.
type Crafting struct {
	Name          string `json:"name" yaml:"name" toml:"name"`
	Teleporter    string `json:"teleporter" yaml:"teleporter" toml:"teleporter"`
	Delay         int    `json:"delay,omitempty" yaml:"delay,omitempty" toml:"delay,omitempty"`
	InitialDelay  int    `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty" toml:"initial_delay,omitempty"`
	DepositHeight int    `json:"deposit_height,omitempty" yaml:"deposit_height,omitempty" toml:"deposit_height,omitempty"`
}

// Collect empties a gacha into a depot.
type Collect struct {
	Name       string `json:"name" yaml:"name" toml:"name"`
	Teleporter string `json:"teleporter" yaml:"teleporter" toml:"teleporter"`
	Side       string `json:"side" yaml:"side" toml:"side"`
	Depot      string `json:"depot" yaml:"depot" toml:"depot"`
}

// File is the on-disk station book.
type File struct {
	Gacha       []Gacha    `json:"gacha" yaml:"gacha" toml:"gacha"`
	Pego        []Pego     `json:"pego" yaml:"pego" toml:"pego"`
	Sparkpowder []Crafting `json:"sparkpowder,omitempty" yaml:"sparkpowder,omitempty" toml:"sparkpowder,omitempty"`
	Gunpowder   []Crafting `json:"gunpowder,omitempty" yaml:"gunpowder,omitempty" toml:"gunpowder,omitempty"`
	Collect     []Collect  `json:"collect,omitempty" yaml:"collect,omitempty" toml:"collect,omitempty"`
}

// reservedNames are job names used by built-in jobs.
var reservedNames = map[string]struct{}{
	"pause":       {},
	"maintenance": {},
	"render":      {},
}

// Names returns every station name in the book.
func (f *File) Names() []string {
	var out []string
	for _, g := range f.Gacha {
		out = append(out, g.Name)
	}
	for _, p := range f.Pego {
		out = append(out, p.Name)
	}
	for _, c := range f.Sparkpowder {
		out = append(out, c.Name)
	}
	for _, c := range f.Gunpowder {
		out = append(out, c.Name)
	}
	for _, c := range f.Collect {
		out = append(out, c.Name)
	}
	return out
}

func (f *File) has(name string) bool {
	for _, n := range f.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Validate checks names are present, unique across kinds and not reserved,
// and that pego delays are positive.
func (f *File) Validate() error {
	var errs []error
	seen := map[string]struct{}{}
	check := func(kind, name, teleporter string) {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%s: station without name", kind))
			return
		case strings.TrimSpace(teleporter) == "":
			errs = append(errs, fmt.Errorf("%s %q: teleporter required", kind, name))
		}
		if _, ok := reservedNames[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q: %w", kind, name, ErrReserved))
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s %q: %w", kind, name, ErrExists))
		}
		seen[name] = struct{}{}
	}
	for _, g := range f.Gacha {
		check(KindGacha, g.Name, g.Teleporter)
	}
	for _, p := range f.Pego {
		check(KindPego, p.Name, p.Teleporter)
		if p.Delay <= 0 {
			errs = append(errs, fmt.Errorf("pego %q: delay must be > 0", p.Name))
		}
	}
	for _, c := range f.Sparkpowder {
		check(KindSparkpowder, c.Name, c.Teleporter)
	}
	for _, c := range f.Gunpowder {
		check(KindGunpowder, c.Name, c.Teleporter)
	}
	for _, c := range f.Collect {
		check(KindCollect, c.Name, c.Teleporter)
	}
	return errors.Join(errs...)
}

// List renders one line per station of kind.
func (f *File) List(kind string) ([]string, error) {
	var out []string
	switch kind {
	case KindGacha:
		for _, g := range f.Gacha {
			out = append(out, fmt.Sprintf("%s: teleporter %s, resource %s, side %s", g.Name, g.Teleporter, g.ResourceType, g.Side))
		}
	case KindPego:
		for _, p := range f.Pego {
			out = append(out, fmt.Sprintf("%s: teleporter %s, delay %ds", p.Name, p.Teleporter, p.Delay))
		}
	case KindSparkpowder, KindGunpowder:
		list := f.Sparkpowder
		if kind == KindGunpowder {
			list = f.Gunpowder
		}
		for _, c := range list {
			out = append(out, fmt.Sprintf("%s: teleporter %s, delay %ds, initial %ds", c.Name, c.Teleporter, c.Delay, c.InitialDelay))
		}
	case KindCollect:
		for _, c := range f.Collect {
			out = append(out, fmt.Sprintf("%s: teleporter %s, side %s, depot %s", c.Name, c.Teleporter, c.Side, c.Depot))
		}
	default:
		return nil, fmt.Errorf("unknown station kind %q", kind)
	}
	return out, nil
}
