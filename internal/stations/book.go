package stations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a station book; the format follows the path extension
// (.yaml/.yml, .toml, anything else is JSON). Unknown JSON fields are
// rejected.
func Decode(path string, b []byte) (*File, error) {
	f := &File{}
	switch format(path) {
	case "yaml":
		if err := yaml.Unmarshal(b, f); err != nil {
			return nil, fmt.Errorf("yaml decode: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(b), f); err != nil {
			return nil, fmt.Errorf("toml decode: %w", err)
		}
	default:
		if len(bytes.TrimSpace(b)) == 0 {
			return f, nil
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(f); err != nil {
			return nil, fmt.Errorf("json decode: %w", err)
		}
	}
	return f, nil
}

// Encode renders f in the format selected by path.
func Encode(path string, f *File) ([]byte, error) {
	switch format(path) {
	case "yaml":
		return yaml.Marshal(f)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(f); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		b, err := json.MarshalIndent(f, "", "    ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	}
	return "json"
}

// Book is a station file kept in memory and written back on change.
// It is safe for concurrent use.
type Book struct {
	path string

	mu   sync.Mutex
	file File
}

// Open loads the book at path. A missing file yields an empty book that is
// created on the first Add.
func Open(path string) (*Book, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("stations file path is required")
	}
	b := &Book{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	f, err := Decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("stations %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("stations %s: %w", path, err)
	}
	b.file = *f
	return b, nil
}

func (b *Book) Path() string { return b.path }

// File returns a copy of the current book.
func (b *Book) File() File {
	b.mu.Lock()
	defer b.mu.Unlock()
	return File{
		Gacha:       append([]Gacha(nil), b.file.Gacha...),
		Pego:        append([]Pego(nil), b.file.Pego...),
		Sparkpowder: append([]Crafting(nil), b.file.Sparkpowder...),
		Gunpowder:   append([]Crafting(nil), b.file.Gunpowder...),
		Collect:     append([]Collect(nil), b.file.Collect...),
	}
}

// AddGacha appends a gacha station and saves the book.
func (b *Book) AddGacha(g Gacha) error {
	return b.add(func(f *File) { f.Gacha = append(f.Gacha, g) }, g.Name)
}

// AddPego appends a pego station and saves the book.
func (b *Book) AddPego(p Pego) error {
	return b.add(func(f *File) { f.Pego = append(f.Pego, p) }, p.Name)
}

func (b *Book) add(mutate func(f *File), name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file.has(name) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	next := b.file
	next.Gacha = append([]Gacha(nil), b.file.Gacha...)
	next.Pego = append([]Pego(nil), b.file.Pego...)
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if err := b.saveLocked(&next); err != nil {
		return err
	}
	b.file = next
	return nil
}

// List renders the stations of one kind.
func (b *Book) List(kind string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.List(kind)
}

func (b *Book) saveLocked(f *File) error {
	data, err := Encode(b.path, f)
	if err != nil {
		return fmt.Errorf("encode stations: %w", err)
	}
	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write stations: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace stations file: %w", err)
	}
	return nil
}
