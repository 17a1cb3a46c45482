// Package coverage holds sets of covered code locations and the per-trace
// coverage files used by trace selection.
package coverage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// LocationID maps a location string ("file:line", a block id) to the key
// stored in a Map.
func LocationID(loc string) uint64 {
	return xxhash.Sum64String(loc)
}

// Map is a set of covered locations.
type Map map[uint64]struct{}

// FromLocations builds a Map from location strings.
func FromLocations(locs []string) Map {
	m := make(Map, len(locs))
	for _, l := range locs {
		m[LocationID(l)] = struct{}{}
	}
	return m
}

// Add marks id as covered.
func (m Map) Add(id uint64) { m[id] = struct{}{} }

// Contains reports whether id is covered.
func (m Map) Contains(id uint64) bool {
	_, ok := m[id]
	return ok
}

// Len returns the number of covered locations.
func (m Map) Len() int { return len(m) }

// Gain returns how many locations of o are not in m.
func (m Map) Gain(o Map) int {
	n := 0
	for id := range o {
		if _, ok := m[id]; !ok {
			n++
		}
	}
	return n
}

// Union adds every location of o to m.
func (m Map) Union(o Map) {
	for id := range o {
		m[id] = struct{}{}
	}
}

// Intersect returns the locations present in both maps.
func (m Map) Intersect(o Map) Map {
	out := make(Map)
	for id := range m {
		if _, ok := o[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// File is one coverage file: the locations covered by replaying one trace.
type File struct {
	// Name is the coverage file name relative to its directory.
	Name string `yaml:"-"`
	// Trace is the trace file name; it defaults to Name without extension.
	Trace   string   `yaml:"trace"`
	Total   int      `yaml:"total"`
	Covered []string `yaml:"covered"`

	locations Map
}

// Locations returns the covered set.
func (f *File) Locations() Map {
	if f.locations == nil {
		f.locations = FromLocations(f.Covered)
	}
	return f.locations
}

// Load reads one coverage file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := new(File)
	if err := yaml.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("coverage file %s: %w", path, err)
	}
	f.Name = filepath.Base(path)
	if f.Trace == "" {
		f.Trace = strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
	}
	if f.Total < 0 {
		return nil, fmt.Errorf("coverage file %s: negative total", path)
	}
	return f, nil
}

// LoadDir reads every *.yaml/*.yml file under dir, sorted by name.
func LoadDir(dir string) ([]*File, error) {
	var out []*File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
		default:
			return nil
		}
		f, err := Load(path)
		if err != nil {
			return err
		}
		if rel, err := filepath.Rel(dir, path); err == nil {
			f.Name = rel
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
