package schema

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Set is an immutable collection of loaded interface schemas.
type Set struct {
	byName     map[string]*Interface
	byFQName   map[string]*Interface
	predefined map[string]TypeSpec
	all        []*Interface
}

// NewSet indexes the given schemas and harvests their predefined types.
// Interface names must be unique across the set.
func NewSet(ifaces ...*Interface) (*Set, error) {
	s := &Set{
		byName:   make(map[string]*Interface, len(ifaces)),
		byFQName: make(map[string]*Interface, len(ifaces)),
	}
	for _, iface := range ifaces {
		if err := iface.validate(); err != nil {
			return nil, err
		}
		if prev, ok := s.byName[iface.Name]; ok {
			return nil, fmt.Errorf("interface %s declared twice (%s and %s)", iface.Name, prev.FQName(), iface.FQName())
		}
		s.byName[iface.Name] = iface
		s.byFQName[iface.FQName()] = iface
		s.all = append(s.all, iface)
	}
	sort.Slice(s.all, func(i, j int) bool { return s.all[i].Name < s.all[j].Name })
	s.predefined = harvest(s.all)
	return s, nil
}

// Parse decodes one YAML schema document.
func Parse(raw []byte) (*Interface, error) {
	var iface Interface
	if err := yaml.Unmarshal(raw, &iface); err != nil {
		return nil, err
	}
	if err := iface.validate(); err != nil {
		return nil, err
	}
	return &iface, nil
}

// LoadDir walks dir for *.yaml and *.yml files, one interface per file.
// Schemas are expected under <dir>/<package path>/<version>/ but any layout
// is accepted.
func LoadDir(dir string) (*Set, error) {
	var ifaces []*Interface
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		iface, err := Parse(raw)
		if err != nil {
			return fmt.Errorf("parse schema %s: %w", path, err)
		}
		ifaces = append(ifaces, iface)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewSet(ifaces...)
}

// Lookup finds an interface by its short name ("IFoo").
func (s *Set) Lookup(name string) (*Interface, error) {
	if iface, ok := s.byName[name]; ok {
		return iface, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
}

// Find finds an interface by package, version and name.
func (s *Set) Find(pkg, version, name string) (*Interface, error) {
	fq := fmt.Sprintf("%s@%s::%s", pkg, version, name)
	if iface, ok := s.byFQName[fq]; ok {
		return iface, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, fq)
}

// All returns the schemas sorted by name.
func (s *Set) All() []*Interface {
	return append([]*Interface(nil), s.all...)
}

// Len returns the number of schemas.
func (s *Set) Len() int { return len(s.all) }

// Predefined returns the shape of a named struct or enum.
func (s *Set) Predefined(typ string) (TypeSpec, bool) {
	t, ok := s.predefined[typ]
	return t, ok
}

// Resolve replaces a reference with its predefined body. Non-references are
// returned unchanged.
func (s *Set) Resolve(t TypeSpec) (TypeSpec, error) {
	if !t.IsRef() {
		return t, nil
	}
	def, ok := s.predefined[t.Type]
	if !ok {
		return t, fmt.Errorf("%w: predefined type %s", ErrSchemaNotFound, t.Type)
	}
	def.Name = t.Name
	return def, nil
}
