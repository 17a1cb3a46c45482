package schema

import (
	"errors"
	"fmt"
	"strings"

	"alma.local/ifuzz/callspec"
)

// ErrSchemaNotFound is returned when no loaded schema matches a lookup.
var ErrSchemaNotFound = errors.New("schema: not found")

// EnumValue is one declared symbol of an enum.
type EnumValue struct {
	Name  string `yaml:"name"`
	Value int64  `yaml:"value"`
}

// EnumSpec describes an enum body.
type EnumSpec struct {
	Scalar callspec.ScalarType `yaml:"scalar"`
	Values []EnumValue         `yaml:"values"`
}

// TypeSpec describes the shape of an argument, return value, struct member
// or vector element. A struct or enum that names a Type but carries no body
// refers to a predefined type.
type TypeSpec struct {
	Kind   callspec.Kind       `yaml:"kind"`
	Name   string              `yaml:"name,omitempty"`
	Type   string              `yaml:"type,omitempty"`
	Scalar callspec.ScalarType `yaml:"scalar,omitempty"`
	Fields []TypeSpec          `yaml:"fields,omitempty"`
	Elem   *TypeSpec           `yaml:"elem,omitempty"`
	Enum   *EnumSpec           `yaml:"enum,omitempty"`
}

// IsRef reports whether t must be resolved through the predefined types.
func (t TypeSpec) IsRef() bool {
	switch t.Kind {
	case callspec.KindStruct:
		return t.Type != "" && len(t.Fields) == 0
	case callspec.KindEnum:
		return t.Type != "" && t.Enum == nil
	}
	return false
}

// Method is one callable entry of an interface.
type Method struct {
	Name    string     `yaml:"name"`
	Args    []TypeSpec `yaml:"args,omitempty"`
	Returns []TypeSpec `yaml:"returns,omitempty"`
}

// Interface is the typed description of one component interface. It is
// immutable once loaded.
type Interface struct {
	Package string     `yaml:"package"`
	Version string     `yaml:"version"`
	Name    string     `yaml:"name"`
	Types   []TypeSpec `yaml:"types,omitempty"`
	Methods []Method   `yaml:"methods"`
}

// FQName returns "<package>@<version>::<name>".
func (s *Interface) FQName() string {
	return fmt.Sprintf("%s@%s::%s", s.Package, s.Version, s.Name)
}

// Method finds a method by name.
func (s *Interface) Method(name string) (*Method, bool) {
	for i := range s.Methods {
		if s.Methods[i].Name == name {
			return &s.Methods[i], true
		}
	}
	return nil, false
}

// MajorMinor splits a "1.0" style version.
func MajorMinor(version string) (string, string) {
	major, minor, ok := strings.Cut(version, ".")
	if !ok {
		return major, "0"
	}
	return major, minor
}

// StripNamespace drops everything up to and including the last ':' of a
// fully qualified type name, so "pkg@1.0::IFoo" becomes "IFoo".
func StripNamespace(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (s *Interface) validate() error {
	if s.Package == "" || s.Version == "" || s.Name == "" {
		return fmt.Errorf("schema is missing package, version or name: %q@%q::%q", s.Package, s.Version, s.Name)
	}
	seen := make(map[string]bool, len(s.Methods))
	for _, m := range s.Methods {
		if m.Name == "" {
			return fmt.Errorf("%s: method without a name", s.FQName())
		}
		if seen[m.Name] {
			return fmt.Errorf("%s: duplicate method %s", s.FQName(), m.Name)
		}
		seen[m.Name] = true
		for _, a := range append(append([]TypeSpec{}, m.Args...), m.Returns...) {
			if err := a.validate(); err != nil {
				return fmt.Errorf("%s.%s: %w", s.FQName(), m.Name, err)
			}
		}
	}
	for _, t := range s.Types {
		if t.Type == "" {
			return fmt.Errorf("%s: predefined type without a name", s.FQName())
		}
		if err := t.validate(); err != nil {
			return fmt.Errorf("%s: %s: %w", s.FQName(), t.Type, err)
		}
	}
	return nil
}

func (t TypeSpec) validate() error {
	switch t.Kind {
	case callspec.KindScalar:
		if !t.Scalar.Valid() {
			return fmt.Errorf("scalar %q has unknown type %q", t.Name, t.Scalar)
		}
	case callspec.KindStruct:
		for _, f := range t.Fields {
			if err := f.validate(); err != nil {
				return err
			}
		}
	case callspec.KindEnum:
		if t.Enum != nil && (t.Enum.Scalar.Width() == 0 || t.Enum.Scalar.IsFloat()) {
			return fmt.Errorf("enum %q needs an integer scalar, got %q", t.Type, t.Enum.Scalar)
		}
	case callspec.KindInterface:
		if t.Type == "" {
			return fmt.Errorf("interface %q without a type name", t.Name)
		}
	case callspec.KindVector:
		if t.Elem == nil {
			return fmt.Errorf("vector %q without an element type", t.Name)
		}
		return t.Elem.validate()
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	return nil
}
