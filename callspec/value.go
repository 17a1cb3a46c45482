package callspec

import (
	"fmt"
	"math"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind string

const (
	KindScalar    Kind = "scalar"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindInterface Kind = "interface"
	KindVector    Kind = "vector"
)

// ScalarType names a primitive carried by a scalar or enum Value.
type ScalarType string

const (
	Bool    ScalarType = "bool"
	Int8    ScalarType = "int8"
	Uint8   ScalarType = "uint8"
	Int16   ScalarType = "int16"
	Uint16  ScalarType = "uint16"
	Int32   ScalarType = "int32"
	Uint32  ScalarType = "uint32"
	Int64   ScalarType = "int64"
	Uint64  ScalarType = "uint64"
	Float32 ScalarType = "float32"
	Float64 ScalarType = "float64"
	String  ScalarType = "string"
)

// Width returns the size of the scalar in bits. Strings report 0.
func (s ScalarType) Width() int {
	switch s {
	case Bool:
		return 1
	case Int8, Uint8:
		return 8
	case Int16, Uint16:
		return 16
	case Int32, Uint32, Float32:
		return 32
	case Int64, Uint64, Float64:
		return 64
	}
	return 0
}

// Signed reports whether s is a two's complement integer.
func (s ScalarType) Signed() bool {
	switch s {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return false
}

// IsFloat reports whether s is an IEEE-754 type.
func (s ScalarType) IsFloat() bool { return s == Float32 || s == Float64 }

// Valid reports whether s is one of the known scalar types.
func (s ScalarType) Valid() bool { return s == String || s.Width() > 0 }

// Mask returns a mask covering every bit of the scalar.
func (s ScalarType) Mask() uint64 {
	w := s.Width()
	if w >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << w) - 1
}

// Normalize truncates raw to the width of s and sign-extends signed types,
// so that equal numbers always carry equal bits.
func Normalize(s ScalarType, raw uint64) uint64 {
	w := s.Width()
	if w == 0 {
		return 0
	}
	raw &= s.Mask()
	if s.Signed() && w < 64 && raw&(uint64(1)<<(w-1)) != 0 {
		raw |= ^s.Mask()
	}
	return raw
}

// Value is a typed argument or return value. Which fields are meaningful
// depends on Kind:
//
//	scalar:    Scalar, Bits (numbers and bools) or Str (strings)
//	enum:      Type, Scalar (underlying), Bits, Enum (symbol, may be empty)
//	struct:    Type, Fields (each carrying its member Name)
//	interface: Type, Handle
//	vector:    Elems
type Value struct {
	Kind   Kind       `yaml:"kind"`
	Name   string     `yaml:"name,omitempty"`
	Type   string     `yaml:"type,omitempty"`
	Scalar ScalarType `yaml:"scalar,omitempty"`
	Bits   uint64     `yaml:"bits,omitempty"`
	Str    string     `yaml:"str,omitempty"`
	Enum   string     `yaml:"enum,omitempty"`
	Handle uint64     `yaml:"handle,omitempty"`
	Fields []Value    `yaml:"fields,omitempty"`
	Elems  []Value    `yaml:"elems,omitempty"`
}

// Scalar builds a numeric or bool scalar from raw bits.
func Scalar(t ScalarType, raw uint64) Value {
	return Value{Kind: KindScalar, Scalar: t, Bits: Normalize(t, raw)}
}

// Int builds a signed integer scalar.
func Int(t ScalarType, v int64) Value { return Scalar(t, uint64(v)) }

// Float builds a float scalar.
func Float(t ScalarType, f float64) Value {
	if t == Float32 {
		return Value{Kind: KindScalar, Scalar: t, Bits: uint64(math.Float32bits(float32(f)))}
	}
	return Value{Kind: KindScalar, Scalar: Float64, Bits: math.Float64bits(f)}
}

// Str builds a string scalar.
func Str(s string) Value { return Value{Kind: KindScalar, Scalar: String, Str: s} }

// Handle builds an interface-handle value for the fully qualified type name.
func Handle(typ string, id uint64) Value {
	return Value{Kind: KindInterface, Type: typ, Handle: id}
}

// Uint returns the raw bits as an unsigned number.
func (v Value) Uint() uint64 { return v.Bits }

// Int64 returns the bits as a signed number.
func (v Value) Int64() int64 { return int64(v.Bits) }

// Float64 decodes float scalars.
func (v Value) Float64() float64 {
	if v.Scalar == Float32 {
		return float64(math.Float32frombits(uint32(v.Bits)))
	}
	return math.Float64frombits(v.Bits)
}

// Named returns a copy of v carrying the member name.
func (v Value) Named(name string) Value {
	v.Name = name
	return v
}

// Equal reports deep equality, including interface handle ids.
func (v Value) Equal(o Value) bool { return equalValue(v, o, false) }

// EqualValues compares two value lists. When ignoreHandles is set, interface
// values only need to agree on their type.
func EqualValues(a, b []Value, ignoreHandles bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalValue(a[i], b[i], ignoreHandles) {
			return false
		}
	}
	return true
}

func equalValue(a, b Value, ignoreHandles bool) bool {
	if a.Kind != b.Kind || a.Name != b.Name || a.Type != b.Type || a.Scalar != b.Scalar {
		return false
	}
	switch a.Kind {
	case KindScalar:
		if a.Scalar == String {
			return a.Str == b.Str
		}
		return a.Bits == b.Bits
	case KindEnum:
		return a.Bits == b.Bits && a.Enum == b.Enum
	case KindInterface:
		return ignoreHandles || a.Handle == b.Handle
	case KindStruct:
		return EqualValues(a.Fields, b.Fields, ignoreHandles)
	case KindVector:
		return EqualValues(a.Elems, b.Elems, ignoreHandles)
	}
	return a.Bits == b.Bits && a.Str == b.Str && a.Handle == b.Handle
}

func (v Value) String() string {
	var b strings.Builder
	v.format(&b)
	return b.String()
}

func (v Value) format(b *strings.Builder) {
	if v.Name != "" {
		b.WriteString(v.Name)
		b.WriteByte('=')
	}
	switch v.Kind {
	case KindScalar:
		switch {
		case v.Scalar == String:
			fmt.Fprintf(b, "%q", v.Str)
		case v.Scalar == Bool:
			fmt.Fprintf(b, "%t", v.Bits != 0)
		case v.Scalar.IsFloat():
			fmt.Fprintf(b, "%g", v.Float64())
		case v.Scalar.Signed():
			fmt.Fprintf(b, "%d", v.Int64())
		default:
			fmt.Fprintf(b, "%d", v.Bits)
		}
	case KindEnum:
		if v.Enum != "" {
			b.WriteString(v.Enum)
		} else {
			fmt.Fprintf(b, "%s(%d)", v.Type, v.Int64())
		}
	case KindInterface:
		fmt.Fprintf(b, "%s@%#x", v.Type, v.Handle)
	case KindStruct:
		b.WriteByte('{')
		for i, f := range v.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			f.format(b)
		}
		b.WriteByte('}')
	case KindVector:
		b.WriteByte('[')
		for i, e := range v.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			e.format(b)
		}
		b.WriteByte(']')
	default:
		b.WriteString("<invalid>")
	}
}
