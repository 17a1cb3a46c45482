package mutate

import (
	"math"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/schema"
)

// maxGenDepth stops recursion through self-referencing struct types.
const maxGenDepth = 8

// pickBucket draws a bucket index by weight.
func (m *Mutator) pickBucket() int {
	n := m.rnd.Intn(m.total)
	for i, b := range m.cfg.Buckets {
		if n < b.Weight {
			return i
		}
		n -= b.Weight
	}
	return len(m.cfg.Buckets) - 1
}

// scalarBits draws raw bits for a numeric or bool scalar.
func (m *Mutator) scalarBits(t callspec.ScalarType) uint64 {
	b := m.cfg.Buckets[m.pickBucket()]
	switch b.Tag {
	case TagSentinel:
		return callspec.Normalize(t, math.MaxUint64)
	case TagUniform:
		return callspec.Normalize(t, m.rnd.Uint64())
	}
	n := b.Range.Min + m.below(b.Range.Max-b.Range.Min)
	if t.IsFloat() {
		return callspec.Float(t, float64(n)).Bits
	}
	return callspec.Normalize(t, n)
}

// below returns a uniform number in [0, span].
func (m *Mutator) below(span uint64) uint64 {
	if span == math.MaxUint64 {
		return m.rnd.Uint64()
	}
	if span < math.MaxInt64 {
		return uint64(m.rnd.Int63n(int64(span + 1)))
	}
	return m.rnd.Uint64() % (span + 1)
}

func (m *Mutator) randomString() string {
	if m.cfg.MaxStringLen <= 0 {
		return ""
	}
	b := make([]byte, m.rnd.Intn(m.cfg.MaxStringLen+1))
	for i := range b {
		b[i] = byte(0x20 + m.rnd.Intn(0x7f-0x20))
	}
	return string(b)
}

func (m *Mutator) randomScalar(t callspec.ScalarType) callspec.Value {
	if t == callspec.String {
		return callspec.Str(m.randomString())
	}
	return callspec.Value{Kind: callspec.KindScalar, Scalar: t, Bits: m.scalarBits(t)}
}

// RandomValue synthesizes a value of type t.
func (m *Mutator) RandomValue(t schema.TypeSpec) callspec.Value {
	return m.randomValue(t, 0)
}

func (m *Mutator) randomValue(t schema.TypeSpec, depth int) callspec.Value {
	if r, err := m.schemas.Resolve(t); err == nil {
		t = r
	}
	var v callspec.Value
	switch t.Kind {
	case callspec.KindScalar:
		v = m.randomScalar(t.Scalar)
	case callspec.KindEnum:
		v = m.randomEnum(t)
	case callspec.KindStruct:
		v = callspec.Value{Kind: callspec.KindStruct, Type: t.Type}
		if depth < maxGenDepth {
			for _, f := range t.Fields {
				v.Fields = append(v.Fields, m.randomValue(f, depth+1))
			}
		}
	case callspec.KindVector:
		v = callspec.Value{Kind: callspec.KindVector}
		if depth < maxGenDepth && t.Elem != nil && m.cfg.MaxVectorLen > 0 {
			n := m.rnd.Intn(m.cfg.MaxVectorLen + 1)
			for i := 0; i < n; i++ {
				v.Elems = append(v.Elems, m.randomValue(*t.Elem, depth+1))
			}
		}
	case callspec.KindInterface:
		// Live handles cannot be synthesized; pass the null handle.
		v = callspec.Handle(t.Type, 0)
	default:
		v = callspec.Value{Kind: t.Kind, Type: t.Type}
	}
	v.Name = t.Name
	return v
}

func (m *Mutator) randomEnum(t schema.TypeSpec) callspec.Value {
	v := callspec.Value{Kind: callspec.KindEnum, Type: t.Type, Scalar: callspec.Uint32}
	if t.Enum == nil {
		v.Bits = m.scalarBits(v.Scalar)
		return v
	}
	v.Scalar = t.Enum.Scalar
	if len(t.Enum.Values) == 0 || m.odds(m.cfg.EnumBias) {
		v.Bits = m.scalarBits(v.Scalar)
		return v
	}
	sym := t.Enum.Values[m.rnd.Intn(len(t.Enum.Values))]
	v.Enum = sym.Name
	v.Bits = callspec.Normalize(v.Scalar, uint64(sym.Value))
	return v
}
