// Package mutate generates and mutates execution specs from interface
// schemas. All randomness comes from one seeded source, so equal seeds and
// inputs give equal outputs.
package mutate

import (
	"math/rand"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/schema"
)

// Mutator holds the configuration, the schema set used to type existing
// calls, and the random source.
type Mutator struct {
	cfg     Config
	schemas *schema.Set
	rnd     *rand.Rand
	total   int
}

// New validates cfg and seeds a mutator.
func New(cfg Config, schemas *schema.Set, seed int64) (*Mutator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if schemas == nil {
		schemas, _ = schema.NewSet()
	}
	m := &Mutator{cfg: cfg, schemas: schemas}
	for _, b := range cfg.Buckets {
		m.total += b.Weight
	}
	m.Reseed(seed)
	return m, nil
}

// Reseed restarts the random source.
func (m *Mutator) Reseed(seed int64) {
	m.rnd = rand.New(rand.NewSource(seed))
}

func (m *Mutator) odds(o Odds) bool {
	return uint64(m.rnd.Int63n(int64(o.For+o.Against))) < o.For
}

func callable(open []*schema.Interface) []*schema.Interface {
	out := make([]*schema.Interface, 0, len(open))
	for _, s := range open {
		if len(s.Methods) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// RandomGen builds a spec of 1 to sizeBound calls against the open
// interfaces. It returns an empty spec when nothing is callable.
func (m *Mutator) RandomGen(open []*schema.Interface, sizeBound int) callspec.ExecSpec {
	spec := callspec.ExecSpec{Valid: true}
	targets := callable(open)
	if len(targets) == 0 || sizeBound <= 0 {
		return spec
	}
	n := 1 + m.rnd.Intn(sizeBound)
	for i := 0; i < n; i++ {
		spec.Calls = append(spec.Calls, m.randomCall(targets))
	}
	return spec
}

func (m *Mutator) randomCall(targets []*schema.Interface) callspec.FuncCall {
	iface := targets[m.rnd.Intn(len(targets))]
	meth := iface.Methods[m.rnd.Intn(len(iface.Methods))]
	fn := callspec.FuncSpec{Name: meth.Name}
	for _, a := range meth.Args {
		fn.Args = append(fn.Args, m.randomValue(a, 0))
	}
	return callspec.FuncCall{Interface: iface.Name, Func: fn}
}

// Mutate perturbs spec in place: it either mutates one argument of a random
// call or replaces that call with a fresh one against the open interfaces.
// An empty spec gains one call.
func (m *Mutator) Mutate(open []*schema.Interface, spec *callspec.ExecSpec) {
	targets := callable(open)
	if len(spec.Calls) == 0 {
		if len(targets) > 0 {
			spec.Calls = append(spec.Calls, m.randomCall(targets))
		}
		return
	}
	idx := m.rnd.Intn(len(spec.Calls))
	if m.odds(m.cfg.FuncMutated) && m.mutateCall(&spec.Calls[idx]) {
		return
	}
	if len(targets) > 0 {
		spec.Calls[idx] = m.randomCall(targets)
	}
}

// mutateCall changes one argument. It reports false when the call has no
// argument to change.
func (m *Mutator) mutateCall(c *callspec.FuncCall) bool {
	if len(c.Func.Args) == 0 {
		return false
	}
	i := m.rnd.Intn(len(c.Func.Args))
	var t *schema.TypeSpec
	if iface, err := m.schemas.Lookup(c.Interface); err == nil {
		if meth, ok := iface.Method(c.Func.Name); ok && i < len(meth.Args) {
			t = &meth.Args[i]
		}
	}
	m.mutateValue(&c.Func.Args[i], t, 0)
	c.Func.Returns = nil
	return true
}

func (m *Mutator) resolved(t *schema.TypeSpec) (schema.TypeSpec, bool) {
	if t == nil {
		return schema.TypeSpec{}, false
	}
	r, err := m.schemas.Resolve(*t)
	if err != nil || r.Kind == "" {
		return schema.TypeSpec{}, false
	}
	return r, true
}

func (m *Mutator) resynth(v *callspec.Value, t schema.TypeSpec, depth int) {
	name := v.Name
	*v = m.randomValue(t, depth)
	v.Name = name
}

func (m *Mutator) flipBit(v *callspec.Value) {
	w := v.Scalar.Width()
	if w == 0 {
		return
	}
	v.Bits = callspec.Normalize(v.Scalar, v.Bits^(uint64(1)<<m.rnd.Intn(w)))
}

func (m *Mutator) mutateValue(v *callspec.Value, t *schema.TypeSpec, depth int) {
	spec, typed := m.resolved(t)
	if typed && spec.Kind != v.Kind {
		m.resynth(v, spec, depth)
		return
	}
	switch v.Kind {
	case callspec.KindScalar:
		switch {
		case v.Scalar == callspec.String:
			m.mutateString(v)
		case typed && m.rnd.Intn(2) == 0:
			m.resynth(v, spec, depth)
		default:
			m.flipBit(v)
		}
	case callspec.KindEnum:
		if typed {
			m.resynth(v, spec, depth)
			return
		}
		m.flipBit(v)
		v.Enum = ""
	case callspec.KindStruct:
		if len(v.Fields) == 0 {
			if typed {
				m.resynth(v, spec, depth)
			}
			return
		}
		i := m.rnd.Intn(len(v.Fields))
		var ft *schema.TypeSpec
		if typed && i < len(spec.Fields) {
			ft = &spec.Fields[i]
		}
		m.mutateValue(&v.Fields[i], ft, depth+1)
	case callspec.KindVector:
		if typed && (len(v.Elems) == 0 || m.rnd.Intn(4) == 0) {
			m.resynth(v, spec, depth)
			return
		}
		if len(v.Elems) == 0 {
			return
		}
		i := m.rnd.Intn(len(v.Elems))
		var et *schema.TypeSpec
		if typed {
			et = spec.Elem
		}
		m.mutateValue(&v.Elems[i], et, depth+1)
	}
}

func (m *Mutator) mutateString(v *callspec.Value) {
	if len(v.Str) == 0 {
		v.Str = m.randomString()
		return
	}
	b := []byte(v.Str)
	b[m.rnd.Intn(len(b))] = byte(0x20 + m.rnd.Intn(0x7f-0x20))
	v.Str = string(b)
}
