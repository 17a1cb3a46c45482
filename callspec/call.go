package callspec

import (
	"fmt"
	"strings"
)

// FuncSpec is one method invocation: the method name, its arguments and,
// once executed or recorded, its return values.
type FuncSpec struct {
	Name    string  `yaml:"name"`
	Args    []Value `yaml:"args,omitempty"`
	Returns []Value `yaml:"returns,omitempty"`
}

// FuncCall binds a FuncSpec to the interface it targets.
type FuncCall struct {
	Interface string   `yaml:"interface"`
	Func      FuncSpec `yaml:"func"`
}

// ExecSpec is the unit the fuzzer mutates and executes.
type ExecSpec struct {
	Calls []FuncCall `yaml:"calls"`
	// Valid separates well-formed specs from arbitrary corpus bytes that
	// happen to decode.
	Valid bool `yaml:"valid"`
}

// Signature renders "name(arg, ...)" for logs.
func (f FuncSpec) Signature() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

func (c FuncCall) String() string {
	return c.Interface + "::" + c.Func.Signature()
}

// Clone returns a deep copy of the spec.
func (e ExecSpec) Clone() ExecSpec {
	out := ExecSpec{Valid: e.Valid, Calls: make([]FuncCall, len(e.Calls))}
	for i, c := range e.Calls {
		out.Calls[i] = FuncCall{Interface: c.Interface, Func: c.Func.Clone()}
	}
	return out
}

// Clone returns a deep copy of f.
func (f FuncSpec) Clone() FuncSpec {
	return FuncSpec{Name: f.Name, Args: cloneValues(f.Args), Returns: cloneValues(f.Returns)}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	v.Fields = cloneValues(v.Fields)
	v.Elems = cloneValues(v.Elems)
	return v
}

func cloneValues(vs []Value) []Value {
	if vs == nil {
		return nil
	}
	out := make([]Value, len(vs))
	for i := range vs {
		out[i] = vs[i].Clone()
	}
	return out
}
