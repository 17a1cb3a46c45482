// Package fixture provides in-memory schemas and adapters used by tests
// across packages.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"alma.local/ifuzz/adapter"
	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/schema"
)

// BarYAML describes the root interface. getFoo returns an IFoo handle.
const BarYAML = `
package: android.hardware.tests.bar
version: "1.0"
name: IBar
types:
  - kind: enum
    type: android.hardware.tests.bar@1.0::Color
    enum:
      scalar: uint8
      values:
        - {name: RED, value: 0}
        - {name: GREEN, value: 1}
        - {name: BLUE, value: 2}
  - kind: struct
    type: android.hardware.tests.bar@1.0::Pair
    fields:
      - {kind: scalar, name: key, scalar: string}
      - {kind: enum, name: color, type: "android.hardware.tests.bar@1.0::Color"}
methods:
  - name: doThis
    args:
      - {kind: scalar, name: f, scalar: float32}
  - name: add
    args:
      - {kind: scalar, name: a, scalar: int32}
      - {kind: scalar, name: b, scalar: int32}
    returns:
      - {kind: scalar, scalar: int32}
  - name: setPair
    args:
      - {kind: struct, name: p, type: "android.hardware.tests.bar@1.0::Pair"}
  - name: getColor
    args:
      - {kind: enum, name: c, type: "android.hardware.tests.bar@1.0::Color"}
    returns:
      - {kind: enum, type: "android.hardware.tests.bar@1.0::Color"}
  - name: getFoo
    returns:
      - {kind: interface, type: "android.hardware.tests.foo@1.0::IFoo"}
`

// FooYAML describes the interface reachable only through IBar.getFoo.
const FooYAML = `
package: android.hardware.tests.foo
version: "1.0"
name: IFoo
methods:
  - name: bar
    args:
      - kind: vector
        name: xs
        elem: {kind: scalar, scalar: int32}
    returns:
      - {kind: scalar, scalar: uint32}
  - name: ping
    returns:
      - {kind: scalar, scalar: bool}
`

// FooType is the qualified type name getFoo returns.
const FooType = "android.hardware.tests.foo@1.0::IFoo"

// Schemas parses BarYAML and FooYAML.
func Schemas() *schema.Set {
	var ifaces []*schema.Interface
	for _, raw := range []string{BarYAML, FooYAML} {
		iface, err := schema.Parse([]byte(raw))
		if err != nil {
			panic(fmt.Sprintf("fixture schema: %v", err))
		}
		ifaces = append(ifaces, iface)
	}
	set, err := schema.NewSet(ifaces...)
	if err != nil {
		panic(fmt.Sprintf("fixture schema set: %v", err))
	}
	return set
}

// Service is a fake backend for IBar and IFoo. It records every call and
// every binding attempt.
type Service struct {
	// PassthroughFails makes in-process binding fail.
	PassthroughFails bool
	// BinderFails makes cross-process binding fail.
	BinderFails bool
	// Failing names methods that return an error.
	Failing map[string]bool

	mu         sync.Mutex
	calls      []string
	binds      []string
	nextHandle uint64
	wrapped    []uint64
}

// Calls returns "<iface>.<method>" for every call so far.
func (s *Service) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Binds returns the binding attempts, "passthrough" or "binder".
func (s *Service) Binds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.binds...)
}

// Wrapped returns the handles passed to the IFoo handle constructor.
func (s *Service) Wrapped() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.wrapped...)
}

// Provider registers both interfaces with a fresh static provider.
func (s *Service) Provider(set *schema.Set) *adapter.Static {
	p := adapter.NewStatic()
	bar, _ := set.Lookup("IBar")
	foo, _ := set.Lookup("IFoo")
	p.RegisterInterface(bar, func(context.Context, uint64) (adapter.Adapter, error) {
		return s.table("IBar", s.barMethods()), nil
	}, nil)
	p.RegisterInterface(foo, func(context.Context, uint64) (adapter.Adapter, error) {
		return s.table("IFoo", s.fooMethods()), nil
	}, func(_ context.Context, h uint64) (adapter.Adapter, error) {
		s.mu.Lock()
		s.wrapped = append(s.wrapped, h)
		s.mu.Unlock()
		return s.table("IFoo", s.fooMethods()), nil
	})
	return p
}

func (s *Service) table(iface string, methods map[string]adapter.Handler) *adapter.MethodTable {
	wrapped := make(map[string]adapter.Handler, len(methods))
	for name, h := range methods {
		name, h := name, h
		wrapped[name] = func(ctx context.Context, args []callspec.Value) ([]callspec.Value, error) {
			s.mu.Lock()
			s.calls = append(s.calls, iface+"."+name)
			fail := s.Failing[name]
			s.mu.Unlock()
			if fail {
				return nil, errors.New("service failure")
			}
			return h(ctx, args)
		}
	}
	return &adapter.MethodTable{
		Methods: wrapped,
		Bind: func(passthrough bool, _ string) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if passthrough {
				s.binds = append(s.binds, "passthrough")
				if s.PassthroughFails {
					return errors.New("no passthrough implementation")
				}
				return nil
			}
			s.binds = append(s.binds, "binder")
			if s.BinderFails {
				return errors.New("service not registered")
			}
			return nil
		},
	}
}

func (s *Service) barMethods() map[string]adapter.Handler {
	return map[string]adapter.Handler{
		"doThis":  func(context.Context, []callspec.Value) ([]callspec.Value, error) { return nil, nil },
		"setPair": func(context.Context, []callspec.Value) ([]callspec.Value, error) { return nil, nil },
		"add": func(_ context.Context, args []callspec.Value) ([]callspec.Value, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("add takes 2 args, got %d", len(args))
			}
			return []callspec.Value{callspec.Int(callspec.Int32, args[0].Int64()+args[1].Int64())}, nil
		},
		"getColor": func(_ context.Context, args []callspec.Value) ([]callspec.Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("getColor takes 1 arg, got %d", len(args))
			}
			return []callspec.Value{args[0].Named("")}, nil
		},
		"getFoo": func(context.Context, []callspec.Value) ([]callspec.Value, error) {
			s.mu.Lock()
			s.nextHandle++
			h := 0x1000 + s.nextHandle
			s.mu.Unlock()
			return []callspec.Value{callspec.Handle(FooType, h)}, nil
		},
	}
}

func (s *Service) fooMethods() map[string]adapter.Handler {
	return map[string]adapter.Handler{
		"bar": func(_ context.Context, args []callspec.Value) ([]callspec.Value, error) {
			n := 0
			if len(args) == 1 {
				n = len(args[0].Elems)
			}
			return []callspec.Value{callspec.Scalar(callspec.Uint32, uint64(n))}, nil
		},
		"ping": func(context.Context, []callspec.Value) ([]callspec.Value, error) {
			return []callspec.Value{callspec.Scalar(callspec.Bool, 1)}, nil
		},
	}
}
