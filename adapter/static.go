package adapter

import (
	"context"
	"fmt"
	"sync"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/schema"
)

// Default is the process-wide compiled-in provider. Adapter packages
// register themselves here from init.
var Default = NewStatic()

// Static is a Provider over modules registered in process.
type Static struct {
	mu      sync.RWMutex
	modules map[string]*StaticModule
}

// NewStatic returns an empty provider.
func NewStatic() *Static {
	return &Static{modules: make(map[string]*StaticModule)}
}

// Register adds symbol to module, creating the module on first use.
func (s *Static) Register(module, symbol string, ctor Constructor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[module]
	if !ok {
		m = &StaticModule{name: module, symbols: make(map[string]Constructor)}
		s.modules[module] = m
	}
	m.symbols[symbol] = ctor
}

// RegisterInterface registers both constructors of iface under its driver
// name. Either constructor may be nil.
func (s *Static) RegisterInterface(iface *schema.Interface, open, wrap Constructor) {
	module := DriverName(iface.Package, iface.Version)
	if open != nil {
		s.Register(module, EntrySymbol(iface, false), open)
	}
	if wrap != nil {
		s.Register(module, EntrySymbol(iface, true), wrap)
	}
}

// Open implements Provider.
func (s *Static) Open(_ context.Context, name string) (Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return m, nil
}

// StaticModule is a module registered with Static.
type StaticModule struct {
	name    string
	symbols map[string]Constructor
}

func (m *StaticModule) Name() string { return m.name }

func (m *StaticModule) Lookup(symbol string) (Constructor, bool) {
	c, ok := m.symbols[symbol]
	return c, ok
}

// Handler implements one method of a MethodTable.
type Handler func(ctx context.Context, args []callspec.Value) ([]callspec.Value, error)

// MethodTable is an Adapter built from per-method handlers, for adapters
// written directly in Go.
type MethodTable struct {
	Methods map[string]Handler
	// Bind is consulted by GetService. A nil Bind accepts every mode.
	Bind func(passthrough bool, service string) error
}

// Call implements Adapter.
func (t *MethodTable) Call(ctx context.Context, fn callspec.FuncSpec) (callspec.FuncSpec, error) {
	h, ok := t.Methods[fn.Name]
	if !ok {
		return fn, fmt.Errorf("unknown method %s", fn.Name)
	}
	rets, err := h(ctx, fn.Args)
	if err != nil {
		return fn, err
	}
	out := fn.Clone()
	out.Returns = rets
	return out, nil
}

// GetService implements Adapter.
func (t *MethodTable) GetService(_ context.Context, passthrough bool, service string) error {
	if t.Bind == nil {
		return nil
	}
	return t.Bind(passthrough, service)
}
