package adapter

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/schema"
)

// Factory is a resolved constructor for one interface.
type Factory struct {
	Schema     *schema.Interface
	Symbol     string
	WithHandle bool
	ctor       Constructor
}

// Instantiate builds an adapter. The handle is passed through only for
// handle-argument factories.
func (f *Factory) Instantiate(ctx context.Context, handle uint64) (Adapter, error) {
	if !f.WithHandle {
		handle = 0
	}
	a, err := f.ctor(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", f.Symbol, err)
	}
	return a, nil
}

// Loader resolves schemas to modules and caches opened modules by name.
type Loader struct {
	provider Provider
	log      *zap.Logger

	mu      sync.Mutex
	modules map[string]Module
}

// NewLoader returns a loader backed by p.
func NewLoader(p Provider, log *zap.Logger) *Loader {
	return &Loader{
		provider: p,
		log:      logging.Or(log).Named("loader"),
		modules:  make(map[string]Module),
	}
}

// Resolve opens the module that serves s.
func (l *Loader) Resolve(ctx context.Context, s *schema.Interface) (Module, error) {
	name := DriverName(s.Package, s.Version)
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.modules[name]; ok {
		return m, nil
	}
	m, err := l.provider.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.FQName(), err)
	}
	l.log.Debug("opened module", zap.String("module", name))
	l.modules[name] = m
	return m, nil
}

// Load finds the constructor for s in m.
func (l *Loader) Load(m Module, s *schema.Interface, withHandle bool) (*Factory, error) {
	sym := EntrySymbol(s, withHandle)
	ctor, ok := m.Lookup(sym)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, sym, m.Name())
	}
	return &Factory{Schema: s, Symbol: sym, WithHandle: withHandle, ctor: ctor}, nil
}

// Open builds an unbound adapter for a root interface.
func (l *Loader) Open(ctx context.Context, s *schema.Interface) (Adapter, error) {
	return l.build(ctx, s, 0, false)
}

// Wrap builds an adapter around a live handle returned by an earlier call.
func (l *Loader) Wrap(ctx context.Context, s *schema.Interface, handle uint64) (Adapter, error) {
	return l.build(ctx, s, handle, true)
}

func (l *Loader) build(ctx context.Context, s *schema.Interface, handle uint64, withHandle bool) (Adapter, error) {
	m, err := l.Resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	f, err := l.Load(m, s, withHandle)
	if err != nil {
		return nil, err
	}
	return f.Instantiate(ctx, handle)
}
