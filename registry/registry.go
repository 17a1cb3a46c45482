// Package registry tracks the interface instances open in one fuzzing or
// replay session.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"alma.local/ifuzz/adapter"
	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/internal/metrics"
	"alma.local/ifuzz/schema"
)

var (
	// ErrInterfaceNotOpen is returned by Lookup for unknown names.
	ErrInterfaceNotOpen = errors.New("registry: interface not open")
	// ErrBindFailed means no binding mode reached a live service.
	ErrBindFailed = errors.New("registry: cannot bind to service")
)

// Mode selects how root interfaces bind to their service.
type Mode int

const (
	// ModeAuto tries in-process (passthrough) binding, then cross-process.
	ModeAuto Mode = iota
	// ModeBinder uses cross-process binding only.
	ModeBinder
)

func (m Mode) String() string {
	if m == ModeBinder {
		return "binder"
	}
	return "auto"
}

// ServiceNamer maps an interface to the service instance to bind.
type ServiceNamer func(iface *schema.Interface) string

// DefaultService binds every interface to the "default" instance.
func DefaultService(*schema.Interface) string { return "default" }

// Instance is one open interface.
type Instance struct {
	Schema  *schema.Interface
	Adapter adapter.Adapter
}

// Options configure a Registry.
type Options struct {
	Mode    Mode
	Service ServiceNamer
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Registry maps interface names to open instances. Register is last write
// wins.
type Registry struct {
	schemas *schema.Set
	loader  *adapter.Loader
	mode    Mode
	service ServiceNamer
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*Instance
}

// New returns an empty registry.
func New(schemas *schema.Set, loader *adapter.Loader, opts Options) *Registry {
	if opts.Service == nil {
		opts.Service = DefaultService
	}
	return &Registry{
		schemas: schemas,
		loader:  loader,
		mode:    opts.Mode,
		service: opts.Service,
		log:     logging.Or(opts.Logger).Named("registry"),
		metrics: opts.Metrics,
		entries: make(map[string]*Instance),
	}
}

// Schemas returns the schema set the registry resolves against.
func (r *Registry) Schemas() *schema.Set { return r.schemas }

// Register stores inst under name, replacing any previous entry.
func (r *Registry) Register(name string, inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		r.log.Debug("replacing instance", zap.String("interface", name))
	}
	r.entries[name] = inst
}

// Lookup returns the instance registered under name.
func (r *Registry) Lookup(name string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInterfaceNotOpen, name)
	}
	return inst, nil
}

// Retire removes name and releases its adapter.
func (r *Registry) Retire(ctx context.Context, name string) error {
	r.mu.Lock()
	inst, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInterfaceNotOpen, name)
	}
	return adapter.Close(ctx, inst.Adapter)
}

// Names returns the open interface names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open returns the schemas of the open interfaces, sorted by name.
func (r *Registry) Open() []*schema.Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*schema.Interface, 0, len(r.entries))
	for _, inst := range r.entries {
		out = append(out, inst.Schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InitializeRoot opens the named interface with the no-argument constructor
// and binds it to its service.
func (r *Registry) InitializeRoot(ctx context.Context, name string) error {
	s, err := r.schemas.Lookup(name)
	if err != nil {
		return err
	}
	return r.initialize(ctx, s)
}

// Ensure opens pkg@version::name on demand unless it is already open.
func (r *Registry) Ensure(ctx context.Context, pkg, version, name string) (*Instance, error) {
	if inst, err := r.Lookup(name); err == nil {
		return inst, nil
	}
	s, err := r.schemas.Find(pkg, version, name)
	if err != nil {
		return nil, err
	}
	if err := r.initialize(ctx, s); err != nil {
		return nil, err
	}
	return r.Lookup(name)
}

func (r *Registry) initialize(ctx context.Context, s *schema.Interface) error {
	a, err := r.loader.Open(ctx, s)
	if err != nil {
		return err
	}
	service := r.service(s)
	if err := r.bind(ctx, a, s, service); err != nil {
		_ = adapter.Close(ctx, a)
		return err
	}
	r.Register(s.Name, &Instance{Schema: s, Adapter: a})
	r.metrics.Opened("root")
	return nil
}

func (r *Registry) bind(ctx context.Context, a adapter.Adapter, s *schema.Interface, service string) error {
	log := r.log.With(zap.String("interface", s.FQName()), zap.String("service", service))
	if r.mode != ModeBinder {
		err := a.GetService(ctx, true, service)
		if err == nil {
			log.Info("bound in passthrough mode")
			return nil
		}
		log.Info("passthrough binding failed, trying binder", zap.Error(err))
	}
	if err := a.GetService(ctx, false, service); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBindFailed, s.FQName(), err)
	}
	log.Info("bound in binder mode")
	return nil
}

// OpenHandle wraps a handle returned by a call and registers it under the
// schema name.
func (r *Registry) OpenHandle(ctx context.Context, s *schema.Interface, handle uint64) error {
	a, err := r.loader.Wrap(ctx, s, handle)
	if err != nil {
		return err
	}
	r.Register(s.Name, &Instance{Schema: s, Adapter: a})
	r.metrics.Opened("handle")
	r.log.Debug("registered returned interface", zap.String("interface", s.Name), zap.Uint64("handle", handle))
	return nil
}
