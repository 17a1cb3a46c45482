// Package adapter resolves interface schemas to adapter modules and builds
// callable adapter instances from them.
//
// A module is found by its driver name, "<package>@<version>-driver", and
// exposes two constructors: a no-argument one used for root interfaces and
// a handle-argument one used to wrap an interface handle returned by an
// earlier call. Where modules come from (compiled in, WebAssembly, ...) is
// up to the Provider.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/schema"
)

var (
	// ErrModuleNotFound means no module matches the driver name.
	ErrModuleNotFound = errors.New("adapter: module not found")
	// ErrSymbolNotFound means the module lacks the expected constructor.
	ErrSymbolNotFound = errors.New("adapter: entry symbol not found")
)

// Adapter invokes methods on one live interface instance.
type Adapter interface {
	// Call runs fn and returns it with Returns filled in.
	Call(ctx context.Context, fn callspec.FuncSpec) (callspec.FuncSpec, error)
	// GetService binds a no-argument instance to a live service, either in
	// process (passthrough) or across processes.
	GetService(ctx context.Context, passthrough bool, service string) error
}

// Constructor builds an adapter. Handle is zero for no-argument
// constructors.
type Constructor func(ctx context.Context, handle uint64) (Adapter, error)

// Module is a loaded adapter module.
type Module interface {
	Name() string
	Lookup(symbol string) (Constructor, bool)
}

// Provider opens modules by driver name. Open must wrap ErrModuleNotFound
// when the name is unknown.
type Provider interface {
	Open(ctx context.Context, name string) (Module, error)
}

// DriverName returns the module name for a package and version.
func DriverName(pkg, version string) string {
	return fmt.Sprintf("%s@%s-driver", pkg, version)
}

// EntrySymbol returns the constructor symbol for an interface, e.g.
// "android_hardware_tests_bar_V1_0_IBar_new". The handle-argument variant
// carries a "_with_handle" suffix.
func EntrySymbol(s *schema.Interface, withHandle bool) string {
	major, minor := schema.MajorMinor(s.Version)
	sym := fmt.Sprintf("%s_V%s_%s_%s_new", strings.ReplaceAll(s.Package, ".", "_"), major, minor, s.Name)
	if withHandle {
		sym += "_with_handle"
	}
	return sym
}

// Close releases a if it holds resources.
func Close(ctx context.Context, a Adapter) error {
	switch c := a.(type) {
	case interface{ Close(context.Context) error }:
		return c.Close(ctx)
	case io.Closer:
		return c.Close()
	}
	return nil
}

// Chain tries providers in order, moving on only when a provider does not
// know the module.
type Chain []Provider

// Open implements Provider.
func (c Chain) Open(ctx context.Context, name string) (Module, error) {
	for _, p := range c {
		m, err := p.Open(ctx, name)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrModuleNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}
