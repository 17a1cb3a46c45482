package adapter

import (
	"context"
	"errors"
	"testing"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/schema"
)

var barSchema = &schema.Interface{
	Package: "android.hardware.tests.bar",
	Version: "1.0",
	Name:    "IBar",
	Methods: []schema.Method{{Name: "ping"}},
}

func TestNaming(t *testing.T) {
	if got, want := DriverName("android.hardware.tests.bar", "1.0"), "android.hardware.tests.bar@1.0-driver"; got != want {
		t.Errorf("DriverName = %s, want %s", got, want)
	}
	if got, want := EntrySymbol(barSchema, false), "android_hardware_tests_bar_V1_0_IBar_new"; got != want {
		t.Errorf("EntrySymbol = %s, want %s", got, want)
	}
	if got, want := EntrySymbol(barSchema, true), "android_hardware_tests_bar_V1_0_IBar_new_with_handle"; got != want {
		t.Errorf("EntrySymbol(with handle) = %s, want %s", got, want)
	}
}

func TestLoaderOpenAndWrap(t *testing.T) {
	p := NewStatic()
	var gotHandles []uint64
	ctor := func(_ context.Context, h uint64) (Adapter, error) {
		gotHandles = append(gotHandles, h)
		return &MethodTable{Methods: map[string]Handler{
			"ping": func(context.Context, []callspec.Value) ([]callspec.Value, error) {
				return []callspec.Value{callspec.Scalar(callspec.Bool, 1)}, nil
			},
		}}, nil
	}
	p.RegisterInterface(barSchema, ctor, ctor)

	l := NewLoader(p, nil)
	ctx := context.Background()
	a, err := l.Open(ctx, barSchema)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Wrap(ctx, barSchema, 77); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if len(gotHandles) != 2 || gotHandles[0] != 0 || gotHandles[1] != 77 {
		t.Errorf("unexpected constructor handles %v", gotHandles)
	}
	out, err := a.Call(ctx, callspec.FuncSpec{Name: "ping"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out.Returns) != 1 || out.Returns[0].Bits != 1 {
		t.Errorf("unexpected returns %v", out.Returns)
	}
	if _, err := a.Call(ctx, callspec.FuncSpec{Name: "nope"}); err == nil {
		t.Errorf("expected an error for an unknown method")
	}
}

func TestLoaderErrors(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewStatic(), nil)
	if _, err := l.Open(ctx, barSchema); !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}

	p := NewStatic()
	p.RegisterInterface(barSchema, func(context.Context, uint64) (Adapter, error) {
		return &MethodTable{}, nil
	}, nil)
	l = NewLoader(p, nil)
	if _, err := l.Open(ctx, barSchema); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Wrap(ctx, barSchema, 1); !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
}

type countingProvider struct {
	Provider
	opens int
}

func (c *countingProvider) Open(ctx context.Context, name string) (Module, error) {
	c.opens++
	return c.Provider.Open(ctx, name)
}

func TestLoaderCachesModules(t *testing.T) {
	p := NewStatic()
	p.RegisterInterface(barSchema, func(context.Context, uint64) (Adapter, error) {
		return &MethodTable{}, nil
	}, nil)
	cp := &countingProvider{Provider: p}
	l := NewLoader(cp, nil)
	for i := 0; i < 3; i++ {
		if _, err := l.Open(context.Background(), barSchema); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	if cp.opens != 1 {
		t.Errorf("provider opened %d times, want 1", cp.opens)
	}
}

type failingProvider struct{ err error }

func (f failingProvider) Open(context.Context, string) (Module, error) { return nil, f.err }

func TestChain(t *testing.T) {
	p := NewStatic()
	p.Register("m-driver", "sym", func(context.Context, uint64) (Adapter, error) { return &MethodTable{}, nil })
	ctx := context.Background()

	chain := Chain{NewStatic(), p}
	m, err := chain.Open(ctx, "m-driver")
	if err != nil || m.Name() != "m-driver" {
		t.Fatalf("Chain.Open = %v, %v", m, err)
	}
	if _, err := chain.Open(ctx, "other-driver"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
	boom := errors.New("corrupt module")
	chain = Chain{failingProvider{boom}, p}
	if _, err := chain.Open(ctx, "m-driver"); !errors.Is(err, boom) {
		t.Errorf("non-lookup errors must stop the chain, got %v", err)
	}
}

type closer struct{ closed bool }

func (c *closer) Call(_ context.Context, fn callspec.FuncSpec) (callspec.FuncSpec, error) {
	return fn, nil
}
func (c *closer) GetService(context.Context, bool, string) error { return nil }
func (c *closer) Close() error                                   { c.closed = true; return nil }

func TestClose(t *testing.T) {
	c := &closer{}
	if err := Close(context.Background(), c); err != nil || !c.closed {
		t.Errorf("Close did not reach io.Closer: %v", err)
	}
	if err := Close(context.Background(), &MethodTable{}); err != nil {
		t.Errorf("Close on a plain adapter: %v", err)
	}
}
