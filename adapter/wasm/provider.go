// Package wasm loads adapter modules compiled to WebAssembly.
//
// A module file is named "<driver name>.wasm" and exports:
//
//	memory
//	alloc(size i32) -> i32
//	<entry symbol>() -> i64                    no-argument constructor
//	<entry symbol>_with_handle(h i64) -> i64    handle-argument constructor
//	call(inst i64, ptr i32, len i32) -> i64     FuncSpec in, packed ptr<<32|len out
//	get_service(inst i64, passthrough i32, ptr i32, len i32) -> i32
//
// Constructors return a non-negative instance id. call returns 0 on
// failure, and get_service returns 0 on success.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"alma.local/ifuzz/adapter"
	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/internal/logging"
)

// Provider compiles modules from a directory on first use.
type Provider struct {
	rt  wazero.Runtime
	dir string
	log *zap.Logger

	mu       sync.Mutex
	compiled map[string]*Module
}

// NewProvider creates a provider with its own wazero runtime.
func NewProvider(ctx context.Context, dir string, log *zap.Logger) *Provider {
	return &Provider{
		rt:       wazero.NewRuntime(ctx),
		dir:      dir,
		log:      logging.Or(log).Named("wasm"),
		compiled: make(map[string]*Module),
	}
}

// Close releases the runtime and every instance created from it.
func (p *Provider) Close(ctx context.Context) error {
	return p.rt.Close(ctx)
}

// Open implements adapter.Provider.
func (p *Provider) Open(ctx context.Context, name string) (adapter.Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.compiled[name]; ok {
		return m, nil
	}
	path := filepath.Join(p.dir, name+".wasm")
	bin, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", adapter.ErrModuleNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	cm, err := p.rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	p.log.Debug("compiled module", zap.String("module", name), zap.Int("bytes", len(bin)))
	m := &Module{name: name, p: p, cm: cm}
	p.compiled[name] = m
	return m, nil
}

// Module is a compiled adapter module.
type Module struct {
	name string
	p    *Provider
	cm   wazero.CompiledModule
}

func (m *Module) Name() string { return m.name }

// Lookup returns a constructor when symbol is exported with a constructor
// signature: no parameters, or a single i64 handle.
func (m *Module) Lookup(symbol string) (adapter.Constructor, bool) {
	def, ok := m.cm.ExportedFunctions()[symbol]
	if !ok {
		return nil, false
	}
	params := def.ParamTypes()
	if len(params) > 1 || (len(params) == 1 && params[0] != api.ValueTypeI64) {
		return nil, false
	}
	return func(ctx context.Context, handle uint64) (adapter.Adapter, error) {
		return m.instantiate(ctx, symbol, len(params) == 1, handle)
	}, true
}

func (m *Module) instantiate(ctx context.Context, symbol string, withHandle bool, handle uint64) (adapter.Adapter, error) {
	// Every adapter gets its own instance so guest state never leaks
	// between interfaces.
	mod, err := m.p.rt.InstantiateModule(ctx, m.cm, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", m.name, err)
	}
	var args []uint64
	if withHandle {
		args = append(args, api.EncodeI64(int64(handle)))
	}
	res, err := mod.ExportedFunction(symbol).Call(ctx, args...)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	id := int64(0)
	if len(res) > 0 {
		id = int64(res[0])
	}
	if id < 0 {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("%s: constructor failed with %d", symbol, id)
	}
	return &instance{mod: mod, id: uint64(id), log: m.p.log.With(zap.String("module", m.name))}, nil
}

type instance struct {
	mod api.Module
	id  uint64
	log *zap.Logger
}

func (in *instance) export(name string) (api.Function, error) {
	fn := in.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("module does not export %s", name)
	}
	return fn, nil
}

// write copies b into guest memory obtained from alloc.
func (in *instance) write(ctx context.Context, b []byte) (uint32, error) {
	alloc, err := in.export("alloc")
	if err != nil {
		return 0, err
	}
	res, err := alloc.Call(ctx, api.EncodeI32(int32(len(b))))
	if err != nil {
		return 0, fmt.Errorf("alloc: %w", err)
	}
	if len(res) == 0 {
		return 0, errors.New("alloc returned nothing")
	}
	ptr := api.DecodeU32(res[0])
	mem := in.mod.Memory()
	if mem == nil {
		return 0, errors.New("module does not export memory")
	}
	if !mem.Write(ptr, b) {
		return 0, fmt.Errorf("write %d bytes at %#x: out of range", len(b), ptr)
	}
	return ptr, nil
}

func (in *instance) Call(ctx context.Context, fn callspec.FuncSpec) (callspec.FuncSpec, error) {
	call, err := in.export("call")
	if err != nil {
		return fn, err
	}
	enc, err := fn.MarshalSSZ()
	if err != nil {
		return fn, err
	}
	ptr, err := in.write(ctx, enc)
	if err != nil {
		return fn, err
	}
	res, err := call.Call(ctx, api.EncodeI64(int64(in.id)), api.EncodeU32(ptr), api.EncodeU32(uint32(len(enc))))
	if err != nil {
		return fn, fmt.Errorf("call %s: %w", fn.Name, err)
	}
	if len(res) == 0 || res[0] == 0 {
		return fn, fmt.Errorf("call %s: guest reported failure", fn.Name)
	}
	outPtr, outLen := uint32(res[0]>>32), uint32(res[0])
	raw, ok := in.mod.Memory().Read(outPtr, outLen)
	if !ok {
		return fn, fmt.Errorf("call %s: result at %#x+%d out of range", fn.Name, outPtr, outLen)
	}
	var out callspec.FuncSpec
	if err := out.UnmarshalSSZ(append([]byte(nil), raw...)); err != nil {
		return fn, fmt.Errorf("call %s: decode result: %w", fn.Name, err)
	}
	return out, nil
}

func (in *instance) GetService(ctx context.Context, passthrough bool, service string) error {
	get, err := in.export("get_service")
	if err != nil {
		return err
	}
	ptr, err := in.write(ctx, []byte(service))
	if err != nil {
		return err
	}
	mode := uint32(0)
	if passthrough {
		mode = 1
	}
	res, err := get.Call(ctx, api.EncodeI64(int64(in.id)), api.EncodeU32(mode), api.EncodeU32(ptr), api.EncodeU32(uint32(len(service))))
	if err != nil {
		return fmt.Errorf("get_service: %w", err)
	}
	if len(res) > 0 && api.DecodeI32(res[0]) != 0 {
		return fmt.Errorf("get_service(%q, passthrough=%t) failed with %d", service, passthrough, api.DecodeI32(res[0]))
	}
	in.log.Debug("bound service", zap.String("service", service), zap.Bool("passthrough", passthrough))
	return nil
}

func (in *instance) Close(ctx context.Context) error {
	return in.mod.Close(ctx)
}
