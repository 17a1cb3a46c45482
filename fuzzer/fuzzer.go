// Package fuzzer exposes the entry points a coverage-guided fuzzing engine
// drives: Initialize once, then CustomMutator, CustomCrossOver and
// TestOneInput per input. Inputs are execution specs in their wire form.
package fuzzer

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alma.local/ifuzz/adapter"
	"alma.local/ifuzz/adapter/wasm"
	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/executor"
	"alma.local/ifuzz/internal/config"
	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/internal/metrics"
	"alma.local/ifuzz/mutate"
	"alma.local/ifuzz/registry"
	"alma.local/ifuzz/schema"
	"alma.local/ifuzz/trace"
)

// Target is an initialized fuzz target.
type Target struct {
	cfg     config.Config
	log     *zap.Logger
	session uuid.UUID

	schemas  *schema.Set
	wasm     *wasm.Provider
	reg      *registry.Registry
	exec     *executor.Executor
	recorder *trace.Recorder

	mu  sync.Mutex
	mut *mutate.Mutator
}

type options struct {
	log      *zap.Logger
	metrics  *metrics.Metrics
	provider adapter.Provider
}

// Option configures Initialize.
type Option func(*options)

// WithLogger sets the logger instead of building one from the config.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithProvider replaces adapter.Default as the compiled-in provider.
func WithProvider(p adapter.Provider) Option { return func(o *options) { o.provider = p } }

// ParseFlags builds the configuration from args. Values given on the
// command line override those of -config.
func ParseFlags(args []string, out io.Writer) (config.Config, int64, error) {
	fs := flag.NewFlagSet("ifuzz", flag.ContinueOnError)
	fs.SetOutput(out)
	def := config.Default()
	var (
		cfgPath     = fs.String("config", "", "path to a YAML config file")
		specDir     = fs.String("spec_dir", def.SpecDir, "directory of interface schema files")
		driverDir   = fs.String("driver_dir", def.DriverDir, "directory of WebAssembly adapter modules")
		targetIface = fs.String("target_iface", def.TargetInterface, "interface to open first, e.g. IBar")
		binderMode  = fs.Bool("binder_mode", def.BinderMode, "bind in binder mode only")
		execSize    = fs.Int("exec_size", def.ExecSize, "maximum calls per generated execution")
		service     = fs.String("service", def.Service, "service name to bind to")
		seed        = fs.Int64("seed", 0, "initial mutator seed")
		tracePrefix = fs.String("trace_prefix", "", "record executed calls under this path prefix")
		logLevel    = fs.String("log_level", def.LogLevel, "log level")
	)
	if err := fs.Parse(args); err != nil {
		return def, 0, err
	}

	cfg := def
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return cfg, 0, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "spec_dir":
			cfg.SpecDir = *specDir
		case "driver_dir":
			cfg.DriverDir = *driverDir
		case "target_iface":
			cfg.TargetInterface = *targetIface
		case "binder_mode":
			cfg.BinderMode = *binderMode
		case "exec_size":
			cfg.ExecSize = *execSize
		case "service":
			cfg.Service = *service
		case "trace_prefix":
			cfg.Trace.Prefix = *tracePrefix
		case "log_level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, 0, err
	}
	if cfg.TargetInterface == "" {
		return cfg, 0, errors.New("-target_iface is required")
	}
	return cfg, *seed, nil
}

// Initialize parses args, loads the schemas, opens the target interface and
// prepares the mutator and executor.
func Initialize(ctx context.Context, args []string, opts ...Option) (*Target, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg, seed, err := ParseFlags(args, io.Discard)
	if err != nil {
		return nil, err
	}
	if o.log == nil {
		if o.log, err = logging.New(cfg.LogLevel, false); err != nil {
			return nil, err
		}
		logging.SetLogger(o.log)
	}
	return newTarget(ctx, cfg, seed, o)
}

// newTarget builds a target from an already parsed configuration.
func newTarget(ctx context.Context, cfg config.Config, seed int64, o options) (*Target, error) {
	t := &Target{cfg: cfg, session: uuid.New()}
	t.log = logging.Or(o.log).Named("fuzzer").With(zap.String("session", t.session.String()))

	set, err := schema.LoadDir(cfg.SpecDir)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	t.schemas = set

	static := o.provider
	if static == nil {
		static = adapter.Default
	}
	chain := adapter.Chain{static}
	if cfg.DriverDir != "" {
		t.wasm = wasm.NewProvider(ctx, cfg.DriverDir, t.log)
		chain = append(chain, t.wasm)
	}

	mode := registry.ModeAuto
	if cfg.BinderMode {
		mode = registry.ModeBinder
	}
	service := cfg.Service
	t.reg = registry.New(set, adapter.NewLoader(chain, t.log), registry.Options{
		Mode:    mode,
		Service: func(*schema.Interface) string { return service },
		Logger:  t.log,
		Metrics: o.metrics,
	})

	if t.mut, err = mutate.New(cfg.Mutator, set, seed); err != nil {
		t.Close(ctx)
		return nil, err
	}

	execOpts := []executor.Option{executor.WithLogger(t.log), executor.WithMetrics(o.metrics)}
	if cfg.Trace.Prefix != "" {
		t.recorder = trace.RecorderFor(cfg.Trace.Prefix)
		if err := t.recorder.Init(cfg.Trace.Device); err != nil {
			t.Close(ctx)
			return nil, err
		}
		t.recorder.SetMetrics(o.metrics)
		execOpts = append(execOpts, executor.WithRecorder(t.recorder))
	}
	t.exec = executor.New(t.reg, execOpts...)

	if err := t.reg.InitializeRoot(ctx, cfg.TargetInterface); err != nil {
		t.Close(ctx)
		return nil, fmt.Errorf("open %s: %w", cfg.TargetInterface, err)
	}
	t.log.Info("fuzz target ready",
		zap.String("interface", cfg.TargetInterface),
		zap.Int("schemas", set.Len()),
		zap.Stringer("mode", mode))
	return t, nil
}

// Session identifies this target in logs.
func (t *Target) Session() uuid.UUID { return t.session }

// Config returns the effective configuration.
func (t *Target) Config() config.Config { return t.cfg }

// Registry returns the interface registry.
func (t *Target) Registry() *registry.Registry { return t.reg }

// CustomMutator mutates data, or generates a fresh spec when data does not
// decode. Results larger than maxSize are discarded and data is returned.
func (t *Target) CustomMutator(data []byte, maxSize int, seed uint) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mut.Reseed(int64(seed))
	open := t.reg.Open()

	var spec callspec.ExecSpec
	if in, ok := callspec.FromBytes(data); ok {
		spec = *in
		t.mut.Mutate(open, &spec)
	} else {
		spec = t.mut.RandomGen(open, t.cfg.ExecSize)
	}
	out, err := callspec.ToBytes(&spec)
	if err != nil {
		t.log.Warn("mutated spec does not encode", zap.Error(err))
		return data
	}
	if len(out) > maxSize {
		return data
	}
	return out
}

// CustomCrossOver returns data1 truncated to maxOut.
func (t *Target) CustomCrossOver(data1, data2 []byte, maxOut int, seed uint) []byte {
	n := max(0, min(len(data1), maxOut))
	return append([]byte(nil), data1[:n]...)
}

// TestOneInput executes one input. Inputs that do not decode are ignored.
// Calls the service rejects are logged by the executor. A call that cannot be
// resolved is fatal.
func (t *Target) TestOneInput(ctx context.Context, data []byte) int {
	spec, ok := callspec.FromBytes(data)
	if !ok {
		return 0
	}
	if err := t.exec.Execute(ctx, spec); err != nil {
		t.log.Fatal("execution failed", zap.Error(err), zap.Int("calls", len(spec.Calls)))
	}
	return 0
}

// Retire closes the named interface.
func (t *Target) Retire(ctx context.Context, name string) error {
	return t.reg.Retire(ctx, name)
}

// Close releases the recorder and the WebAssembly runtime.
func (t *Target) Close(ctx context.Context) error {
	var errs []error
	if t.recorder != nil {
		errs = append(errs, t.recorder.Close())
	}
	if t.wasm != nil {
		errs = append(errs, t.wasm.Close(ctx))
	}
	return errors.Join(errs...)
}
