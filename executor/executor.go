// Package executor runs execution specs against the interfaces open in a
// registry.
package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"alma.local/ifuzz/adapter"
	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/internal/metrics"
	"alma.local/ifuzz/registry"
	"alma.local/ifuzz/schema"
	"alma.local/ifuzz/trace"
)

// ErrCallFailed wraps an error returned by an adapter call. Execute logs it
// and moves on to the next call.
var ErrCallFailed = errors.New("executor: call failed")

// ErrReturnedInterface wraps failures to register an interface that a call
// returned. The call itself succeeded.
var ErrReturnedInterface = errors.New("executor: cannot open returned interface")

// Executor issues calls through registry instances and registers the
// interfaces that calls return.
type Executor struct {
	reg      *registry.Registry
	log      *zap.Logger
	metrics  *metrics.Metrics
	recorder *trace.Recorder
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// WithRecorder records every call as a direct entry/exit pair.
func WithRecorder(r *trace.Recorder) Option { return func(e *Executor) { e.recorder = r } }

// New returns an executor over reg.
func New(reg *registry.Registry, opts ...Option) *Executor {
	e := &Executor{reg: reg}
	for _, o := range opts {
		o(e)
	}
	e.log = logging.Or(e.log).Named("executor")
	return e
}

// Execute runs the calls in order. A call the service rejects is logged and
// skipped. Execution stops at the first call that cannot be resolved: an
// interface that is not open, or a returned interface that cannot be opened.
// Calls already made are not undone.
func (e *Executor) Execute(ctx context.Context, spec *callspec.ExecSpec) error {
	e.metrics.Executed()
	for i, c := range spec.Calls {
		_, err := e.Call(ctx, c)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrCallFailed) && !unresolvable(err) {
			continue
		}
		return fmt.Errorf("call %d (%s): %w", i, c.Interface+"::"+c.Func.Name, err)
	}
	return nil
}

func unresolvable(err error) bool {
	return errors.Is(err, adapter.ErrModuleNotFound) || errors.Is(err, adapter.ErrSymbolNotFound)
}

// Call looks up the target interface, invokes it and processes the returned
// values.
func (e *Executor) Call(ctx context.Context, c callspec.FuncCall) (callspec.FuncSpec, error) {
	inst, err := e.reg.Lookup(c.Interface)
	if err != nil {
		return c.Func, err
	}
	e.record(trace.DirectEntry, inst.Schema, c.Func)
	out, err := inst.Adapter.Call(ctx, c.Func)
	e.metrics.Call(c.Interface, c.Func.Name, err)
	if err != nil {
		e.log.Debug("call failed", zap.String("call", c.String()), zap.Error(err))
		e.record(trace.DirectExit, inst.Schema, c.Func)
		return out, fmt.Errorf("%w: %w", ErrCallFailed, err)
	}
	e.record(trace.DirectExit, inst.Schema, out)
	if err := e.processReturns(ctx, out.Returns); err != nil {
		return out, err
	}
	return out, nil
}

// processReturns registers every non-null interface handle among rets.
func (e *Executor) processReturns(ctx context.Context, rets []callspec.Value) error {
	for _, v := range rets {
		if v.Kind != callspec.KindInterface || v.Handle == 0 || v.Type == "" {
			continue
		}
		name := schema.StripNamespace(v.Type)
		s, err := e.reg.Schemas().Lookup(name)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrReturnedInterface, v.Type, err)
		}
		if err := e.reg.OpenHandle(ctx, s, v.Handle); err != nil {
			return fmt.Errorf("%w %s: %w", ErrReturnedInterface, v.Type, err)
		}
	}
	return nil
}

func (e *Executor) record(kind trace.EventKind, s *schema.Interface, fn callspec.FuncSpec) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.AddEvent(kind, s.Package, s.Version, s.Name, fn); err != nil {
		e.log.Warn("trace record dropped", zap.String("method", fn.Name), zap.Error(err))
	}
}
