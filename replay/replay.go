// Package replay re-issues the calls of a recorded trace against live
// adapters and compares the results with the recorded ones.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"alma.local/ifuzz/adapter"
	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/executor"
	"alma.local/ifuzz/feedback"
	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/internal/metrics"
	"alma.local/ifuzz/registry"
	"alma.local/ifuzz/schema"
	"alma.local/ifuzz/trace"
)

// ErrMismatch is returned in strict mode for the first differing result.
var ErrMismatch = errors.New("replay: result mismatch")

// Comparator decides whether a replayed call matches the recording.
type Comparator func(recorded, replayed callspec.FuncSpec) bool

// CompareReturns compares return values, ignoring interface handle ids,
// which are only meaningful inside the recording process.
func CompareReturns(recorded, replayed callspec.FuncSpec) bool {
	return callspec.EqualValues(recorded.Returns, replayed.Returns, true)
}

// Options configures a Replayer.
type Options struct {
	// Strict aborts on the first mismatch.
	Strict     bool
	Comparator Comparator
	Mode       registry.Mode
	Service    registry.ServiceNamer
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Replayer replays traces. Each replay opens interfaces in a fresh registry.
type Replayer struct {
	schemas *schema.Set
	loader  *adapter.Loader
	opts    Options
	log     *zap.Logger
}

// New returns a Replayer.
func New(schemas *schema.Set, loader *adapter.Loader, opts Options) *Replayer {
	if opts.Comparator == nil {
		opts.Comparator = CompareReturns
	}
	return &Replayer{
		schemas: schemas,
		loader:  loader,
		opts:    opts,
		log:     logging.Or(opts.Logger).Named("replay"),
	}
}

// ReplayFile replays the trace at path.
func (r *Replayer) ReplayFile(ctx context.Context, path string) (feedback.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		rep := feedback.NewReport(filepath.Base(path))
		return rep, err
	}
	defer f.Close()
	return r.replay(ctx, f, filepath.Base(path))
}

// Replay replays a trace stream. A non-nil error means the replay could
// not run to completion; mismatches alone are only reported, unless Strict
// is set.
func (r *Replayer) Replay(ctx context.Context, rd io.Reader) (feedback.Report, error) {
	return r.replay(ctx, rd, "")
}

func (r *Replayer) replay(ctx context.Context, rd io.Reader, name string) (feedback.Report, error) {
	rep := feedback.NewReport(name)
	log := r.log.With(zap.String("run", rep.RunID.String()), zap.String("trace", name))

	recs, err := trace.ReadAll(rd, func(err error) {
		log.Warn("skipping undecodable record", zap.Error(err))
	})
	if err != nil {
		log.Warn("trace ends with a broken frame, replaying what was read", zap.Error(err), zap.Int("records", len(recs)))
	}

	reg := registry.New(r.schemas, r.loader, registry.Options{
		Mode:    r.opts.Mode,
		Service: r.opts.Service,
		Logger:  r.opts.Logger,
		Metrics: r.opts.Metrics,
	})
	defer func() {
		for _, n := range reg.Names() {
			if err := reg.Retire(ctx, n); err != nil {
				log.Debug("retire failed", zap.String("interface", n), zap.Error(err))
			}
		}
	}()
	exec := executor.New(reg, executor.WithLogger(r.opts.Logger), executor.WithMetrics(r.opts.Metrics))

	for i := 0; i+1 < len(recs); i += 2 {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Pairs++
		if err := r.replayPair(ctx, reg, exec, recs[i], recs[i+1], &rep, log); err != nil {
			return rep, err
		}
	}
	if len(recs)%2 == 1 {
		log.Warn("trailing record without a partner", zap.Stringer("event", recs[len(recs)-1].Event))
	}
	log.Info("replay finished",
		zap.Int("pairs", rep.Pairs),
		zap.Int("matched", rep.Matched),
		zap.Int("mismatched", rep.Mismatched),
		zap.Int("skipped", rep.Skipped),
		zap.Int("call_failures", rep.CallFailures))
	return rep, nil
}

func (r *Replayer) replayPair(ctx context.Context, reg *registry.Registry, exec *executor.Executor, entry, exit *trace.Record, rep *feedback.Report, log *zap.Logger) error {
	if !trace.Pairs(entry.Event, exit.Event) || !trace.SameCall(entry, exit) {
		log.Warn("skipping pair",
			zap.Stringer("entry", entry.Event), zap.Stringer("exit", exit.Event),
			zap.String("entry_method", entry.Func.Name), zap.String("exit_method", exit.Func.Name))
		rep.Skipped++
		r.opts.Metrics.Pair(metrics.PairSkipped)
		return nil
	}
	if _, err := reg.Ensure(ctx, entry.Package, entry.Version, entry.Interface); err != nil {
		return fmt.Errorf("open %s@%s::%s: %w", entry.Package, entry.Version, entry.Interface, err)
	}

	in := entry.Func.Clone()
	in.Returns = nil
	call := callspec.FuncCall{Interface: entry.Interface, Func: in}
	got, err := exec.Call(ctx, call)
	switch {
	case errors.Is(err, executor.ErrReturnedInterface):
		return err
	case err != nil:
		log.Warn("call failed", zap.String("call", call.String()), zap.Error(err))
		rep.CallFailures++
		r.opts.Metrics.Pair(metrics.PairFailed)
		return nil
	}

	if r.opts.Comparator(exit.Func, got) {
		rep.Matched++
		r.opts.Metrics.Pair(metrics.PairOK)
		return nil
	}
	key := entry.Interface + "::" + entry.Func.Name
	rep.Mismatch(key)
	r.opts.Metrics.Pair(metrics.PairMismatch)
	log.Warn("result mismatch",
		zap.String("call", key),
		zap.Stringers("recorded", exit.Func.Returns),
		zap.Stringers("replayed", got.Returns))
	if r.opts.Strict {
		return fmt.Errorf("%w: %s", ErrMismatch, key)
	}
	return nil
}
