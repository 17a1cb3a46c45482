package pipeline

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/trace"
)

// ErrUnsupportedTrace is returned when the first record of a trace is not
// a server, client, passthrough or direct event.
var ErrUnsupportedTrace = errors.New("pipeline: unsupported trace type")

// Cleanup cleans the trace at path, or every trace directly inside it.
// A failing file does not stop the others; all failures are returned.
func Cleanup(path string, log *zap.Logger) error {
	log = logging.Or(log).Named("cleanup")
	files, err := traceFiles(path)
	if err != nil {
		return err
	}
	_, errs := forEach(files, func(f string) (struct{}, error) {
		err := CleanupFile(f, log)
		if err != nil {
			log.Error("cleanup failed", zap.String("trace", f), zap.Error(err))
		}
		return struct{}{}, err
	})
	return errors.Join(errs...)
}

// CleanupFile rewrites one trace so that it only holds matched entry/exit
// pairs of its own trace type and interface version.
func CleanupFile(path string, log *zap.Logger) error {
	log = logging.Or(log)
	recs, err := trace.ReadFile(path, func(err error) {
		log.Warn("dropping undecodable record", zap.String("trace", path), zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	clean, err := cleanRecords(recs, log)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	tmp := path + "_tmp"
	if err := trace.WriteFile(tmp, clean); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	log.Debug("cleaned trace", zap.String("trace", path), zap.Int("before", len(recs)), zap.Int("after", len(clean)))
	return nil
}

func traceType(k trace.EventKind) (trace.EventKind, bool) {
	entry := k
	if k.IsExit() {
		entry = k.Entry()
	}
	switch entry {
	case trace.ServerEntry, trace.ClientEntry, trace.PassthroughEntry, trace.DirectEntry:
		return entry, true
	}
	return trace.Unknown, false
}

func cleanRecords(recs []*trace.Record, log *zap.Logger) ([]*trace.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	first := recs[0]
	entryKind, ok := traceType(first.Event)
	if !ok {
		return nil, fmt.Errorf("%w: first record is %s", ErrUnsupportedTrace, first.Event)
	}
	exitKind := entryKind.Exit()

	var entries []*trace.Record
	exits := map[int]*trace.Record{}
	var open []int
	for _, r := range recs {
		if r.Package != first.Package || r.Version != first.Version {
			log.Debug("dropping record of another interface", zap.String("package", r.Package), zap.String("version", r.Version))
			continue
		}
		switch r.Event {
		case entryKind:
			open = append(open, len(entries))
			entries = append(entries, r)
		case exitKind:
			matched := false
			for i := len(open) - 1; i >= 0; i-- {
				if trace.SameCall(entries[open[i]], r) {
					exits[open[i]] = r
					open = append(open[:i], open[i+1:]...)
					matched = true
					break
				}
			}
			if !matched {
				log.Debug("dropping exit without entry", zap.String("method", r.Func.Name))
			}
		}
	}

	out := make([]*trace.Record, 0, 2*len(exits))
	for i, e := range entries {
		if x, ok := exits[i]; ok {
			out = append(out, e, x)
		}
	}
	return out, nil
}
