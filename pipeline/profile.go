package pipeline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/trace"
)

// HAL modes reported by profiling.
const (
	ModePassthrough = "passthrough"
	ModeBinder      = "binder"
)

// Latency is the time between a call's entry and exit records.
type Latency struct {
	Method string
	Nanos  int64
}

// Profile is the latency profile of one trace.
type Profile struct {
	Trace     string
	Mode      string // "" for an empty trace
	Latencies []Latency
}

// ProfilePath profiles the trace at path, or every trace directly inside
// it. Profiles are returned in file order; unreadable traces are logged and
// their errors joined.
func ProfilePath(path string, log *zap.Logger) ([]*Profile, error) {
	log = logging.Or(log).Named("profile")
	files, err := traceFiles(path)
	if err != nil {
		return nil, err
	}
	profiles, errs := forEach(files, func(f string) (*Profile, error) {
		return ProfileFile(f, log)
	})
	out := make([]*Profile, 0, len(profiles))
	for i, p := range profiles {
		if errs[i] != nil {
			log.Error("profiling failed", zap.String("trace", files[i]), zap.Error(errs[i]))
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// ProfileFile profiles one binary trace.
func ProfileFile(path string, log *zap.Logger) (*Profile, error) {
	log = logging.Or(log)
	recs, err := trace.ReadFile(path, func(err error) {
		log.Warn("skipping undecodable record", zap.String("trace", path), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	p := ProfileRecords(recs, log)
	p.Trace = path
	return p, nil
}

func paired(entry, exit *trace.Record) bool {
	return trace.SameCall(entry, exit) && trace.Pairs(entry.Event, exit.Event)
}

// ProfileRecords pairs entries with exits using a stack: an exit closes the
// most recent open entry it pairs with. Unpaired exits and negative
// latencies are logged and skipped.
func ProfileRecords(recs []*trace.Record, log *zap.Logger) *Profile {
	log = logging.Or(log)
	p := &Profile{}
	if len(recs) == 0 {
		return p
	}
	switch recs[0].Event {
	case trace.PassthroughEntry, trace.PassthroughExit:
		p.Mode = ModePassthrough
	default:
		p.Mode = ModeBinder
	}

	var open []*trace.Record
	for _, r := range recs {
		if r.Event.IsEntry() {
			open = append(open, r)
			continue
		}
		i := len(open) - 1
		for ; i >= 0 && !paired(open[i], r); i-- {
		}
		if i < 0 {
			log.Warn("no entry record for exit", zap.String("method", r.Func.Name), zap.Stringer("event", r.Event))
			continue
		}
		entry := open[i]
		open = append(open[:i], open[i+1:]...)
		lat := r.Timestamp - entry.Timestamp
		if lat < 0 {
			log.Warn("negative latency", zap.String("method", r.Func.Name), zap.Int64("latency_ns", lat))
			continue
		}
		p.Latencies = append(p.Latencies, Latency{Method: r.Func.Name, Nanos: lat})
	}
	return p
}
