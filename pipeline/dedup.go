package pipeline

import (
	"bytes"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	ssz "github.com/ferranbt/fastssz"
	"go.uber.org/zap"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/trace"
)

// DedupStats reports what Dedup did.
type DedupStats struct {
	Total      int
	Empty      int
	Duplicates int
	Deleted    []string
}

// Ratio returns the share of deleted traces.
func (s DedupStats) Ratio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Empty+s.Duplicates) / float64(s.Total)
}

// canonical encodes the entry records of a trace without timestamps. Two
// traces issuing the same calls with the same arguments encode equally.
func canonical(recs []*trace.Record) ([]byte, error) {
	var buf []byte
	for _, r := range recs {
		if !r.Event.IsEntry() {
			continue
		}
		key := &trace.Record{
			Event:     r.Event,
			Package:   r.Package,
			Version:   r.Version,
			Interface: r.Interface,
			Func:      callspec.FuncSpec{Name: r.Func.Name, Args: r.Func.Args},
		}
		buf = ssz.MarshalUint32(buf, uint32(key.SizeSSZ()))
		var err error
		if buf, err = key.MarshalSSZTo(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Dedup deletes the empty traces in dir and every trace whose calls repeat
// those of an earlier one in name order. Nothing is deleted if any trace
// fails to read.
func Dedup(dir string, log *zap.Logger) (DedupStats, error) {
	log = logging.Or(log).Named("dedup")
	var stats DedupStats
	files, err := traceFiles(dir)
	if err != nil {
		return stats, err
	}
	keys, errs := forEach(files, func(f string) ([]byte, error) {
		recs, err := trace.ReadFile(f, func(err error) {
			log.Warn("skipping undecodable record", zap.String("trace", f), zap.Error(err))
		})
		if err != nil {
			return nil, err
		}
		return canonical(recs)
	})
	for i, err := range errs {
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", files[i], err)
		}
	}

	seen := map[uint64][][]byte{}
	for i, f := range files {
		stats.Total++
		key := keys[i]
		if len(key) == 0 {
			stats.Empty++
			stats.Deleted = append(stats.Deleted, f)
			continue
		}
		h := xxhash.Sum64(key)
		dup := false
		for _, k := range seen[h] {
			if bytes.Equal(k, key) {
				dup = true
				break
			}
		}
		if dup {
			stats.Duplicates++
			stats.Deleted = append(stats.Deleted, f)
			continue
		}
		seen[h] = append(seen[h], key)
	}

	for _, f := range stats.Deleted {
		if err := os.Remove(f); err != nil {
			return stats, fmt.Errorf("delete %s: %w", f, err)
		}
		log.Info("deleted trace", zap.String("trace", f))
	}
	return stats, nil
}
