package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"alma.local/ifuzz/coverage"
	"alma.local/ifuzz/internal/logging"
)

// Metric scores a candidate trace during selection.
type Metric string

const (
	// MetricCoverage scores by newly covered locations.
	MetricCoverage Metric = "coverage"
	// MetricRatio scores by newly covered locations per trace byte.
	MetricRatio Metric = "ratio"
)

// ParseMetric accepts "coverage" and "ratio"; "" means coverage.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricCoverage:
		return MetricCoverage, nil
	case MetricRatio:
		return MetricRatio, nil
	}
	return "", fmt.Errorf("unknown selection metric %q", s)
}

// Selected is one chosen trace.
type Selected struct {
	Trace    string // trace file path
	Coverage string // coverage file name
	Gain     int    // locations it added
	Covered  int    // cumulative locations after it
}

// Selection is the result of Select.
type Selection struct {
	Traces  []Selected
	Covered int
	Total   int
}

// Rate returns Covered/Total, or 0 without a total.
func (s Selection) Rate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Covered) / float64(s.Total)
}

type candidate struct {
	file *coverage.File
	path string
	size int64
}

// Select greedily picks traces until no candidate adds coverage. Each round
// takes the best-scoring candidate; ties go to the coverage file that sorts
// first. Coverage files whose trace is missing are skipped.
func Select(coverageDir, traceDir string, metric Metric, log *zap.Logger) (Selection, error) {
	log = logging.Or(log).Named("select")
	var sel Selection
	files, err := coverage.LoadDir(coverageDir)
	if err != nil {
		return sel, err
	}
	if _, err := os.Stat(traceDir); err != nil {
		return sel, err
	}

	var cands []*candidate
	for _, f := range files {
		path := filepath.Join(traceDir, f.Trace)
		st, err := os.Stat(path)
		if err != nil || !st.Mode().IsRegular() {
			log.Warn("trace file not found", zap.String("coverage", f.Name), zap.String("trace", path))
			continue
		}
		cands = append(cands, &candidate{file: f, path: path, size: st.Size()})
	}

	covered := coverage.Map{}
	for {
		best, bestScore, bestGain := -1, 0.0, 0
		for i, c := range cands {
			if c == nil {
				continue
			}
			gain := covered.Gain(c.file.Locations())
			if gain == 0 {
				continue
			}
			score := float64(gain)
			if metric == MetricRatio {
				score /= float64(max(c.size, 1))
			}
			if score > bestScore {
				best, bestScore, bestGain = i, score, gain
			}
		}
		if best < 0 {
			break
		}
		c := cands[best]
		cands[best] = nil
		covered.Union(c.file.Locations())
		sel.Total = max(sel.Total, c.file.Total)
		sel.Traces = append(sel.Traces, Selected{
			Trace:    c.path,
			Coverage: c.file.Name,
			Gain:     bestGain,
			Covered:  covered.Len(),
		})
	}
	sel.Covered = covered.Len()
	return sel, nil
}
