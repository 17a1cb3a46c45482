package pipeline

import (
	"math/bits"
	"sort"
)

// Histogram counts latencies in power-of-two nanosecond buckets. Bucket b
// holds values in [2^(b-1), 2^b); bucket 0 holds zero.
type Histogram struct {
	Counts map[int]uint64
	Total  uint64
}

func NewHistogram() *Histogram {
	return &Histogram{Counts: make(map[int]uint64)}
}

// Add records one latency.
func (h *Histogram) Add(ns int64) {
	if ns < 0 {
		return
	}
	h.Counts[bits.Len64(uint64(ns))]++
	h.Total++
}

// Fraction returns the share of values in bucket b.
func (h *Histogram) Fraction(b int) float64 {
	if h.Total == 0 {
		return 0
	}
	return float64(h.Counts[b]) / float64(h.Total)
}

// Summary aggregates the latencies of one method.
type Summary struct {
	Method    string
	Count     int
	Min, Max  int64
	Mean      float64
	Histogram *Histogram
}

// Summarize aggregates latencies per method across profiles, sorted by
// method name.
func Summarize(profiles ...*Profile) []Summary {
	byMethod := map[string]*Summary{}
	sums := map[string]float64{}
	for _, p := range profiles {
		for _, l := range p.Latencies {
			s, ok := byMethod[l.Method]
			if !ok {
				s = &Summary{Method: l.Method, Min: l.Nanos, Max: l.Nanos, Histogram: NewHistogram()}
				byMethod[l.Method] = s
			}
			s.Count++
			s.Min = min(s.Min, l.Nanos)
			s.Max = max(s.Max, l.Nanos)
			s.Histogram.Add(l.Nanos)
			sums[l.Method] += float64(l.Nanos)
		}
	}
	out := make([]Summary, 0, len(byMethod))
	for m, s := range byMethod {
		s.Mean = sums[m] / float64(s.Count)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}
