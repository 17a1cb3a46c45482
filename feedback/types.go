package feedback

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Report summarizes one replay: how many record pairs were seen and how each
// of them ended.
type Report struct {
	RunID uuid.UUID `yaml:"run_id"`
	Trace string    `yaml:"trace"`

	Pairs        int `yaml:"pairs"`         // entry/exit pairs read
	Matched      int `yaml:"matched"`       // replayed with equal results
	Mismatched   int `yaml:"mismatched"`    // replayed with different results
	Skipped      int `yaml:"skipped"`       // invalid or mismatched kinds
	CallFailures int `yaml:"call_failures"` // adapter returned an error
	// Mismatches counts mismatches per "<interface>::<method>".
	Mismatches map[string]int `yaml:"mismatches,omitempty"`
}

// NewReport returns a Report with a fresh run id.
func NewReport(trace string) Report {
	return Report{
		RunID:      uuid.New(),
		Trace:      trace,
		Mismatches: make(map[string]int),
	}
}

// Mismatch counts one mismatch for call.
func (r *Report) Mismatch(call string) {
	if r.Mismatches == nil {
		r.Mismatches = make(map[string]int)
	}
	r.Mismatched++
	r.Mismatches[call]++
}

// Merge adds the counters of o to r. The run id and trace name of r are kept.
func (r *Report) Merge(o Report) {
	r.Pairs += o.Pairs
	r.Matched += o.Matched
	r.Skipped += o.Skipped
	r.CallFailures += o.CallFailures
	for k, v := range o.Mismatches {
		if r.Mismatches == nil {
			r.Mismatches = make(map[string]int)
		}
		r.Mismatches[k] += v
	}
	r.Mismatched += o.Mismatched
}

// Clean reports whether every replayed pair matched.
func (r Report) Clean() bool { return r.Mismatched == 0 }

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: pairs=%d matched=%d mismatched=%d skipped=%d call_failures=%d",
		r.Trace, r.Pairs, r.Matched, r.Mismatched, r.Skipped, r.CallFailures)
	keys := make([]string, 0, len(r.Mismatches))
	for k := range r.Mismatches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s: %d", k, r.Mismatches[k])
	}
	return b.String()
}
