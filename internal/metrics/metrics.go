package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Replay pair outcomes.
const (
	PairOK       = "ok"
	PairMismatch = "mismatch"
	PairSkipped  = "skipped"
	PairFailed   = "failed"
)

// Metrics holds the counters shared by the executor, registry, replayer and
// trace recorder. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Calls            *prometheus.CounterVec
	CallErrors       *prometheus.CounterVec
	OpenedInterfaces *prometheus.CounterVec
	Executions       prometheus.Counter
	ReplayPairs      *prometheus.CounterVec
	RecordsWritten   prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ifuzz",
			Name:      "calls_total",
			Help:      "Interface method calls issued through adapters.",
		}, []string{"interface", "method"}),
		CallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ifuzz",
			Name:      "call_errors_total",
			Help:      "Interface method calls that returned an error.",
		}, []string{"interface"}),
		OpenedInterfaces: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ifuzz",
			Name:      "opened_interfaces_total",
			Help:      "Interface instances registered, by how they were opened.",
		}, []string{"how"}),
		Executions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ifuzz",
			Name:      "executions_total",
			Help:      "Execution specs run by the executor.",
		}),
		ReplayPairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ifuzz",
			Name:      "replay_pairs_total",
			Help:      "Replayed trace record pairs by outcome.",
		}, []string{"outcome"}),
		RecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ifuzz",
			Name:      "trace_records_written_total",
			Help:      "Trace records appended by recorders.",
		}),
	}
}

// Call counts one adapter call.
func (m *Metrics) Call(iface, method string, err error) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(iface, method).Inc()
	if err != nil {
		m.CallErrors.WithLabelValues(iface).Inc()
	}
}

// Opened counts one registered interface instance.
func (m *Metrics) Opened(how string) {
	if m == nil {
		return
	}
	m.OpenedInterfaces.WithLabelValues(how).Inc()
}

// Executed counts one execution spec.
func (m *Metrics) Executed() {
	if m == nil {
		return
	}
	m.Executions.Inc()
}

// Pair counts one replayed pair outcome.
func (m *Metrics) Pair(outcome string) {
	if m == nil {
		return
	}
	m.ReplayPairs.WithLabelValues(outcome).Inc()
}

// Record counts one written trace record.
func (m *Metrics) Record() {
	if m == nil {
		return
	}
	m.RecordsWritten.Inc()
}

// Handler serves the collectors of g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
