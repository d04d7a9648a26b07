// Package metrics exposes Prometheus metrics for the pipeline phases.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/promo-cli/internal/model"
)

// Pipeline holds the pipeline collectors on a private registry. A nil
// *Pipeline is valid and records nothing.
type Pipeline struct {
	registry *prometheus.Registry

	records      *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
}

// New creates and registers the pipeline collectors.
func New() *Pipeline {
	registry := prometheus.NewRegistry()

	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promo",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Records processed by phase and outcome.",
		},
		[]string{"phase", "outcome"},
	)
	callDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "promo",
			Subsystem: "pipeline",
			Name:      "oracle_call_duration_seconds",
			Help:      "External oracle and search call latency by collaborator and outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"collaborator", "outcome"},
	)
	inFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "promo",
			Subsystem: "pipeline",
			Name:      "in_flight",
			Help:      "Units currently being processed by phase.",
		},
		[]string{"phase"},
	)

	registry.MustRegister(records, callDuration, inFlight)

	return &Pipeline{
		registry:     registry,
		records:      records,
		callDuration: callDuration,
		inFlight:     inFlight,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Pipeline) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Record counts one unit with the given outcome.
func (m *Pipeline) Record(phase, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(phase, outcome).Inc()
}

// ObserveReport adds a finished batch report's counts.
func (m *Pipeline) ObserveReport(r model.BatchReport) {
	if m == nil {
		return
	}
	for outcome, n := range map[string]int{
		"accepted":   r.Accepted,
		"rejected":   r.Rejected,
		"unresolved": r.Unresolved,
		"skipped":    r.Skipped,
		"duplicate":  r.Duplicates,
	} {
		if n > 0 {
			m.records.WithLabelValues(r.Phase, outcome).Add(float64(n))
		}
	}
}

// ObserveCall records the latency of one external call.
func (m *Pipeline) ObserveCall(collaborator, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(collaborator, outcome).Observe(d.Seconds())
}

// Start marks a unit in flight for phase and returns the matching done func.
func (m *Pipeline) Start(phase string) func() {
	if m == nil {
		return func() {}
	}
	g := m.inFlight.WithLabelValues(phase)
	g.Inc()
	return g.Dec
}
