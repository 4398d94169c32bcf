// Package metrics defines the Prometheus instruments shared by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "hazard_risk"

// Metrics holds the Prometheus counters, histograms, and gauges for the engine.
type Metrics struct {
	// Transport.
	TransportRequests *prometheus.CounterVec   // labels: source, outcome={success,timeout,connection,client,server}
	TransportRetries  *prometheus.CounterVec   // labels: source
	TransportDuration *prometheus.HistogramVec // labels: source

	// Rate limiting.
	RateLimitDecisions *prometheus.CounterVec // labels: source, decision={granted,denied,refunded}
	MeteredUnits       *prometheus.CounterVec // labels: source

	// Cache.
	CacheLookups *prometheus.CounterVec // labels: category, result={hit,miss,error}

	// Circuit breakers.
	BreakerState       *prometheus.GaugeVec   // labels: source; 0 closed, 1 open, 2 half-open
	BreakerTransitions *prometheus.CounterVec // labels: source, to

	// Health monitor.
	ProbeResults *prometheus.CounterVec // labels: source, outcome={success,failure}
	SourceUp     *prometheus.GaugeVec   // labels: source
	SourceUptime *prometheus.GaugeVec   // labels: source

	// Orchestrator.
	SourceCalls        *prometheus.CounterVec // labels: source, status
	Assessments        *prometheus.CounterVec // labels: outcome
	AssessmentDuration prometheus.Histogram
}

// New creates the engine metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransportRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_requests_total",
			Help:      "Completed provider calls by source and outcome.",
		}, []string{"source", "outcome"}),
		TransportRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_retries_total",
			Help:      "Retry attempts issued by the transport.",
		}, []string{"source"}),
		TransportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_duration_seconds",
			Help:      "Provider call duration including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Token bucket decisions by source.",
		}, []string{"source", "decision"}),
		MeteredUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metered_units_total",
			Help:      "Billable calls confirmed against metered sources.",
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by category and result.",
		}, []string{"category", "result"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per source (0 closed, 1 open, 2 half-open).",
		}, []string{"source"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker transitions by source and target state.",
		}, []string{"source", "to"}),
		ProbeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_results_total",
			Help:      "Health probe outcomes by source.",
		}, []string{"source", "outcome"}),
		SourceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_up",
			Help:      "1 when the last probe of a source succeeded.",
		}, []string{"source"}),
		SourceUptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_uptime_percent",
			Help:      "Rolling probe success percentage per source.",
		}, []string{"source"}),
		SourceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_calls_total",
			Help:      "Per-assessment source outcomes.",
		}, []string{"source", "status"}),
		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Assessments by outcome.",
		}, []string{"outcome"}),
		AssessmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "End-to-end assessment duration.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
	}

	reg.MustRegister(
		m.TransportRequests,
		m.TransportRetries,
		m.TransportDuration,
		m.RateLimitDecisions,
		m.MeteredUnits,
		m.CacheLookups,
		m.BreakerState,
		m.BreakerTransitions,
		m.ProbeResults,
		m.SourceUp,
		m.SourceUptime,
		m.SourceCalls,
		m.Assessments,
		m.AssessmentDuration,
	)
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors, suitable for serving on /metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewForTesting creates Metrics on a fresh registry to avoid duplicate
// registration panics across tests.
func NewForTesting() *Metrics {
	return New(prometheus.NewRegistry())
}

// OrDiscard returns m, or an unregistered instance when m is nil.
func OrDiscard(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return NewForTesting()
}
