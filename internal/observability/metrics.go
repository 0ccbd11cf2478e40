package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fencewatch"

// Metrics holds the Prometheus counters, histograms, and gauges for fence evaluation.
type Metrics struct {
	// Scheduler metrics.
	PassesTotal  *prometheus.CounterVec // labels: result={success,error,panic}
	SkippedTicks prometheus.Counter
	PassDuration prometheus.Histogram
	PassRunning  prometheus.Gauge

	// Evaluation metrics.
	FenceOutcomes     *prometheus.CounterVec // labels: outcome
	DegradedDecisions prometheus.Counter
	ActivationEvents  *prometheus.CounterVec // labels: result={published,error}

	// Source metrics.
	SourceRequests *prometheus.CounterVec   // labels: source={geocode,advisory,precipitation}, outcome={success,error,not_found}
	SourceDuration *prometheus.HistogramVec // labels: source
	SourceCache    *prometheus.CounterVec   // labels: source, result={hit,miss}

	// Alert metrics.
	AlertEmails *prometheus.CounterVec // labels: result={queued,suppressed,sent,failed}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PassesTotal,
		m.SkippedTicks,
		m.PassDuration,
		m.PassRunning,
		m.FenceOutcomes,
		m.DegradedDecisions,
		m.ActivationEvents,
		m.SourceRequests,
		m.SourceDuration,
		m.SourceCache,
		m.AlertEmails,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Evaluation passes by result.",
		}, []string{"result"}),
		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_ticks_total",
			Help:      "Scheduler ticks skipped because a pass was still running.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of a complete evaluation pass over all fences.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),
		PassRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pass_running",
			Help:      "1 while an evaluation pass is in progress.",
		}),
		FenceOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fence_outcomes_total",
			Help:      "Per-fence evaluation outcomes.",
		}, []string{"outcome"}),
		DegradedDecisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_decisions_total",
			Help:      "Decisions taken without advisory input because the advisory source failed.",
		}),
		ActivationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activation_events_total",
			Help:      "Fence activation change events by publish result.",
		}, []string{"result"}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "External source requests by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_duration_seconds",
			Help:      "External source request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		SourceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_cache_total",
			Help:      "Source cache lookups by source and result.",
		}, []string{"source", "result"}),
		AlertEmails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_emails_total",
			Help:      "Alert emails by result.",
		}, []string{"result"}),
	}
}
