package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the coordinator's Prometheus instruments.
type Metrics struct {
	inFlight       prometheus.Gauge
	state          prometheus.Gauge
	submitted      prometheus.Counter
	completed      *prometheus.CounterVec
	discarded      prometheus.Counter
	unresolved     prometheus.Counter
	reportFailures prometheus.Counter
	evalSeconds    prometheus.Histogram
}

// NewMetrics registers the coordinator metrics with reg.
// Use prometheus.DefaultRegisterer in binaries and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "sweep_in_flight",
			Help: "Units of work currently in flight",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "sweep_state",
			Help: "Coordinator state (1=PRIMING 2=STEADY 3=DRAINING 4=DONE)",
		}),
		submitted: f.NewCounter(prometheus.CounterOpts{
			Name: "sweep_submitted_total",
			Help: "Units of work submitted to the pool",
		}),
		completed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_completed_total",
			Help: "Units of work retired, by outcome",
		}, []string{"outcome"}),
		discarded: f.NewCounter(prometheus.CounterOpts{
			Name: "sweep_discarded_total",
			Help: "Suggestions discarded because their key was already in flight",
		}),
		unresolved: f.NewCounter(prometheus.CounterOpts{
			Name: "sweep_unresolved_total",
			Help: "Completions whose key was not in the registry",
		}),
		reportFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sweep_report_failures_total",
			Help: "Measurements the oracle refused",
		}),
		evalSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweep_evaluation_seconds",
			Help:    "Evaluation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.4min
		}),
	}
}

// The methods below accept a nil receiver so the coordinator can run
// without metrics.

func (m *Metrics) setState(s State, inFlight int) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
	m.inFlight.Set(float64(inFlight))
}

func (m *Metrics) submit(inFlight int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.inFlight.Set(float64(inFlight))
}

func (m *Metrics) complete(outcome string, seconds float64, inFlight int) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(outcome).Inc()
	m.evalSeconds.Observe(seconds)
	m.inFlight.Set(float64(inFlight))
}

func (m *Metrics) discard() {
	if m != nil {
		m.discarded.Inc()
	}
}

func (m *Metrics) unresolve() {
	if m != nil {
		m.unresolved.Inc()
	}
}

func (m *Metrics) reportFailed() {
	if m != nil {
		m.reportFailures.Inc()
	}
}
