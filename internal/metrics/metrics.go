// Package metrics exposes prometheus collectors for runs, provider calls and credit deductions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// RunMetrics captures run, provider and ledger signals.
type RunMetrics struct {
	runs           *prometheus.CounterVec
	providerCalls  *prometheus.HistogramVec
	providerErrors *prometheus.CounterVec
	creditsCharged prometheus.Counter
	shortfall      prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *RunMetrics
)

// Default returns the process-wide metrics registered on the default registerer.
func Default() *RunMetrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New builds and registers collectors on registerer.
func New(registerer prometheus.Registerer) *RunMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &RunMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microrun_runs_total",
			Help: "Runs by phase and outcome.",
		}, []string{"phase", "outcome"}),
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "microrun_provider_call_seconds",
			Help:    "Provider call latency by family.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"family"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "microrun_provider_errors_total",
			Help: "Failed provider calls by family.",
		}, []string{"family"}),
		creditsCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "microrun_credits_charged_total",
			Help: "Credits deducted from owners.",
		}),
		shortfall: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "microrun_ledger_shortfall_total",
			Help: "Credits requested by runs that could not be deducted.",
		}),
	}
	registerer.MustRegister(m.runs, m.providerCalls, m.providerErrors, m.creditsCharged, m.shortfall)
	return m
}

// ObserveRun counts a finished run.
func (m *RunMetrics) ObserveRun(phase, outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(phase, outcome).Inc()
}

// ObserveProviderCall records the latency of one provider call.
func (m *RunMetrics) ObserveProviderCall(family string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(family).Observe(elapsed.Seconds())
	if err != nil {
		m.providerErrors.WithLabelValues(family).Inc()
	}
}

// ObserveDeduction records charged credits and any shortfall against the requested amount.
func (m *RunMetrics) ObserveDeduction(requested, charged int64) {
	if m == nil {
		return
	}
	if charged > 0 {
		m.creditsCharged.Add(float64(charged))
	}
	if requested > charged {
		m.shortfall.Add(float64(requested - charged))
	}
}
