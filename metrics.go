package abtasty

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "abtasty_provider"

// providerMetrics are the Prometheus collectors of one provider. They are
// registered with the Registerer given to WithMetricsRegisterer; without one
// they are still updated but never exported.
type providerMetrics struct {
	evaluations *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	fetchDur    prometheus.Histogram
	sessions    prometheus.Gauge

	// heldSessions is this provider's share of the sessions gauge, which
	// sums over every provider sharing the registry.
	heldSessions atomic.Int64
}

func newProviderMetrics(reg prometheus.Registerer) *providerMetrics {
	m := &providerMetrics{
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "evaluations_total",
				Help:      "Total flag evaluations",
			},
			[]string{"type", "result"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fetches_total",
				Help:      "Total visitor flag fetches",
			},
			[]string{"result"},
		),
		fetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Visitor flag fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions",
			Help:      "Number of visitor sessions held by all providers",
		}),
	}
	if reg == nil {
		return m
	}

	m.evaluations = register(reg, m.evaluations)
	m.fetches = register(reg, m.fetches)
	m.fetchDur = register(reg, m.fetchDur)
	m.sessions = register(reg, m.sessions)
	return m
}

// register registers c, reusing the collector already registered under the
// same descriptor so that several providers can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// The observe methods are no-ops on a nil receiver so that a Resolver built
// with NewResolver works without metrics.

func (m *providerMetrics) observeEvaluation(kind string, failed bool) {
	if m == nil {
		return
	}
	result := "success"
	if failed {
		result = "error"
	}
	m.evaluations.WithLabelValues(kind, result).Inc()
}

func (m *providerMetrics) observeFetch(seconds float64, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDur.Observe(seconds)
}

// setSessions records that this provider now holds n sessions.
func (m *providerMetrics) setSessions(n int) {
	if m == nil {
		return
	}
	prev := m.heldSessions.Swap(int64(n))
	m.sessions.Add(float64(int64(n) - prev))
}
