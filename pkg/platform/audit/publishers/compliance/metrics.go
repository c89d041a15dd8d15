package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for compliance audit tracking.
type Metrics struct {
	EventsEmitted   prometheus.Counter
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance with compliance audit metrics
// registered.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_audit_compliance_emitted_total",
			Help: "Compliance audit events successfully persisted",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_audit_compliance_persist_failures_total",
			Help: "Compliance audit persistence failures (fail-closed)",
		}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "guestgate_audit_compliance_persist_seconds",
			Help:    "Latency of synchronous compliance audit writes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

// IncEventsEmitted increments the emitted counter. Nil-safe.
func (m *Metrics) IncEventsEmitted() {
	if m == nil {
		return
	}
	m.EventsEmitted.Inc()
}

// IncPersistFailures increments the failure counter. Nil-safe.
func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// ObservePersistDuration records one write latency in seconds. Nil-safe.
func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(seconds)
}
