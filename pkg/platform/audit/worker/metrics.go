package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the outbox relay.
type Metrics struct {
	Relayed      prometheus.Counter
	PassFailures prometheus.Counter
}

// NewMetrics registers the relay metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Relayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_audit_outbox_relayed_total",
			Help: "Audit outbox entries published to Kafka",
		}),
		PassFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_audit_outbox_pass_failures_total",
			Help: "Outbox relay passes that rolled back",
		}),
	}
}

// AddRelayed records n published entries. Nil-safe.
func (m *Metrics) AddRelayed(n int) {
	if m == nil {
		return
	}
	m.Relayed.Add(float64(n))
}

// IncPassFailures records a failed relay pass. Nil-safe.
func (m *Metrics) IncPassFailures() {
	if m == nil {
		return
	}
	m.PassFailures.Inc()
}
