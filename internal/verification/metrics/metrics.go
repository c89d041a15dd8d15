// Package metrics instruments the verification engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for session lifecycle and persistence.
type Metrics struct {
	// Session lifecycle counters
	SessionsStarted   prometheus.Counter
	SessionsResumed   prometheus.Counter
	SessionsReset     prometheus.Counter
	SessionsCompleted prometheus.Counter

	// Live runtimes held in memory
	ActiveSessions prometheus.Gauge

	// Step navigation
	StepAdvances     *prometheus.CounterVec
	ValidationBlocks *prometheus.CounterVec

	// Snapshot persistence by operation outcome
	SnapshotSaves  *prometheus.CounterVec
	SnapshotLoads  *prometheus.CounterVec
	SnapshotPurges *prometheus.CounterVec
}

// New creates a new Metrics instance with all engine metrics registered.
func New() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_sessions_started_total",
			Help: "Total fresh verification sessions started",
		}),
		SessionsResumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_sessions_resumed_total",
			Help: "Total sessions resumed from a snapshot or live runtime",
		}),
		SessionsReset: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_sessions_reset_total",
			Help: "Total sessions reset to the first step",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_sessions_completed_total",
			Help: "Total sessions submitted from the final step",
		}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "guestgate_active_sessions",
			Help: "Verification sessions currently held in memory",
		}),

		StepAdvances: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_step_advances_total",
			Help: "Total forward step moves by target step",
		}, []string{"step"}),
		ValidationBlocks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_validation_blocks_total",
			Help: "Total step advances blocked by validation, by step",
		}, []string{"step"}),

		SnapshotSaves: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_snapshot_saves_total",
			Help: "Total snapshot save attempts by outcome",
		}, []string{"outcome"}),
		SnapshotLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_snapshot_loads_total",
			Help: "Total snapshot load attempts by outcome",
		}, []string{"outcome"}),
		SnapshotPurges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_snapshot_purges_total",
			Help: "Total snapshot purge attempts by outcome",
		}, []string{"outcome"}),
	}
}

// IncSessionStarted counts one fresh session.
func (m *Metrics) IncSessionStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

// IncSessionResumed counts one resumed session.
func (m *Metrics) IncSessionResumed() {
	if m != nil {
		m.SessionsResumed.Inc()
	}
}

// IncSessionReset counts one reset.
func (m *Metrics) IncSessionReset() {
	if m != nil {
		m.SessionsReset.Inc()
	}
}

// IncSessionCompleted counts one submission.
func (m *Metrics) IncSessionCompleted() {
	if m != nil {
		m.SessionsCompleted.Inc()
	}
}

// SetActiveSessions reports the registry size.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.ActiveSessions.Set(float64(n))
	}
}

// IncStepAdvance counts one forward move to step.
func (m *Metrics) IncStepAdvance(step string) {
	if m != nil {
		m.StepAdvances.WithLabelValues(step).Inc()
	}
}

// IncValidationBlock counts one advance refused by validation at step.
func (m *Metrics) IncValidationBlock(step string) {
	if m != nil {
		m.ValidationBlocks.WithLabelValues(step).Inc()
	}
}

// RecordSnapshotSave counts one save attempt.
func (m *Metrics) RecordSnapshotSave(outcome string) {
	if m != nil {
		m.SnapshotSaves.WithLabelValues(outcome).Inc()
	}
}

// RecordSnapshotLoad counts one load attempt.
func (m *Metrics) RecordSnapshotLoad(outcome string) {
	if m != nil {
		m.SnapshotLoads.WithLabelValues(outcome).Inc()
	}
}

// RecordSnapshotPurge counts one purge attempt.
func (m *Metrics) RecordSnapshotPurge(outcome string) {
	if m != nil {
		m.SnapshotPurges.WithLabelValues(outcome).Inc()
	}
}
