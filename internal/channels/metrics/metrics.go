package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification channels.
type Metrics struct {
	// Attempts started by channel
	StartsTotal *prometheus.CounterVec

	// Terminal outcomes by channel and status
	OutcomesTotal *prometheus.CounterVec

	// OTP challenges that ran out before a matching code
	OTPExpiriesTotal prometheus.Counter

	// Wall time from attempt start to terminal outcome, by channel
	SettleDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance with all channel metrics registered.
func New() *Metrics {
	return &Metrics{
		StartsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_channel_starts_total",
			Help: "Total verification attempts started by channel",
		}, []string{"channel"}),

		OutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_channel_outcomes_total",
			Help: "Total terminal channel outcomes by channel and status",
		}, []string{"channel", "status"}),

		OTPExpiriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_otp_expiries_total",
			Help: "Total OTP challenges that expired before verification",
		}),

		SettleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guestgate_channel_settle_seconds",
			Help:    "Time from attempt start to terminal outcome by channel",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"channel"}),
	}
}

// RecordStart counts one started attempt.
func (m *Metrics) RecordStart(channel string) {
	if m != nil {
		m.StartsTotal.WithLabelValues(channel).Inc()
	}
}

// RecordOutcome counts one terminal outcome and its settle time.
func (m *Metrics) RecordOutcome(channel, status string, settle time.Duration) {
	if m != nil {
		m.OutcomesTotal.WithLabelValues(channel, status).Inc()
		m.SettleDuration.WithLabelValues(channel).Observe(settle.Seconds())
	}
}

// RecordOTPExpiry counts one expired challenge.
func (m *Metrics) RecordOTPExpiry() {
	if m != nil {
		m.OTPExpiriesTotal.Inc()
	}
}
