package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the trust aggregator.
type Metrics struct {
	// Score distribution across all recomputations
	ScoreDistribution prometheus.Histogram

	// Level assignments by level
	LevelTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all trust module metrics registered.
func New() *Metrics {
	return &Metrics{
		ScoreDistribution: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "guestgate_trust_score",
			Help:    "Distribution of computed trust scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		LevelTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_trust_levels_total",
			Help: "Total level assignments by level",
		}, []string{"level"}),
	}
}

// ObserveScore records one recomputed score and its level.
func (m *Metrics) ObserveScore(value int, level string) {
	if m != nil {
		m.ScoreDistribution.Observe(float64(value))
		m.LevelTotal.WithLabelValues(level).Inc()
	}
}
