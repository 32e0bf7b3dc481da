package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks verification guard outcomes.
type Metrics struct {
	Outcomes *prometheus.CounterVec
	Duration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "submit_verification_outcomes_total",
			Help: "Verification requests by outcome",
		}, []string{"outcome"}),
		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "submit_verification_duration_seconds",
			Help:    "Time spent answering a verification request, including the vault lookup",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncrementOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDuration(start time.Time) {
	if m == nil {
		return
	}
	m.Duration.Observe(time.Since(start).Seconds())
}
