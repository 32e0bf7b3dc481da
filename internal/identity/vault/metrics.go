package vault

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks Identity Vault round trips.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the vault metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "submit_identity_vault_request_duration_seconds",
			Help:    "Identity Vault call latency by operation and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		}, []string{"op", "outcome"}),
	}
}

func (m *Metrics) observe(op string, err error, start time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.RequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
