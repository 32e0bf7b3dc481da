package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts popup authorization lifecycle events.
type Metrics struct {
	Created     prometheus.Counter
	Transitions *prometheus.CounterVec
	StatusReads *prometheus.CounterVec
}

// New registers the authorization metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "submit_authorization_requests_created_total",
			Help: "Total number of popup authorization requests created",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "submit_authorization_transitions_total",
			Help: "Terminal transitions of authorization requests by target status",
		}, []string{"status"}),
		StatusReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "submit_authorization_status_reads_total",
			Help: "Status polls by outcome (pending, consumed, rejected, expired, failed)",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncrementCreated() {
	if m == nil {
		return
	}
	m.Created.Inc()
}

func (m *Metrics) IncrementTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementStatusRead(outcome string) {
	if m == nil {
		return
	}
	m.StatusReads.WithLabelValues(outcome).Inc()
}
