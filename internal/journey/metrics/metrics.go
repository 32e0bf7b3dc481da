package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the journey log and its sinks.
type Metrics struct {
	Recorded            *prometheus.CounterVec
	PersistFailures     prometheus.Counter
	SinkPublished       prometheus.Counter
	SinkFailures        prometheus.Counter
	SinkDropped         prometheus.Counter
	CircuitBreakerState prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Recorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "submit_journey_events_recorded_total",
			Help: "Journey events persisted, by event type",
		}, []string{"event_type"}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "submit_journey_persist_failures_total",
			Help: "Journey events that could not be persisted",
		}),
		SinkPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "submit_journey_sink_published_total",
			Help: "Journey events acknowledged by the streaming sink",
		}),
		SinkFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "submit_journey_sink_failures_total",
			Help: "Journey events the streaming sink failed to deliver",
		}),
		SinkDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "submit_journey_sink_dropped_total",
			Help: "Journey events dropped while the sink circuit was open",
		}),
		CircuitBreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "submit_journey_sink_circuit_state",
			Help: "Sink circuit state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncRecorded(eventType string) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) IncSinkPublished() {
	if m == nil {
		return
	}
	m.SinkPublished.Inc()
}

func (m *Metrics) IncSinkFailures() {
	if m == nil {
		return
	}
	m.SinkFailures.Inc()
}

func (m *Metrics) IncSinkDropped() {
	if m == nil {
		return
	}
	m.SinkDropped.Inc()
}

// SetCircuitOpen records the sink circuit state.
func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
