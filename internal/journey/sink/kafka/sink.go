// Package kafka mirrors recorded journey events to a Kafka topic. Delivery is
// asynchronous and best-effort; a circuit breaker sheds load while brokers are
// unreachable.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"submit/internal/journey/metrics"
	"submit/internal/journey/models"
	"submit/pkg/platform/circuit"
)

// Producer is the subset of *kgo.Client the sink needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Message is the wire form of a journey event.
type Message struct {
	ID                    int64           `json:"id"`
	EventType             string          `json:"event_type"`
	Program               string          `json:"program,omitempty"`
	IDVRec                string          `json:"idv_rec,omitempty"`
	Email                 string          `json:"email,omitempty"`
	RequestIP             string          `json:"request_ip,omitempty"`
	Metadata              models.Metadata `json:"metadata,omitempty"`
	VerificationAttemptID *int64          `json:"verification_attempt_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

type Sink struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Sink)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Sink) { s.breaker = b }
}

func New(producer Producer, topic string, opts ...Option) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = circuit.New("journey-kafka")
	}
	return s
}

// Publish enqueues e for delivery. Records are keyed by submit id when present
// so one session lands on one partition.
func (s *Sink) Publish(ctx context.Context, e models.Event) {
	if !s.breaker.Allow() {
		s.metrics.IncSinkDropped()
		return
	}
	value, err := json.Marshal(Message{
		ID:                    e.ID,
		EventType:             e.Type,
		Program:               e.Program,
		IDVRec:                e.IDVRec,
		Email:                 e.Email,
		RequestIP:             e.RequestIP,
		Metadata:              e.Metadata,
		VerificationAttemptID: e.VerificationAttemptID,
		CreatedAt:             e.CreatedAt,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "journey event not encodable", "event_type", e.Type, "error", err)
		return
	}
	rec := &kgo.Record{
		Topic:     s.topic,
		Value:     value,
		Timestamp: e.CreatedAt,
	}
	if key := partitionKey(e); key != "" {
		rec.Key = []byte(key)
	}
	s.producer.Produce(context.WithoutCancel(ctx), rec, s.onDelivery)
}

func (s *Sink) onDelivery(r *kgo.Record, err error) {
	if err != nil {
		s.metrics.IncSinkFailures()
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.metrics.SetCircuitOpen(true)
			s.logger.Warn("journey sink circuit opened", "topic", r.Topic, "error", err)
		}
		return
	}
	s.metrics.IncSinkPublished()
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetCircuitOpen(false)
		s.logger.Info("journey sink circuit closed", "topic", r.Topic)
	}
}

func partitionKey(e models.Event) string {
	if id := e.Metadata.SubmitID(); id != "" {
		return id
	}
	if e.IDVRec != "" {
		return e.IDVRec
	}
	return e.Email
}
