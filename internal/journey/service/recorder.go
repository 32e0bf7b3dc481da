package service

import (
	"context"
	"log/slog"

	"submit/internal/journey/metrics"
	"submit/internal/journey/models"
	"submit/pkg/requestcontext"
)

// Store is the append-only journey log.
type Store interface {
	Append(ctx context.Context, e *models.Event) (int64, error)
	List(ctx context.Context, q models.Query) ([]models.Event, error)
	Programs(ctx context.Context) ([]string, error)
}

// Sink receives a copy of every persisted event. Publish must not block the
// caller on delivery.
type Sink interface {
	Publish(ctx context.Context, e models.Event)
}

// Recorder writes journey events. Recording is best-effort: a failed write is
// logged and counted but never surfaces to the caller.
type Recorder struct {
	store   Store
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithSink adds a downstream sink fed after each successful append.
func WithSink(s Sink) Option {
	return func(r *Recorder) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record persists e and returns its id, or 0 when the write failed. Missing
// timestamp and request IP are taken from the request context.
func (r *Recorder) Record(ctx context.Context, e models.Event) int64 {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = requestcontext.Now(ctx)
	}
	if e.RequestIP == "" {
		e.RequestIP = requestcontext.ClientIP(ctx)
	}
	e.Metadata = e.Metadata.Compact()

	id, err := r.store.Append(ctx, &e)
	if err != nil {
		r.metrics.IncPersistFailures()
		r.logger.WarnContext(ctx, "journey event not recorded",
			"request_id", requestcontext.RequestID(ctx),
			"event_type", e.Type,
			"program", e.Program,
			"error", err,
		)
		return 0
	}
	r.metrics.IncRecorded(e.Type)

	e.ID = id
	for _, s := range r.sinks {
		s.Publish(ctx, e)
	}
	return id
}
