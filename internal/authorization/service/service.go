package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"submit/internal/authorization/metrics"
	"submit/internal/authorization/models"
	"submit/internal/identity"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/platform/sentinel"
	"submit/pkg/requestcontext"
)

// Store persists authorization requests. Transitions out of pending are
// conditional and report sentinel.ErrInvalidState when the row has moved on.
type Store interface {
	Create(ctx context.Context, r *models.Request) error
	FindByAuthID(ctx context.Context, authID string) (*models.Request, error)
	Expire(ctx context.Context, authID string, now time.Time) error
	Fail(ctx context.Context, authID, reason string, now time.Time) error
	Complete(ctx context.Context, authID, idvRec string, payload identity.Identity, now time.Time) error
	MarkConsumed(ctx context.Context, authID string, now time.Time) (bool, error)
}

// StatusView is the result of a status poll. Identity is only populated for
// the single read that consumed a completed request.
type StatusView struct {
	Request  *models.Request
	Identity identity.Identity
}

// Service drives the popup authorization state machine.
type Service struct {
	store   Store
	baseURL string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service. baseURL is the public origin used for popup links.
func New(store Store, baseURL string, opts ...Option) *Service {
	s := &Service{store: store, baseURL: baseURL, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a pending request for program and returns it with its popup URL.
func (s *Service) Create(ctx context.Context, program string) (*models.Request, error) {
	now := requestcontext.Now(ctx)
	authID := uuid.NewString()
	r := &models.Request{
		AuthID:    authID,
		Program:   program,
		Status:    models.StatusPending,
		PopupURL:  s.baseURL + "/popup/authorize/" + authID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create authorization request")
	}
	s.metrics.IncrementCreated()
	s.logger.InfoContext(ctx, "authorization request created",
		"request_id", requestcontext.RequestID(ctx),
		"auth_id", authID,
		"program", program,
	)
	return r, nil
}

// ReadStatus answers a program's status poll. A read may expire a stale pending
// request, and the first read of a completed request consumes it; neither
// makes the call idempotent.
func (s *Service) ReadStatus(ctx context.Context, authID, requesterProgram string) (*StatusView, error) {
	now := requestcontext.Now(ctx)
	r, err := s.find(ctx, authID)
	if err != nil {
		return nil, err
	}

	if r.ShouldExpire(now) {
		err := s.store.Expire(ctx, authID, now)
		switch {
		case err == nil:
			r.Status = models.StatusExpired
			r.UpdatedAt = now
			s.metrics.IncrementTransition(string(models.StatusExpired))
		case errors.Is(err, sentinel.ErrInvalidState):
			// completed or failed concurrently; reload the winner's state
			if r, err = s.find(ctx, authID); err != nil {
				return nil, err
			}
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire authorization request")
		}
	}

	if requesterProgram != r.Program {
		s.metrics.IncrementStatusRead("rejected")
		return nil, dErrors.New(dErrors.CodeForbidden, "Not allowed")
	}
	if r.Status == models.StatusCompleted && r.IsConsumed() {
		s.metrics.IncrementStatusRead("rejected")
		return nil, dErrors.New(dErrors.CodeForbidden, "Not allowed")
	}

	if r.Status != models.StatusCompleted {
		s.metrics.IncrementStatusRead(string(r.Status))
		return &StatusView{Request: r}, nil
	}

	won, err := s.store.MarkConsumed(ctx, authID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume authorization request")
	}
	if !won {
		s.metrics.IncrementStatusRead("rejected")
		return nil, dErrors.New(dErrors.CodeForbidden, "Not allowed")
	}
	r.ConsumedAt = &now
	s.metrics.IncrementStatusRead("consumed")
	s.logger.InfoContext(ctx, "authorization result consumed",
		"request_id", requestcontext.RequestID(ctx),
		"auth_id", authID,
		"program", r.Program,
	)
	return &StatusView{Request: r, Identity: r.IdentityResponse}, nil
}

// Pending returns the request only while it is still awaiting the popup.
func (s *Service) Pending(ctx context.Context, authID string) (*models.Request, error) {
	r, err := s.find(ctx, authID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPending {
		return nil, dErrors.New(dErrors.CodeGone, "Authorization request not found or expired")
	}
	return r, nil
}

// Complete records the verified identity. Only a pending request can complete.
func (s *Service) Complete(ctx context.Context, authID, idvRec string, filtered identity.Identity) error {
	now := requestcontext.Now(ctx)
	if err := s.store.Complete(ctx, authID, idvRec, filtered, now); err != nil {
		return s.transitionError(err)
	}
	s.metrics.IncrementTransition(string(models.StatusCompleted))
	s.logger.InfoContext(ctx, "authorization request completed",
		"request_id", requestcontext.RequestID(ctx),
		"auth_id", authID,
	)
	return nil
}

// Fail moves a pending request to failed after a protocol error.
func (s *Service) Fail(ctx context.Context, authID, reason string) error {
	now := requestcontext.Now(ctx)
	if err := s.store.Fail(ctx, authID, reason, now); err != nil {
		return s.transitionError(err)
	}
	s.metrics.IncrementTransition(string(models.StatusFailed))
	s.logger.WarnContext(ctx, "authorization request failed",
		"request_id", requestcontext.RequestID(ctx),
		"auth_id", authID,
		"reason", reason,
	)
	return nil
}

func (s *Service) find(ctx context.Context, authID string) (*models.Request, error) {
	r, err := s.store.FindByAuthID(ctx, authID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "Authorization request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load authorization request")
	}
	return r, nil
}

func (s *Service) transitionError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "Authorization request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, "Authorization request not found or expired")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update authorization request")
	}
}
