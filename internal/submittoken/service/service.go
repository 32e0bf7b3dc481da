package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"submit/internal/submittoken/models"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/platform/sentinel"
	"submit/pkg/requestcontext"
)

// Store persists submit tokens. Create reports sentinel.ErrAlreadyUsed for a
// duplicate submit id.
type Store interface {
	Create(ctx context.Context, t *models.Token) error
	FindBySubmitID(ctx context.Context, submitID string) (*models.Token, error)
	Delete(ctx context.Context, submitID string) error
}

// Ledger issues and enforces one-time submit tokens.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewSubmitID returns a fresh globally unique submit id.
func NewSubmitID() string {
	return uuid.NewString()
}

// Issue records a token for idvRec under a fresh submit id.
func (l *Ledger) Issue(ctx context.Context, idvRec, program string) (string, error) {
	submitID := NewSubmitID()
	if err := l.IssueWithID(ctx, submitID, idvRec, program); err != nil {
		return "", err
	}
	return submitID, nil
}

// IssueWithID records a token under a caller-chosen submit id. Re-issuing the
// same id for the same identity and program succeeds, so a refreshed redirect
// is harmless; any other duplicate is a conflict.
func (l *Ledger) IssueWithID(ctx context.Context, submitID, idvRec, program string) error {
	if submitID == "" || idvRec == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "submit id and identity are required")
	}
	t := &models.Token{
		SubmitID: submitID,
		IDVRec:   idvRec,
		Program:  program,
		IssuedAt: requestcontext.Now(ctx),
	}
	err := l.store.Create(ctx, t)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sentinel.ErrAlreadyUsed) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue submit token")
	}

	existing, findErr := l.store.FindBySubmitID(ctx, submitID)
	if findErr != nil {
		// consumed between the insert and the lookup
		return dErrors.Wrap(err, dErrors.CodeConflict, "submit token already issued")
	}
	if existing.IDVRec == idvRec && existing.Program == program {
		return nil
	}
	return dErrors.Wrap(err, dErrors.CodeConflict, "submit token already issued")
}

// Authorize reports whether submitID grants idvRec a verification for program.
// The matching token is returned so callers can log its binding.
func (l *Ledger) Authorize(ctx context.Context, submitID, idvRec, program string) (bool, *models.Token, error) {
	t, err := l.store.FindBySubmitID(ctx, submitID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load submit token")
	}
	return t.Matches(idvRec, program), t, nil
}

// Consume deletes the token. Failures are logged and swallowed: the
// verification attempt ledger is the replay guard of record.
func (l *Ledger) Consume(ctx context.Context, submitID string) {
	if err := l.store.Delete(ctx, submitID); err != nil {
		l.logger.WarnContext(ctx, "failed to consume submit token",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}
