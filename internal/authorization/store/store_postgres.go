package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"submit/internal/authorization/models"
	"submit/internal/identity"
	"submit/internal/platform/postgres"
	"submit/pkg/platform/sentinel"
)

// PostgresStore persists authorization requests. State transitions are
// single guarded UPDATEs so concurrent callbacks and polls cannot both win.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *models.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorization_requests (auth_id, program, status, popup_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, r.AuthID, r.Program, string(r.Status), r.PopupURL, r.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("authorization request %s: %w", r.AuthID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create authorization request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByAuthID(ctx context.Context, authID string) (*models.Request, error) {
	var (
		r                        models.Request
		status                   string
		popupURL, idvRec, reason sql.NullString
		payload                  []byte
		completedAt, consumedAt  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT auth_id, program, status, popup_url, idv_rec, identity_response, failure_reason,
		       created_at, updated_at, completed_at, consumed_at
		FROM authorization_requests
		WHERE auth_id = $1
	`, authID).Scan(&r.AuthID, &r.Program, &status, &popupURL, &idvRec, &payload, &reason,
		&r.CreatedAt, &r.UpdatedAt, &completedAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("authorization request %s: %w", authID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find authorization request: %w", err)
	}

	r.Status = models.Status(status)
	r.PopupURL = popupURL.String
	r.IDVRec = idvRec.String
	r.FailureReason = reason.String
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if consumedAt.Valid {
		r.ConsumedAt = &consumedAt.Time
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.IdentityResponse); err != nil {
			return nil, fmt.Errorf("decode identity response: %w", err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) Expire(ctx context.Context, authID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE authorization_requests SET status = 'expired', updated_at = $2
		WHERE auth_id = $1 AND status = 'pending'
	`, authID, now)
	return s.checkTransition(res, err, authID, "expire")
}

func (s *PostgresStore) Fail(ctx context.Context, authID, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE authorization_requests SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE auth_id = $1 AND status = 'pending'
	`, authID, reason, now)
	return s.checkTransition(res, err, authID, "fail")
}

func (s *PostgresStore) Complete(ctx context.Context, authID, idvRec string, payload identity.Identity, now time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode identity response: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE authorization_requests
		SET status = 'completed', idv_rec = $2, identity_response = $3, completed_at = $4, updated_at = $4
		WHERE auth_id = $1 AND status = 'pending'
	`, authID, idvRec, body, now)
	return s.checkTransition(res, err, authID, "complete")
}

// MarkConsumed is a single-field conditional update outside any read
// transaction; exactly one concurrent caller observes true.
func (s *PostgresStore) MarkConsumed(ctx context.Context, authID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE authorization_requests SET consumed_at = $2
		WHERE auth_id = $1 AND status = 'completed' AND consumed_at IS NULL
	`, authID, now)
	if err != nil {
		return false, fmt.Errorf("mark authorization consumed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark authorization consumed: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) checkTransition(res sql.Result, err error, authID, op string) error {
	if err != nil {
		return fmt.Errorf("%s authorization request: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s authorization request: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s authorization request %s: %w", op, authID, sentinel.ErrInvalidState)
	}
	return nil
}
