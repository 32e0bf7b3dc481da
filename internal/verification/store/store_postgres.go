package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"submit/internal/platform/postgres"
	"submit/internal/verification/models"
	"submit/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a *models.Attempt) (int64, error) {
	var identityJSON []byte
	if a.IdentityResponse != nil {
		b, err := json.Marshal(a.IdentityResponse)
		if err != nil {
			return 0, fmt.Errorf("encode identity response: %w", err)
		}
		identityJSON = b
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO verification_attempts
			(idv_rec, submit_id, first_name, last_name, email, verified, verification_status,
			 rejection_reason, ysws_eligible, identity_response, program, ip, created_at)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''),
			NULLIF($8, ''), $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13)
		RETURNING id
	`, a.IDVRec, a.SubmitID, a.FirstName, a.LastName, a.Email, a.Verified, a.VerificationStatus,
		a.RejectionReason, a.YSWSEligible, identityJSON, a.Program, a.IP, a.CreatedAt).Scan(&id)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return 0, fmt.Errorf("submit id %s: %w", a.SubmitID, sentinel.ErrAlreadyUsed)
		}
		return 0, fmt.Errorf("insert verification attempt: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ExistsBySubmitID(ctx context.Context, submitID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verification_attempts WHERE submit_id = $1)`, submitID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check submit id use: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.Attempt, error) {
	var (
		a                                                    models.Attempt
		idvRec, submitID, first, last, email, status, reason sql.NullString
		program, ip                                          sql.NullString
		eligible                                             sql.NullBool
		identityJSON                                         []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idv_rec, submit_id, first_name, last_name, email, verified, verification_status,
			rejection_reason, ysws_eligible, identity_response, program, ip, created_at
		FROM verification_attempts WHERE id = $1
	`, id).Scan(&a.ID, &idvRec, &submitID, &first, &last, &email, &a.Verified, &status,
		&reason, &eligible, &identityJSON, &program, &ip, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find verification attempt: %w", err)
	}
	a.IDVRec, a.SubmitID = idvRec.String, submitID.String
	a.FirstName, a.LastName, a.Email = first.String, last.String, email.String
	a.VerificationStatus, a.RejectionReason = status.String, reason.String
	a.Program, a.IP = program.String, ip.String
	if eligible.Valid {
		v := eligible.Bool
		a.YSWSEligible = &v
	}
	if len(identityJSON) > 0 {
		if err := json.Unmarshal(identityJSON, &a.IdentityResponse); err != nil {
			return nil, fmt.Errorf("decode identity response: %w", err)
		}
	}
	return &a, nil
}
