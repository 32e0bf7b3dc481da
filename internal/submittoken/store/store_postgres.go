package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"submit/internal/platform/postgres"
	"submit/internal/submittoken/models"
	"submit/pkg/platform/sentinel"
)

// PostgresStore persists submit tokens; the unique index on submit_id is the
// serialization point for concurrent issues.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, t *models.Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorized_submit_tokens (submit_id, idv_rec, program, issued_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, t.SubmitID, t.IDVRec, t.Program, t.IssuedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("submit token %s: %w", t.SubmitID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create submit token: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindBySubmitID(ctx context.Context, submitID string) (*models.Token, error) {
	var t models.Token
	err := s.db.QueryRowContext(ctx, `
		SELECT submit_id, idv_rec, COALESCE(program, ''), issued_at
		FROM authorized_submit_tokens
		WHERE submit_id = $1
	`, submitID).Scan(&t.SubmitID, &t.IDVRec, &t.Program, &t.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submit token %s: %w", submitID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find submit token: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) Delete(ctx context.Context, submitID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM authorized_submit_tokens WHERE submit_id = $1`, submitID); err != nil {
		return fmt.Errorf("delete submit token: %w", err)
	}
	return nil
}
