package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"submit/internal/journey/models"
	"submit/internal/journey/sessionize"
)

// PostgresStore persists the journey log in user_journey_events.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e *models.Event) (int64, error) {
	var meta []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode journey metadata: %w", err)
		}
		meta = b
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_journey_events
			(event_type, program, idv_rec, email, request_ip, metadata, verification_attempt_id, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		RETURNING id
	`, e.Type, e.Program, e.IDVRec, e.Email, e.RequestIP, meta, e.VerificationAttemptID, e.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append journey event: %w", err)
	}
	return id, nil
}

// List returns matching events, newest first, capped at q.Limit.
func (s *PostgresStore) List(ctx context.Context, q models.Query) ([]models.Event, error) {
	query, args := buildListQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journey events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			e                                 models.Event
			program, idvRec, email, requestIP sql.NullString
			meta                              []byte
			attemptID                         sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Type, &program, &idvRec, &email, &requestIP, &meta, &attemptID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journey event: %w", err)
		}
		e.Program = program.String
		e.IDVRec = idvRec.String
		e.Email = email.String
		e.RequestIP = requestIP.String
		if attemptID.Valid {
			id := attemptID.Int64
			e.VerificationAttemptID = &id
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode journey metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list journey events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Programs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT program FROM user_journey_events WHERE program IS NOT NULL ORDER BY program
	`)
	if err != nil {
		return nil, fmt.Errorf("list journey programs: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan journey program: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func buildListQuery(q models.Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.Program != "" {
		add("program = $%d", q.Program)
	}
	if q.Email != "" {
		add("email = $%d", q.Email)
	}
	if q.IDVRec != "" {
		add("idv_rec = $%d", q.IDVRec)
	}
	if q.SubmitID != "" {
		add("metadata ->> 'submit_id' = $%d", q.SubmitID)
	}
	if len(q.Types) > 0 {
		add("event_type = ANY($%d)", pq.Array(q.Types))
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at <= $%d", q.To)
	}
	if q.Text != "" {
		args = append(args, "%"+q.Text+"%", q.Text)
		like, exact := len(args)-1, len(args)
		where = append(where, fmt.Sprintf(
			"(email ILIKE $%[1]d OR idv_rec ILIKE $%[1]d OR program ILIKE $%[1]d OR request_ip ILIKE $%[1]d OR metadata ->> 'slack_id' ILIKE $%[1]d OR metadata ->> 'submit_id' = $%[2]d)",
			like, exact))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = sessionize.DefaultWindow
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString(`SELECT id, event_type, program, idv_rec, email, request_ip, metadata, verification_attempt_id, created_at FROM user_journey_events`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	return b.String(), args
}
