package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"submit/internal/program/models"
	"submit/pkg/platform/sentinel"
)

// PostgresStore reads programs managed by the admin CRUD surface.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed program store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const programColumns = `slug, name, api_key, form_url, COALESCE(owner_email, ''), scopes, mappings, active, created_at, updated_at`

func (s *PostgresStore) FindBySlug(ctx context.Context, slug string) (*models.Program, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE slug = $1`, slug)
	p, err := scanProgram(row)
	if err != nil {
		return nil, fmt.Errorf("find program %q: %w", slug, err)
	}
	return p, nil
}

func (s *PostgresStore) FindByAPIKey(ctx context.Context, apiKey string) (*models.Program, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE api_key = $1`, apiKey)
	p, err := scanProgram(row)
	if err != nil {
		return nil, fmt.Errorf("find program by api key: %w", err)
	}
	return p, nil
}

// Save upserts a program keyed by slug.
func (s *PostgresStore) Save(ctx context.Context, p *models.Program) error {
	mappings, err := json.Marshal(p.Mappings)
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO programs (slug, name, api_key, form_url, owner_email, scopes, mappings, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, now(), now())
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			api_key = EXCLUDED.api_key,
			form_url = EXCLUDED.form_url,
			owner_email = EXCLUDED.owner_email,
			scopes = EXCLUDED.scopes,
			mappings = EXCLUDED.mappings,
			active = EXCLUDED.active,
			updated_at = now()
	`, p.Slug, p.Name, p.APIKey, p.FormURL, p.OwnerEmail, pq.Array(p.EnabledScopes()), mappings, p.Active)
	if err != nil {
		return fmt.Errorf("save program %q: %w", p.Slug, err)
	}
	return nil
}

func (s *PostgresStore) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM programs ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list program slugs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan program slug: %w", err)
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (*models.Program, error) {
	var (
		p        models.Program
		scopes   []string
		mappings []byte
	)
	err := row.Scan(&p.Slug, &p.Name, &p.APIKey, &p.FormURL, &p.OwnerEmail,
		pq.Array(&scopes), &mappings, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Scopes = make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		p.Scopes[sc] = true
	}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &p.Mappings); err != nil {
			return nil, fmt.Errorf("decode mappings: %w", err)
		}
	}
	return &p, nil
}
