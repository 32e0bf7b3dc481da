package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"submit/internal/program/models"
	"submit/pkg/platform/sentinel"
)

// InMemoryStore keeps programs in process, typically seeded from YAML.
type InMemoryStore struct {
	mu     sync.RWMutex
	bySlug map[string]*models.Program
	byKey  map[string]string
}

// New returns an empty in-memory program store.
func New() *InMemoryStore {
	return &InMemoryStore{
		bySlug: make(map[string]*models.Program),
		byKey:  make(map[string]string),
	}
}

// Save inserts or replaces a program keyed by slug.
func (s *InMemoryStore) Save(_ context.Context, p *models.Program) error {
	if p == nil {
		return fmt.Errorf("program is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if slug, ok := s.byKey[p.APIKey]; ok && slug != p.Slug {
		return fmt.Errorf("api key already assigned to %s: %w", slug, sentinel.ErrConflict)
	}
	if prev, ok := s.bySlug[p.Slug]; ok {
		delete(s.byKey, prev.APIKey)
	}
	s.bySlug[p.Slug] = p.Clone()
	s.byKey[p.APIKey] = p.Slug
	return nil
}

func (s *InMemoryStore) FindBySlug(_ context.Context, slug string) (*models.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("program %q: %w", slug, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) FindByAPIKey(_ context.Context, apiKey string) (*models.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slug, ok := s.byKey[apiKey]
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("program by api key: %w", sentinel.ErrNotFound)
	}
	return s.bySlug[slug].Clone(), nil
}

// ListSlugs returns every known slug in lexical order.
func (s *InMemoryStore) ListSlugs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySlug))
	for slug := range s.bySlug {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out, nil
}
