package store

import (
	"context"
	"sort"
	"sync"

	"submit/internal/journey/models"
	"submit/internal/journey/sessionize"
)

// InMemoryStore keeps the journey log in process, append-only.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []models.Event
	nextID int64
}

func New() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, e *models.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cp := *e
	cp.ID = s.nextID
	cp.Metadata = copyMetadata(e.Metadata)
	s.events = append(s.events, cp)
	return cp.ID, nil
}

// List returns matching events, newest first, capped at q.Limit.
func (s *InMemoryStore) List(_ context.Context, q models.Query) ([]models.Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = sessionize.DefaultWindow
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !q.Matches(&e) {
			continue
		}
		e.Metadata = copyMetadata(e.Metadata)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Programs lists distinct non-empty program slugs seen in the log.
func (s *InMemoryStore) Programs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, e := range s.events {
		if e.Program == "" {
			continue
		}
		if _, ok := seen[e.Program]; ok {
			continue
		}
		seen[e.Program] = struct{}{}
		out = append(out, e.Program)
	}
	sort.Strings(out)
	return out, nil
}

func copyMetadata(m models.Metadata) models.Metadata {
	if m == nil {
		return nil
	}
	out := make(models.Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
