package session

import (
	"context"
	"sync"
	"time"

	"submit/pkg/platform/sentinel"
)

type entry struct {
	data      Data
	expiresAt time.Time
}

// InMemoryStore is a single-process session store. Expired entries are
// dropped on read.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]entry), now: time.Now}
}

func (s *InMemoryStore) Load(_ context.Context, id string) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		return nil, sentinel.ErrNotFound
	}
	d := e.data
	return &d, nil
}

func (s *InMemoryStore) Save(_ context.Context, id string, d *Data, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = entry{data: *d, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}
