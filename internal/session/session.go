// Package session keeps per-browser flow state (OAuth nonce, submit id,
// popup auth id) server side, keyed by an opaque cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"submit/internal/platform/config"
	"submit/pkg/platform/sentinel"
)

// Data is the server-side state bound to one browser.
type Data struct {
	StateNonce string `json:"state_nonce,omitempty"`
	SubmitID   string `json:"submit_id,omitempty"`
	AuthID     string `json:"auth_id,omitempty"`
	Program    string `json:"program,omitempty"`
}

// Store persists session data with a TTL. Load returns sentinel.ErrNotFound
// for unknown or expired ids.
type Store interface {
	Load(ctx context.Context, id string) (*Data, error)
	Save(ctx context.Context, id string, d *Data, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Session is a loaded browser session.
type Session struct {
	ID string
	Data
}

// Manager reads and writes the session cookie.
type Manager struct {
	store Store
	cfg   config.SessionConfig
}

func NewManager(store Store, cfg config.SessionConfig) *Manager {
	return &Manager{store: store, cfg: cfg}
}

// Get returns the request's session, or a fresh empty one when the cookie is
// absent or its data has expired.
func (m *Manager) Get(r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err == nil && c.Value != "" {
		d, err := m.store.Load(r.Context(), c.Value)
		switch {
		case err == nil:
			return &Session{ID: c.Value, Data: *d}, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return nil, fmt.Errorf("load session: %w", err)
		}
	}
	id, err := NewToken()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id}, nil
}

// Save persists s and (re)issues the cookie.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	if err := m.store.Save(r.Context(), s.ID, &s.Data, m.cfg.TTL); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// NewToken returns 16 random bytes, hex encoded. Used for session ids and
// OAuth state nonces.
func NewToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
