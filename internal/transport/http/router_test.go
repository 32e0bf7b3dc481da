package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submit/internal/operator"
	"submit/pkg/testutil"
)

type stubRoutes map[string]string

func (s stubRoutes) Register(r chi.Router) {
	for pattern, body := range s {
		r.Get(pattern, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, body)
		})
	}
}

func newTestRouter(t *testing.T, probes map[string]Probe) (http.Handler, *operator.TokenService) {
	t.Helper()
	tokens := operator.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), "submit-admin")
	return NewRouter(Deps{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		RequestTimeout: time.Second,
		Operators:      tokens,
		Probes:         probes,
		Verification:   stubRoutes{"/api/verify": "verify"},
		Journey:        stubRoutes{"/admin/sessions": "sessions"},
		Browser:        stubRoutes{"/{program}": "program"},
	}), tokens
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	w := testutil.Do(h, testutil.Get("/healthz", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestReadiness(t *testing.T) {
	t.Run("all probes pass", func(t *testing.T) {
		h, _ := newTestRouter(t, map[string]Probe{
			"postgres": func(context.Context) error { return nil },
		})
		w := testutil.Do(h, testutil.Get("/readyz", ""))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ready":true,"checks":{"postgres":"ok"}}`, w.Body.String())
	})

	t.Run("a failing probe reports unavailable", func(t *testing.T) {
		h, _ := newTestRouter(t, map[string]Probe{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
		})
		w := testutil.Do(h, testutil.Get("/readyz", ""))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"ready":false,"checks":{"postgres":"ok","redis":"unavailable"}}`, w.Body.String())
	})
}

func TestStaticRoutesWinOverProgramPage(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	w := testutil.Do(h, testutil.Get("/metrics", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = testutil.Do(h, testutil.Get("/api/verify", ""))
	assert.Equal(t, "verify", w.Body.String())

	w = testutil.Do(h, testutil.Get("/ysws", ""))
	assert.Equal(t, "program", w.Body.String())
}

func TestOperatorRoutes(t *testing.T) {
	h, tokens := newTestRouter(t, nil)
	withRole := func(role operator.Role) *http.Request {
		tok, err := tokens.Issue("ops@example.com", role, time.Hour)
		require.NoError(t, err)
		return testutil.Get("/admin/sessions", tok)
	}

	t.Run("requires a token", func(t *testing.T) {
		w := testutil.Do(h, testutil.Get("/admin/sessions", ""))
		testutil.AssertEnvelope(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("program authors are denied", func(t *testing.T) {
		w := testutil.Do(h, withRole(operator.RoleYSWSAuthor))
		testutil.AssertEnvelope(t, w, http.StatusForbidden, "forbidden")
	})

	for _, role := range []operator.Role{operator.RoleAdmin, operator.RoleSuperadmin} {
		t.Run(string(role)+" sees sessions", func(t *testing.T) {
			w := testutil.Do(h, withRole(role))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "sessions", w.Body.String())
		})
	}
}

func TestPanicsAreRecovered(t *testing.T) {
	h := NewRouter(Deps{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Browser: panicRoutes{},
	})
	w := testutil.Do(h, testutil.Get("/boom", ""))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type panicRoutes struct{}

func (panicRoutes) Register(r chi.Router) {
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
}
