package operator

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "submit/pkg/domain-errors"
	"submit/pkg/requestcontext"
)

var testKey = []byte("operator-signing-key-for-tests-only")

func TestTokenService(t *testing.T) {
	svc := NewTokenService(testKey, "submit-admin")

	t.Run("round trip", func(t *testing.T) {
		tok, err := svc.Issue("ops@example.com", RoleAdmin, time.Hour)
		require.NoError(t, err)
		claims, err := svc.Validate(tok)
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", claims.Email)
		assert.Equal(t, RoleAdmin, claims.Role)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := svc.Issue("ops@example.com", RoleAdmin, -time.Hour)
		require.NoError(t, err)
		_, err = svc.Validate(tok)
		require.Error(t, err)
		assert.Equal(t, "token has expired", dErrors.MessageOf(err))
	})

	t.Run("foreign issuer", func(t *testing.T) {
		tok, err := NewTokenService(testKey, "someone-else").Issue("ops@example.com", RoleAdmin, time.Hour)
		require.NoError(t, err)
		_, err = svc.Validate(tok)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong key", func(t *testing.T) {
		tok, err := NewTokenService([]byte("other"), "submit-admin").Issue("ops@example.com", RoleAdmin, time.Hour)
		require.NoError(t, err)
		_, err = svc.Validate(tok)
		assert.Error(t, err)
	})

	t.Run("unknown role rejected at issue", func(t *testing.T) {
		_, err := svc.Issue("ops@example.com", Role("root"), time.Hour)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewTokenService(testKey, "submit-admin")
	var seen requestcontext.Operator
	h := RequireOperator(svc, logger)(DenyRoles(logger, RoleYSWSAuthor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestcontext.CurrentOperator(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage"))

	author, err := svc.Issue("author@example.com", RoleYSWSAuthor, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+author))

	admin, err := svc.Issue("ops@example.com", RoleSuperadmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, call("Bearer "+admin))
	assert.Equal(t, "superadmin", seen.Role)
}
