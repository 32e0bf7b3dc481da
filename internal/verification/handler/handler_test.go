package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submit/internal/identity"
	"submit/internal/verification/models"
	dErrors "submit/pkg/domain-errors"
)

type stubGuard struct {
	in  models.Input
	res *models.Result
	err error
}

func (g *stubGuard) Verify(_ context.Context, in models.Input) (*models.Result, error) {
	g.in = in
	return g.res, g.err
}

func serve(t *testing.T, g Guard, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	New(g, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w, body
}

func TestVerifyHandler(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		g := &stubGuard{res: &models.Result{Verified: true, Identity: identity.Identity{"id": "rec1"}}}
		w, body := serve(t, g, "/api/verify?idv_rec=rec1:sub-1&first_name=Ada&last_name=Lovelace&email=ADA@example.com&program=ysws")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["verified"])
		assert.Equal(t, map[string]any{"id": "rec1"}, body["identity_response"])
		assert.NotContains(t, body, "error")
		assert.Equal(t, "sub-1", g.in.SubmitID)
		assert.Equal(t, "ada@example.com", g.in.Email)
	})

	t.Run("unverified with message", func(t *testing.T) {
		g := &stubGuard{res: &models.Result{Message: "Identity data not found in response"}}
		w, body := serve(t, g, "/api/verify?idv_rec=rec1&submit_id=sub-1")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["verified"])
		assert.Equal(t, "Identity data not found in response", body["error"])
		assert.Contains(t, body, "identity_response")
		assert.Nil(t, body["identity_response"])
	})

	for _, tc := range []struct {
		code   dErrors.Code
		status int
		msg    string
	}{
		{dErrors.CodeGone, http.StatusGone, "Submit token already used"},
		{dErrors.CodeForbidden, http.StatusForbidden, "Submit token required"},
		{dErrors.CodeNotFound, http.StatusNotFound, "Program not found"},
		{dErrors.CodeInvalidInput, http.StatusBadRequest, "Missing required parameters: idv_rec, first_name, last_name, email"},
		{dErrors.CodeUpstream, http.StatusInternalServerError, "Failed to fetch user data"},
	} {
		t.Run(string(tc.code), func(t *testing.T) {
			w, body := serve(t, &stubGuard{err: dErrors.New(tc.code, tc.msg)}, "/api/verify")
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.msg, body["error"])
			assert.Equal(t, false, body["verified"])
		})
	}

	t.Run("foreign errors are masked", func(t *testing.T) {
		w, body := serve(t, &stubGuard{err: errors.New("pq: deadlock detected")}, "/api/verify")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Internal server error", body["error"])
	})
}
