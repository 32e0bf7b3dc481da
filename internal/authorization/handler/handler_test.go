package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submit/internal/authorization/service"
	"submit/internal/authorization/store"
	"submit/internal/identity"
	programModels "submit/internal/program/models"
	programStore "submit/internal/program/store"
	"submit/pkg/requestcontext"
	"submit/pkg/testutil"
)

type fixture struct {
	router http.Handler
	svc    *service.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	programs := programStore.New()
	for _, p := range []*programModels.Program{
		{Slug: "ysws", APIKey: "pk_ysws", Active: true, Scopes: map[string]bool{"email": true}},
		{Slug: "other", APIKey: "pk_other", Active: true, Scopes: map[string]bool{"email": true}},
		{Slug: "closed", APIKey: "pk_closed", Active: false, Scopes: map[string]bool{"email": true}},
	} {
		require.NoError(t, programs.Save(context.Background(), p))
	}
	svc := service.New(store.New(), "https://submit.example.com")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	r := chi.NewRouter()
	New(svc, programs, logger).Register(r)
	return fixture{router: r, svc: svc}
}

func (f fixture) do(t *testing.T, method, path, apiKey string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := testutil.Do(f.router, testutil.NewRequest(method, path, apiKey))
	return rec, testutil.DecodeJSON[map[string]any](t, rec)
}

func TestAPIKeyRequired(t *testing.T) {
	f := newFixture(t)

	rec := testutil.Do(f.router, testutil.NewRequest(http.MethodPost, "/api/authorize", ""))
	testutil.AssertMessage(t, rec, http.StatusUnauthorized, "API key required")

	for _, key := range []string{"pk_unknown", "pk_closed"} {
		rec = testutil.Do(f.router, testutil.NewRequest(http.MethodPost, "/api/authorize", key))
		testutil.AssertMessage(t, rec, http.StatusUnauthorized, "Invalid or inactive API key")
	}
}

func TestCreateAndPollLifecycle(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/authorize", "pk_ysws")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])
	authID, _ := body["auth_id"].(string)
	require.NotEmpty(t, authID)
	assert.Equal(t, "https://submit.example.com/popup/authorize/"+authID, body["popup_url"])
	assert.NotEmpty(t, body["expires_at"])

	statusPath := "/api/authorize/" + authID + "/status"
	rec, body = f.do(t, http.MethodGet, statusPath, "pk_ysws")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, false, body["verified"])
	assert.Nil(t, body["identity_response"])

	rec, body = f.do(t, http.MethodGet, statusPath, "pk_other")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not allowed", body["error"])

	require.NoError(t, f.svc.Complete(context.Background(), authID, "rec1", identity.Identity{"id": "rec1", "email": "a@b.c"}))

	rec, body = f.do(t, http.MethodGet, statusPath, "pk_ysws")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, "rec1", body["idv_rec"])
	assert.NotEmpty(t, body["completed_at"])
	assert.Equal(t, map[string]any{"id": "rec1", "email": "a@b.c"}, body["identity_response"])

	rec, _ = f.do(t, http.MethodGet, statusPath, "pk_ysws")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPollExpired(t *testing.T) {
	f := newFixture(t)
	past := requestcontext.WithTime(context.Background(), time.Now().Add(-time.Hour))
	req, err := f.svc.Create(past, "ysws")
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodGet, "/api/authorize/"+req.AuthID+"/status", "pk_ysws")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "expired", body["status"])
	assert.Equal(t, "Authorization expired", body["error"])
	assert.Equal(t, false, body["verified"])
}

func TestPollUnknown(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/api/authorize/nope/status", "pk_ysws")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
