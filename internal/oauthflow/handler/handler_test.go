package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submit/internal/oauthflow/service"
	"submit/internal/platform/config"
	programModels "submit/internal/program/models"
	"submit/internal/session"
	dErrors "submit/pkg/domain-errors"
)

type stubFlow struct {
	program *programModels.Program
	target  string
	popup   *service.PopupView
	done    *service.PopupResult
	err     error

	slug, original, code, state, authID, rawQuery string
}

func (f *stubFlow) ProgramPage(_ context.Context, slug, rawQuery string, sess *session.Data) (*programModels.Program, error) {
	f.slug, f.rawQuery = slug, rawQuery
	if f.err != nil {
		return nil, f.err
	}
	sess.SubmitID = "sub-new"
	return f.program, nil
}

func (f *stubFlow) AuthorizeURL(_ context.Context, slug, originalParams string, sess *session.Data) (string, error) {
	f.slug, f.original = slug, originalParams
	sess.StateNonce = "nonce-1"
	return f.target, f.err
}

func (f *stubFlow) Start(ctx context.Context, slug, originalParams string, sess *session.Data) (string, error) {
	return f.AuthorizeURL(ctx, slug, originalParams, sess)
}

func (f *stubFlow) Callback(_ context.Context, code, state string, sess *session.Data) (string, error) {
	f.code, f.state = code, state
	sess.StateNonce = ""
	return f.target, f.err
}

func (f *stubFlow) PopupStart(_ context.Context, authID string, _ *session.Data) (*service.PopupView, error) {
	f.authID = authID
	return f.popup, f.err
}

func (f *stubFlow) PopupCallback(_ context.Context, code, state string, _ *session.Data) (*service.PopupResult, error) {
	f.code, f.state = code, state
	return f.done, f.err
}

type harness struct {
	router http.Handler
	store  *session.InMemoryStore
}

func newHarness(f Flow) *harness {
	store := session.NewInMemory()
	mgr := session.NewManager(store, config.SessionConfig{CookieName: "_submit_session", TTL: time.Hour})
	r := chi.NewRouter()
	New(f, mgr, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return &harness{router: r, store: store}
}

func (h *harness) get(target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func (h *harness) savedSession(t *testing.T, w *httptest.ResponseRecorder) *session.Data {
	t.Helper()
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	d, err := h.store.Load(context.Background(), cookies[0].Value)
	require.NoError(t, err)
	return d
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestProgramPage(t *testing.T) {
	t.Run("renders the program and persists a submit id", func(t *testing.T) {
		f := &stubFlow{program: &programModels.Program{Slug: "ysws", Name: "YSWS", Active: true}}
		h := newHarness(f)
		w := h.get("/ysws?utm_source=slack")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "utm_source=slack", f.rawQuery)
		assert.Equal(t, "sub-new", h.savedSession(t, w).SubmitID)
		body := decode(t, w)
		assert.Equal(t, "sub-new", body["submit_id"])
		assert.Equal(t, map[string]any{"slug": "ysws", "name": "YSWS", "active": true}, body["program"])
	})

	t.Run("unknown program keeps the requested slug", func(t *testing.T) {
		w := newHarness(&stubFlow{err: dErrors.New(dErrors.CodeNotFound, "Program not found")}).get("/nope")
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, map[string]any{"error": "Program not found", "program": "nope"}, decode(t, w))
	})
}

func TestAuthorizeURL(t *testing.T) {
	t.Run("returns the url and stores the nonce", func(t *testing.T) {
		f := &stubFlow{target: "https://identity.example.com/oauth/authorize?state=x"}
		h := newHarness(f)
		w := h.get("/api/identity/url?program=ysws&originalParams=ref%3Dabc")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ysws", f.slug)
		assert.Equal(t, "ref=abc", f.original)
		assert.Equal(t, "nonce-1", h.savedSession(t, w).StateNonce)
		assert.Equal(t, map[string]any{"url": f.target}, decode(t, w))
	})

	for _, tc := range []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"missing program", dErrors.New(dErrors.CodeInvalidInput, "Program parameter required"), http.StatusBadRequest, "Program parameter required"},
		{"inactive", dErrors.New(dErrors.CodeForbidden, "Program is inactive"), http.StatusForbidden, "Program is inactive"},
		{"not configured", dErrors.New(dErrors.CodeInternal, service.MsgServerConfig), http.StatusInternalServerError, service.MsgServerConfig},
		{"store failure is not echoed", dErrors.Wrap(errors.New("conn reset"), dErrors.CodeInternal, "failed to load program"), http.StatusInternalServerError, "Internal server error"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := newHarness(&stubFlow{err: tc.err}).get("/api/identity/url?program=ysws")
			require.Equal(t, tc.status, w.Code)
			assert.Equal(t, map[string]any{"error": tc.msg}, decode(t, w))
		})
	}
}

func TestStart(t *testing.T) {
	t.Run("redirects to the vault", func(t *testing.T) {
		f := &stubFlow{target: "https://identity.example.com/oauth/authorize?state=x"}
		w := newHarness(f).get("/identity/start?program=ysws")
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, f.target, w.Header().Get("Location"))
	})

	t.Run("closed program alerts", func(t *testing.T) {
		w := newHarness(&stubFlow{err: dErrors.New(dErrors.CodeForbidden, "Program is inactive")}).get("/identity/start?program=closed")
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/?alert="+url.QueryEscape("This program is closed."), w.Header().Get("Location"))
	})
}

func TestCallback(t *testing.T) {
	t.Run("redirects to the form and clears the nonce", func(t *testing.T) {
		f := &stubFlow{target: "https://forms.example.com/apply?idv_rec=rec1%3Asub-1&program=ysws"}
		h := newHarness(f)
		w := h.get("/identity?code=c1&state=s1")

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, f.target, w.Header().Get("Location"))
		assert.Equal(t, "c1", f.code)
		assert.Equal(t, "s1", f.state)
		assert.Empty(t, h.savedSession(t, w).StateNonce)
	})

	t.Run("failure alerts on the home page", func(t *testing.T) {
		f := &stubFlow{err: dErrors.New(dErrors.CodeForbidden, service.AlertPending)}
		w := newHarness(f).get("/identity?code=c1&state=s1")

		require.Equal(t, http.StatusFound, w.Code)
		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/", loc.Path)
		assert.Equal(t, service.AlertPending, loc.Query().Get("alert"))
	})
}

func TestPopup(t *testing.T) {
	const authID = "3f2b8c1e-9a4d-4e6f-8b1a-2c3d4e5f6a7b"

	t.Run("show", func(t *testing.T) {
		f := &stubFlow{popup: &service.PopupView{
			AuthID:   authID,
			Program:  &programModels.Program{Slug: "ysws", Name: "YSWS", Active: true},
			OAuthURL: "https://identity.example.com/oauth/authorize?state=x",
		}}
		w := newHarness(f).get("/popup/authorize/" + authID)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, authID, f.authID)
		body := decode(t, w)
		assert.Equal(t, authID, body["auth_id"])
		assert.Equal(t, f.popup.OAuthURL, body["oauth_url"])
	})

	t.Run("show rejects malformed ids before the flow", func(t *testing.T) {
		f := &stubFlow{err: dErrors.New(dErrors.CodeNotFound, "Program not found")}
		w := newHarness(f).get("/popup/authorize/not-a-uuid")
		assert.Empty(t, f.authID)
		assert.NotEqual(t, http.StatusOK, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		w := newHarness(&stubFlow{err: dErrors.New(dErrors.CodeGone, service.MsgPopupExpired)}).get("/popup/authorize/" + authID)
		require.Equal(t, http.StatusGone, w.Code)
		assert.Equal(t, map[string]any{"error": service.MsgPopupExpired}, decode(t, w))
	})

	t.Run("callback completes", func(t *testing.T) {
		f := &stubFlow{done: &service.PopupResult{AuthID: authID, Program: "ysws", SubmitID: "sub-1"}}
		w := newHarness(f).get("/popup/authorize/callback?code=c1&state=s1")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"status": "completed", "auth_id": authID, "program": "ysws"}, decode(t, w))
	})

	t.Run("callback failure", func(t *testing.T) {
		f := &stubFlow{err: dErrors.New(dErrors.CodeUpstream, service.MsgPopupAuthFailed)}
		w := newHarness(f).get("/popup/authorize/callback?code=c1&state=s1")
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, map[string]any{"error": service.MsgPopupAuthFailed}, decode(t, w))
	})
}

func TestHome(t *testing.T) {
	w := newHarness(&stubFlow{}).get("/?alert=" + url.QueryEscape(service.AlertDefault))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.AlertDefault, decode(t, w)["alert"])
}
