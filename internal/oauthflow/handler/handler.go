// Package handler exposes the browser verification flows over HTTP. HTML
// rendering lives elsewhere; pages here answer with JSON view models and
// redirects.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"submit/internal/oauthflow/service"
	programModels "submit/internal/program/models"
	"submit/internal/session"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/platform/httputil"
	"submit/pkg/requestcontext"
)

type Flow interface {
	ProgramPage(ctx context.Context, slug, rawQuery string, sess *session.Data) (*programModels.Program, error)
	AuthorizeURL(ctx context.Context, slug, originalParams string, sess *session.Data) (string, error)
	Start(ctx context.Context, slug, originalParams string, sess *session.Data) (string, error)
	Callback(ctx context.Context, code, state string, sess *session.Data) (string, error)
	PopupStart(ctx context.Context, authID string, sess *session.Data) (*service.PopupView, error)
	PopupCallback(ctx context.Context, code, state string, sess *session.Data) (*service.PopupResult, error)
}

type Sessions interface {
	Get(r *http.Request) (*session.Session, error)
	Save(w http.ResponseWriter, r *http.Request, s *session.Session) error
}

type Handler struct {
	flow     Flow
	sessions Sessions
	logger   *slog.Logger
}

func New(flow Flow, sessions Sessions, logger *slog.Logger) *Handler {
	return &Handler{flow: flow, sessions: sessions, logger: logger}
}

// Register mounts the browser routes. The program page is a catch-all and
// must not shadow static routes, which chi guarantees.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleHome)
	r.Get("/api/identity/url", h.handleAuthorizeURL)
	r.Get("/identity/start", h.handleStart)
	r.Get("/identity", h.handleCallback)
	r.Get("/popup/authorize/callback", h.handlePopupCallback)
	r.Get("/popup/authorize/{auth_id:[0-9a-f-]{36}}", h.handlePopupShow)
	r.Get("/{program}", h.handleProgramPage)
}

type programResponse struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type programPageResponse struct {
	Program  programResponse `json:"program"`
	SubmitID string          `json:"submit_id"`
}

type popupShowResponse struct {
	AuthID   string          `json:"auth_id"`
	Program  programResponse `json:"program"`
	OAuthURL string          `json:"oauth_url"`
}

type popupDoneResponse struct {
	Status  string `json:"status"`
	AuthID  string `json:"auth_id"`
	Program string `json:"program"`
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"service": "submit"}
	if alert := r.URL.Query().Get("alert"); alert != "" {
		body["alert"] = alert
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) handleProgramPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "program")
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	p, err := h.flow.ProgramPage(ctx, slug, r.URL.RawQuery, &sess.Data)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			httputil.WriteJSON(w, http.StatusNotFound, map[string]string{
				"error":   "Program not found",
				"program": slug,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}
	if !h.saveSession(w, r, sess) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, programPageResponse{
		Program:  toProgramResponse(p),
		SubmitID: sess.SubmitID,
	})
}

func (h *Handler) handleAuthorizeURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	target, err := h.flow.AuthorizeURL(r.Context(), q.Get("program"), q.Get("originalParams"), &sess.Data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.saveSession(w, r, sess) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": target})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	target, err := h.flow.Start(r.Context(), q.Get("program"), q.Get("originalParams"), &sess.Data)
	if err != nil {
		msg := dErrors.MessageOf(err)
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			msg = service.AlertProgramClosed
		}
		redirectWithAlert(w, r, msg)
		return
	}
	if !h.saveSession(w, r, sess) {
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	target, err := h.flow.Callback(r.Context(), q.Get("code"), q.Get("state"), &sess.Data)
	if !h.saveSession(w, r, sess) {
		return
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(r.Context(), "oauth callback error",
				"request_id", requestcontext.RequestID(r.Context()),
				"error", err,
			)
		}
		redirectWithAlert(w, r, dErrors.MessageOf(err))
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) handlePopupShow(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	view, err := h.flow.PopupStart(r.Context(), chi.URLParam(r, "auth_id"), &sess.Data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.saveSession(w, r, sess) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, popupShowResponse{
		AuthID:   view.AuthID,
		Program:  toProgramResponse(view.Program),
		OAuthURL: view.OAuthURL,
	})
}

func (h *Handler) handlePopupCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	res, err := h.flow.PopupCallback(r.Context(), q.Get("code"), q.Get("state"), &sess.Data)
	if !h.saveSession(w, r, sess) {
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, popupDoneResponse{
		Status:  "completed",
		AuthID:  res.AuthID,
		Program: res.Program,
	})
}

func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.sessions.Get(r)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load session",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteMessage(w, dErrors.Wrap(err, dErrors.CodeInternal, ""))
		return nil, false
	}
	return sess, true
}

func (h *Handler) saveSession(w http.ResponseWriter, r *http.Request, sess *session.Session) bool {
	if err := h.sessions.Save(w, r, sess); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to save session",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteMessage(w, dErrors.Wrap(err, dErrors.CodeInternal, ""))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeUpstream {
		h.logger.ErrorContext(r.Context(), "browser flow error",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
	}
	if code == dErrors.CodeInternal && dErrors.MessageOf(err) != service.MsgServerConfig {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "")
	}
	httputil.WriteMessage(w, err)
}

func redirectWithAlert(w http.ResponseWriter, r *http.Request, msg string) {
	if msg == "" {
		msg = service.AlertDefault
	}
	http.Redirect(w, r, "/?alert="+url.QueryEscape(msg), http.StatusFound)
}

func toProgramResponse(p *programModels.Program) programResponse {
	return programResponse{Slug: p.Slug, Name: p.Name, Active: p.Active}
}
