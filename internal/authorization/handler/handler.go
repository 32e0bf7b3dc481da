package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"submit/internal/authorization/models"
	"submit/internal/authorization/service"
	"submit/internal/identity"
	programModels "submit/internal/program/models"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/platform/httputil"
	"submit/pkg/platform/sentinel"
	"submit/pkg/requestcontext"
)

// Service is the authorization state machine as seen by the program API.
type Service interface {
	Create(ctx context.Context, program string) (*models.Request, error)
	ReadStatus(ctx context.Context, authID, requesterProgram string) (*service.StatusView, error)
}

// ProgramLookup resolves the program that owns a bearer API key.
type ProgramLookup interface {
	FindByAPIKey(ctx context.Context, apiKey string) (*programModels.Program, error)
}

// Handler serves the program-facing popup authorization API.
type Handler struct {
	svc      Service
	programs ProgramLookup
	logger   *slog.Logger
}

func New(svc Service, programs ProgramLookup, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, programs: programs, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireProgramKey(h.programs, h.logger))
		r.Post("/api/authorize", h.handleCreate)
		r.Get("/api/authorize/{auth_id}/status", h.handleStatus)
	})
}

type createResponse struct {
	AuthID    string    `json:"auth_id"`
	PopupURL  string    `json:"popup_url"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type statusResponse struct {
	AuthID           string            `json:"auth_id"`
	Status           string            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	Program          string            `json:"program"`
	IDVRec           string            `json:"idv_rec,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Verified         bool              `json:"verified"`
	Error            string            `json:"error,omitempty"`
	IdentityResponse identity.Identity `json:"identity_response"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.svc.Create(ctx, requestcontext.ProgramSlug(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create authorization request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteMessage(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, createResponse{
		AuthID:    req.AuthID,
		PopupURL:  req.PopupURL,
		Status:    string(req.Status),
		ExpiresAt: req.ExpiresAt(),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authID := chi.URLParam(r, "auth_id")

	view, err := h.svc.ReadStatus(ctx, authID, requestcontext.ProgramSlug(ctx))
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to read authorization status",
				"request_id", requestcontext.RequestID(ctx),
				"auth_id", authID,
				"error", err,
			)
		}
		httputil.WriteMessage(w, err)
		return
	}

	req := view.Request
	resp := statusResponse{
		AuthID:    req.AuthID,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt,
		Program:   req.Program,
	}
	status := http.StatusOK
	switch req.Status {
	case models.StatusCompleted:
		resp.IDVRec = req.IDVRec
		resp.CompletedAt = req.CompletedAt
		resp.Verified = true
		resp.IdentityResponse = view.Identity
	case models.StatusExpired:
		resp.Error = "Authorization expired"
	case models.StatusFailed:
		resp.Error = "Authorization failed"
	default:
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, resp)
}

// RequireProgramKey authenticates the caller by program API key and stores
// the program slug on the request context.
func RequireProgramKey(programs ProgramLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			header := r.Header.Get("Authorization")
			if header == "" {
				httputil.WriteMessage(w, dErrors.New(dErrors.CodeUnauthorized, "API key required"))
				return
			}
			apiKey := strings.TrimPrefix(header, "Bearer ")

			p, err := programs.FindByAPIKey(ctx, apiKey)
			if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				logger.ErrorContext(ctx, "program lookup failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
			}
			if err != nil || !p.Active {
				httputil.WriteMessage(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or inactive API key"))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithProgramSlug(ctx, p.Slug)))
		})
	}
}
