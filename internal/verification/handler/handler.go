package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"submit/internal/identity"
	"submit/internal/verification/models"
	dErrors "submit/pkg/domain-errors"
	"submit/pkg/platform/httputil"
	"submit/pkg/requestcontext"
)

type Guard interface {
	Verify(ctx context.Context, in models.Input) (*models.Result, error)
}

type Handler struct {
	guard  Guard
	logger *slog.Logger
}

func New(guard Guard, logger *slog.Logger) *Handler {
	return &Handler{guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/verify", h.handleVerify)
}

// verifyResponse is the documented body for every status. IdentityResponse
// is always present, null when nothing may be returned.
type verifyResponse struct {
	Verified         bool              `json:"verified"`
	Error            string            `json:"error,omitempty"`
	IdentityResponse identity.Identity `json:"identity_response"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	in := models.ParseInput(q.Get("idv_rec"), q.Get("submit_id"), q.Get("first_name"), q.Get("last_name"), q.Get("email"), q.Get("program"))

	res, err := h.guard.Verify(ctx, in)
	if err != nil {
		msg := dErrors.MessageOf(err)
		if msg == "" {
			h.logger.ErrorContext(ctx, "unexpected verification error",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			msg = "Internal server error"
		}
		httputil.WriteJSON(w, dErrors.HTTPStatus(dErrors.CodeOf(err)), verifyResponse{Error: msg})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		Verified:         res.Verified,
		Error:            res.Message,
		IdentityResponse: res.Identity,
	})
}
