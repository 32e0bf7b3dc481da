package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"submit/internal/journey/models"
	"submit/internal/journey/service"
	"submit/internal/journey/sessionize"
	"submit/pkg/platform/httputil"
	"submit/pkg/requestcontext"
)

// SessionsService reconstructs sessions for the operator view.
type SessionsService interface {
	List(ctx context.Context, req service.SessionsRequest) (*service.SessionsView, error)
}

type Handler struct {
	svc    SessionsService
	logger *slog.Logger
}

func New(svc SessionsService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the sessions view. Callers wrap r with operator
// authentication before registering.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/sessions", h.handleSessions)
}

type eventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"event_type"`
	Program   string          `json:"program,omitempty"`
	IDVRec    string          `json:"idv_rec,omitempty"`
	Email     string          `json:"email,omitempty"`
	RequestIP string          `json:"request_ip,omitempty"`
	Metadata  models.Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type sessionResponse struct {
	Program         string          `json:"program,omitempty"`
	IP              string          `json:"ip,omitempty"`
	Email           string          `json:"email,omitempty"`
	IDVRec          string          `json:"idv_rec,omitempty"`
	SubmitID        string          `json:"submit_id,omitempty"`
	SlackID         string          `json:"slack_id,omitempty"`
	FirstName       string          `json:"first_name,omitempty"`
	LastName        string          `json:"last_name,omitempty"`
	OriginalParams  string          `json:"original_params,omitempty"`
	FinalURL        string          `json:"final_url,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Result          string          `json:"result"`
	FirstAt         time.Time       `json:"first_at"`
	LastAt          time.Time       `json:"last_at"`
	Events          []eventResponse `json:"events"`
}

type sessionsResponse struct {
	Sessions   []sessionResponse `json:"sessions"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	TotalCount int               `json:"total_count"`
	Programs   []string          `json:"programs"`
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.svc.List(ctx, parseSessionsRequest(r))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to build sessions view",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := sessionsResponse{
		Sessions:   make([]sessionResponse, 0, len(view.Sessions)),
		Page:       view.Page.Page,
		TotalPages: view.TotalPages,
		TotalCount: view.TotalCount,
		Programs:   view.Programs,
	}
	for _, s := range view.Sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// parseSessionsRequest reads the filter form. Unparseable dates are ignored;
// date_from starts at the beginning of its day and date_to ends at the end of
// its day.
func parseSessionsRequest(r *http.Request) service.SessionsRequest {
	q := r.URL.Query()
	get := func(k string) string { return strings.TrimSpace(q.Get(k)) }

	req := service.SessionsRequest{
		Query: models.Query{
			Program:  get("program"),
			Email:    get("email"),
			IDVRec:   get("idv_rec"),
			SubmitID: get("submit_id"),
		},
		Filter: sessionize.Filter{
			Text:   get("q"),
			Result: get("result"),
		},
	}
	if d, err := time.Parse(time.DateOnly, get("date_from")); err == nil {
		req.Query.From = d
	}
	if d, err := time.Parse(time.DateOnly, get("date_to")); err == nil {
		req.Query.To = d.Add(24*time.Hour - time.Nanosecond)
	}
	req.Page, _ = strconv.Atoi(get("page"))
	return req
}

func toSessionResponse(s *sessionize.Session) sessionResponse {
	out := sessionResponse{
		Program:         s.Program,
		IP:              s.IP,
		Email:           s.Email,
		IDVRec:          s.IDVRec,
		SubmitID:        s.SubmitID,
		SlackID:         s.SlackID,
		FirstName:       s.FirstName,
		LastName:        s.LastName,
		OriginalParams:  s.OriginalParams,
		FinalURL:        s.FinalURL,
		RejectionReason: s.RejectionReason,
		Result:          string(s.Result),
		FirstAt:         s.FirstAt,
		LastAt:          s.LastAt,
		Events:          make([]eventResponse, 0, len(s.Events)),
	}
	for _, e := range s.Events {
		out.Events = append(out.Events, eventResponse{
			ID:        e.ID,
			Type:      e.Type,
			Program:   e.Program,
			IDVRec:    e.IDVRec,
			Email:     e.Email,
			RequestIP: e.RequestIP,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
