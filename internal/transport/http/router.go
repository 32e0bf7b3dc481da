// Package httptransport composes the feature handlers into one router. It
// owns the middleware chain and the operational endpoints; feature packages
// own their routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"submit/internal/operator"
	"submit/internal/platform/metrics"
	"submit/internal/platform/middleware"
	"submit/pkg/platform/httputil"
	"submit/pkg/platform/middleware/metadata"
	"submit/pkg/platform/middleware/requesttime"
	"submit/pkg/requestcontext"
)

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Probe reports whether a backing dependency is reachable.
type Probe func(ctx context.Context) error

// Deps are the pieces NewRouter composes. Nil registrars are skipped.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	Operators      operator.Validator
	Probes         map[string]Probe

	Verification  Registrar
	Authorization Registrar
	Journey       Registrar
	// Browser carries the catch-all program page and is mounted last.
	Browser Registrar
}

// NewRouter wires the middleware chain, operational endpoints and every
// feature handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}
	r.Use(middleware.LatencyMiddleware(d.Metrics))

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", readiness(d.Probes, d.Logger))
	r.Handle("/metrics", promhttp.Handler())

	mount(r, d.Verification)
	mount(r, d.Authorization)
	if d.Journey != nil && d.Operators != nil {
		r.Group(func(r chi.Router) {
			r.Use(operator.RequireOperator(d.Operators, d.Logger))
			r.Use(operator.DenyRoles(d.Logger, operator.RoleYSWSAuthor))
			d.Journey.Register(r)
		})
	}
	mount(r, d.Browser)
	return r
}

func mount(r chi.Router, reg Registrar) {
	if reg != nil {
		reg.Register(r)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readiness(probes map[string]Probe, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]string, len(probes))
		status := http.StatusOK
		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				logger.WarnContext(ctx, "readiness probe failed",
					"request_id", requestcontext.RequestID(ctx),
					"probe", name,
					"error", err,
				)
				checks[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		w.Header().Set("Cache-Control", "no-store")
		httputil.WriteJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
	}
}
