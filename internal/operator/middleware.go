package operator

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	dErrors "submit/pkg/domain-errors"
	"submit/pkg/platform/httputil"
	"submit/pkg/requestcontext"
)

// Validator checks a raw bearer token.
type Validator interface {
	Validate(tokenString string) (*Claims, error)
}

// RequireOperator rejects requests without a valid operator bearer token and
// stores the operator in the request context.
func RequireOperator(v Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator token required"))
				return
			}
			claims, err := v.Validate(raw)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized operator access",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}
			ctx = requestcontext.WithOperator(ctx, requestcontext.Operator{Email: claims.Email, Role: string(claims.Role)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DenyRoles answers 403 for operators holding any of roles.
func DenyRoles(logger *slog.Logger, roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			op, ok := requestcontext.CurrentOperator(ctx)
			if !ok {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator token required"))
				return
			}
			if slices.Contains(roles, Role(op.Role)) {
				logger.InfoContext(ctx, "operator role denied",
					"request_id", requestcontext.RequestID(ctx),
					"role", op.Role,
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "Verification sessions are not available for this role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
