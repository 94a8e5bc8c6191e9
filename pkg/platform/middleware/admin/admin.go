package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	request "rally/pkg/platform/middleware/request"
	"rally/pkg/requestcontext"
)

// AdminToken marks the request context as platform-admin when the caller
// presents the expected X-Admin-Token. Unlike a hard gate, a missing or wrong
// token simply leaves the admin flag unset; authorization decisions that
// depend on it (winner selection for someone else's challenge) fail later
// with forbidden.
func AdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if token == "" || expectedToken == "" {
				next.ServeHTTP(w, r)
				return
			}
			// Use constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", request.GetRequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}
			ctx := requestcontext.WithAdmin(r.Context(), true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
