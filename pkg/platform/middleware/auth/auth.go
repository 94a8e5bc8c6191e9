package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "rally/pkg/domain"
	request "rally/pkg/platform/middleware/request"
	"rally/pkg/requestcontext"
)

// TokenValidator defines the interface for validating bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims represents the claims we expect from the token validator.
type Claims struct {
	MemberID string
	Admin    bool
}

// RequireAuth resolves the requesting member from a Bearer token and places
// the member ID (and admin flag) in the request context. Requests without a
// valid token are rejected before reaching handlers.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing bearer token",
					"request_id", requestID,
				)
				writeUnauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(w)
				return
			}

			memberID, err := id.ParseMemberID(claims.MemberID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed member id claim",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(w)
				return
			}

			ctx = requestcontext.WithRequesterID(ctx, memberID)
			if claims.Admin {
				ctx = requestcontext.WithAdmin(ctx, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
}
