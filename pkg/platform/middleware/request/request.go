// Package request provides request-ID middleware. The ID is taken from the
// X-Request-ID header when the caller supplies one, generated otherwise, and
// echoed back on the response so clients can correlate logs.
package request

import (
	"net/http"

	"github.com/google/uuid"

	"rally/pkg/requestcontext"
)

const headerRequestID = "X-Request-ID"

// RequestID attaches a request ID to the context and response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(headerRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID set by this middleware.
// Kept as a thin alias so handler packages do not need to import requestcontext.
var GetRequestID = requestcontext.RequestID
