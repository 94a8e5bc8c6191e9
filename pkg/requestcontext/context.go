// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// This package defines context keys and getter/setter functions for values that are
// typically set by middleware but consumed by services. By keeping this package free
// of net/http dependencies, services can import only what they need without pulling
// in HTTP-related code.
//
// Usage in services (read values):
//
//	requester := requestcontext.RequesterID(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithRequesterID(ctx, memberID)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithAdmin(ctx, true)
package requestcontext

import (
	"context"
	"time"

	id "rally/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	requesterIDKey struct{}
	adminKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRequesterID = requesterIDKey{}
	ContextKeyAdmin       = adminKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// RequesterID retrieves the authenticated member ID from the context.
// Returns the zero value (nil UUID) if not set.
func RequesterID(ctx context.Context) id.MemberID {
	if memberID, ok := ctx.Value(ContextKeyRequesterID).(id.MemberID); ok {
		return memberID
	}
	return id.MemberID{}
}

// WithRequesterID injects the authenticated member ID into the context.
func WithRequesterID(ctx context.Context, memberID id.MemberID) context.Context {
	return context.WithValue(ctx, ContextKeyRequesterID, memberID)
}

// IsAdmin reports whether the requester is a platform administrator.
func IsAdmin(ctx context.Context) bool {
	if admin, ok := ctx.Value(ContextKeyAdmin).(bool); ok {
		return admin
	}
	return false
}

// WithAdmin marks the requester as a platform administrator.
func WithAdmin(ctx context.Context, admin bool) context.Context {
	return context.WithValue(ctx, ContextKeyAdmin, admin)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers and tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain,
// and for workers that need consistent time within a batch operation.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
