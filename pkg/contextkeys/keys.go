// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: middleware.SessionMiddleware (pkg/middleware/auth.go)
	// Required by: all session-authenticated endpoints
	IdentityKey Key = "identity"

	// SpaceKeyKey contains *auth.SpaceKey
	// Set by: middleware.TokenMiddleware (pkg/middleware/token.go)
	// Required by: delivery/preview endpoints
	SpaceKeyKey Key = "space_key"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"
)

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithSpaceKey adds the resolved API key to the context
func WithSpaceKey(ctx context.Context, key interface{}) context.Context {
	return context.WithValue(ctx, SpaceKeyKey, key)
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID extracts the request ID from the context, or "" if unset
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
