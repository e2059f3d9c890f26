// Package middleware provides the authentication middlewares for the two
// authorization paths: JWT sessions and delivery/preview API tokens.
package middleware

import (
	"net/http"
	"strings"

	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/contextkeys"
	"github.com/quarryhq/quarry/pkg/httputil"
)

// SessionVerifier validates a session credential and yields the identity.
type SessionVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// SessionMiddleware authenticates requests via "Authorization: Bearer <jwt>".
type SessionMiddleware struct {
	verifier SessionVerifier
}

// NewSessionMiddleware creates a session authentication middleware.
func NewSessionMiddleware(verifier SessionVerifier) *SessionMiddleware {
	return &SessionMiddleware{verifier: verifier}
}

// Handler wraps an HTTP handler with session authentication.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "missing bearer token")
			return
		}

		identity, err := m.verifier.Verify(token)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the bearer credential from the Authorization header,
// or "" when absent or malformed.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// IdentityFrom extracts the authenticated identity from a request, or nil.
func IdentityFrom(r *http.Request) *auth.Identity {
	v := r.Context().Value(contextkeys.IdentityKey)
	if v == nil {
		return nil
	}
	identity, ok := v.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
