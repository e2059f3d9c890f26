package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/contextkeys"
	"github.com/quarryhq/quarry/pkg/httputil"
)

// Token headers for the two read-access kinds. A bearer token in the
// Authorization header is accepted as a fallback for either kind.
const (
	DeliveryTokenHeader = "X-Delivery-Token"
	PreviewTokenHeader  = "X-Preview-Token"
)

// AccessKeyResolver resolves an opaque delivery/preview credential to the
// API key it belongs to.
type AccessKeyResolver interface {
	ResolveAccessKey(ctx context.Context, kind auth.AccessKind, token string) (*auth.SpaceKey, error)
}

// TokenMiddleware authenticates delivery/preview requests. The credential
// comes from the kind-specific header or the Authorization bearer fallback;
// the {space_id} path segment must match the key's space unless the key is
// unscoped.
type TokenMiddleware struct {
	kind     auth.AccessKind
	resolver AccessKeyResolver
}

// NewTokenMiddleware creates a token middleware for one access kind.
func NewTokenMiddleware(kind auth.AccessKind, resolver AccessKeyResolver) *TokenMiddleware {
	return &TokenMiddleware{kind: kind, resolver: resolver}
}

func (m *TokenMiddleware) header() string {
	if m.kind == auth.AccessPreview {
		return PreviewTokenHeader
	}
	return DeliveryTokenHeader
}

// Handler wraps an HTTP handler with token authentication.
func (m *TokenMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(m.header())
		if token == "" {
			token = BearerToken(r)
		}
		if token == "" {
			httputil.WriteUnauthorized(w, "missing "+string(m.kind)+" token")
			return
		}

		key, err := m.resolver.ResolveAccessKey(r.Context(), m.kind, token)
		if err != nil || key == nil {
			httputil.WriteUnauthorized(w, "invalid "+string(m.kind)+" token")
			return
		}

		// A key without a space is valid for any requested space.
		spaceID := mux.Vars(r)["space_id"]
		if key.SpaceID != "" && spaceID != "" && key.SpaceID != spaceID {
			httputil.WriteForbidden(w, "invalid space id for token")
			return
		}

		ctx := contextkeys.WithSpaceKey(r.Context(), key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SpaceKeyFrom extracts the resolved API key from a request, or nil.
func SpaceKeyFrom(r *http.Request) *auth.SpaceKey {
	v := r.Context().Value(contextkeys.SpaceKeyKey)
	if v == nil {
		return nil
	}
	key, ok := v.(*auth.SpaceKey)
	if !ok {
		return nil
	}
	return key
}
