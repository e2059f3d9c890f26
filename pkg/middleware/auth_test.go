package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/contextkeys"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER abc123", "abc123"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"Bearer  spaced ", "spaced"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		assert.Equal(t, tc.want, BearerToken(r), "header %q", tc.header)
	}
}

func TestSessionMiddleware(t *testing.T) {
	signer := auth.NewSessionSigner([]byte("mw-secret"), time.Hour)
	mw := NewSessionMiddleware(signer)

	var seen *auth.Identity
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdentityFrom(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/users", nil)
		r.Header.Set("Authorization", "Bearer not.a.jwt")
		handler.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := auth.NewSessionSigner([]byte("different"), time.Hour)
		token, err := other.Issue(auth.Identity{Email: "a@example.com", RoleID: auth.RoleAdmin})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/users", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := signer.Issue(auth.Identity{Email: "a@example.com", RoleID: auth.RoleAdmin})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/users", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "a@example.com", seen.Email)
		assert.True(t, seen.IsAdmin())
	})
}

func TestIdentityFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/users", nil)
	ctx := contextkeys.WithIdentity(r.Context(), &auth.Identity{Email: "a@example.com", RoleID: auth.RoleAdmin})

	identity := IdentityFrom(r.WithContext(ctx))
	require.NotNil(t, identity)
	assert.Equal(t, "a@example.com", identity.Email)
}

func TestIdentityFrom_NoIdentity(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, IdentityFrom(r))
}
