package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenPrefixes(t *testing.T) {
	g := NewTokenGenerator()

	mgmt, err := g.ManagementToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mgmt, "qmg_"))

	dlv, err := g.AccessToken(AccessDelivery)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dlv, "qdl_"))

	pre, err := g.AccessToken(AccessPreview)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pre, "qpv_"))
}

func TestAccessToken_UnknownKind(t *testing.T) {
	g := NewTokenGenerator()
	_, err := g.AccessToken(AccessKind("bogus"))
	assert.Error(t, err)
}

func TestTokensAreUnique(t *testing.T) {
	g := NewTokenGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := g.AccessToken(AccessDelivery)
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestSpaceID(t *testing.T) {
	g := NewTokenGenerator()
	for i := 0; i < 50; i++ {
		id, err := g.SpaceID()
		require.NoError(t, err)
		assert.Len(t, id, 16)
		assert.NotContains(t, id, "-")
		assert.NotContains(t, id, "_")
	}
}

func TestRoleMapping(t *testing.T) {
	assert.Equal(t, "admin", RoleName(RoleAdmin))
	assert.Equal(t, "employee", RoleName(RoleEmployee))
	assert.Equal(t, "employee", RoleName(99))

	id, ok := RoleID("admin")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, id)

	_, ok = RoleID("superuser")
	assert.False(t, ok)
}
