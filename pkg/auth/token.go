package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// tokenBytes is the entropy of a generated access token (256 bits).
	tokenBytes = 32
	// spaceIDLength is the length of a generated space identifier.
	spaceIDLength = 16
)

// Access token prefixes identify the token kind at a glance without a lookup.
const (
	deliveryTokenPrefix = "qdl_"
	previewTokenPrefix  = "qpv_"
	managementPrefix    = "qmg_"
)

// TokenGenerator creates opaque API-key credentials: a management token, one
// delivery token, one preview token, and a short space identifier.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

func randomToken(prefix string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// ManagementToken generates the key's management credential.
func (g *TokenGenerator) ManagementToken() (string, error) {
	return randomToken(managementPrefix)
}

// AccessToken generates a delivery or preview credential.
func (g *TokenGenerator) AccessToken(kind AccessKind) (string, error) {
	switch kind {
	case AccessDelivery:
		return randomToken(deliveryTokenPrefix)
	case AccessPreview:
		return randomToken(previewTokenPrefix)
	}
	return "", fmt.Errorf("unknown access kind %q", kind)
}

// SpaceID generates a short URL-safe space identifier.
func (g *TokenGenerator) SpaceID() (string, error) {
	for {
		buf := make([]byte, spaceIDLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		id := base64.RawURLEncoding.EncodeToString(buf)
		id = strings.NewReplacer("-", "", "_", "").Replace(id)
		if len(id) >= spaceIDLength {
			return id[:spaceIDLength], nil
		}
		// Too many stripped characters; retry.
	}
}
