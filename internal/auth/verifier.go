// Package auth turns bearer tokens into verified identity claims.
//
// Two verifiers are provided: HS256Verifier checks tokens signed with a shared secret
// (internal tooling, tests, development), and the oidc sub-package checks tokens issued
// by an external OpenID Connect provider against its published keys.
package auth

import (
	"context"
	"strings"

	"github.com/identity-sync/identity-sync/internal/identity"
)

// Verifier validates a raw bearer token and returns its claims. Any failure is
// reported as an identity error of KindVerificationFailed.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*identity.Claims, error)
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
