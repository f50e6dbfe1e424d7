// Package oidc verifies bearer tokens issued by an external OpenID Connect provider.
// Signing keys are located through OIDC discovery, or fetched from an explicit JWKS
// URL for providers whose issuer does not serve a discovery document.
package oidc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/identity-sync/identity-sync/internal/auth"
	"github.com/identity-sync/identity-sync/internal/config"
	"github.com/identity-sync/identity-sync/internal/identity"
)

// Verifier checks provider-issued tokens against the provider's keys.
type Verifier struct {
	verifier      *oidc.IDTokenVerifier
	provider      *oidc.Provider // nil when keys come from an explicit JWKS URL
	fetchUserInfo bool
}

var _ auth.Verifier = (*Verifier)(nil)

// NewVerifier builds a verifier from configuration. ctx bounds the discovery request
// and also scopes later key refreshes, so it should live as long as the verifier.
func NewVerifier(ctx context.Context, cfg *config.OIDCConfig) (*Verifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if cfg.ClientID == "" && !cfg.SkipClientIDCheck {
		return nil, fmt.Errorf("OIDC client ID is required unless the client ID check is skipped")
	}

	oidcCfg := &oidc.Config{
		ClientID:          cfg.ClientID,
		SkipClientIDCheck: cfg.SkipClientIDCheck,
	}

	if cfg.JWKSURL != "" {
		if cfg.FetchUserInfo {
			slog.Warn("userinfo lookup needs discovery and is disabled when a JWKS URL is configured",
				"issuer", cfg.IssuerURL)
		}
		keySet := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		return &Verifier{verifier: oidc.NewVerifier(cfg.IssuerURL, keySet, oidcCfg)}, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &Verifier{
		verifier:      provider.Verifier(oidcCfg),
		provider:      provider,
		fetchUserInfo: cfg.FetchUserInfo,
	}, nil
}

// Verify validates signature, issuer, audience and expiry, then maps the token's
// claims. A missing email is filled from the userinfo endpoint when enabled; a
// failed lookup is logged and the token is still accepted.
func (v *Verifier) Verify(ctx context.Context, raw string) (*identity.Claims, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, identity.VerificationFailed("Verify", err)
	}

	var tc auth.TokenClaims
	if err := idToken.Claims(&tc); err != nil {
		return nil, identity.VerificationFailed("Verify", fmt.Errorf("failed to parse token claims: %w", err))
	}

	claims := tc.Identity()
	if claims.Subject == "" {
		return nil, identity.VerificationFailed("Verify", identity.ErrMissingSubject)
	}

	if claims.Email == nil && v.fetchUserInfo && v.provider != nil {
		info, err := v.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw}))
		if err != nil {
			slog.Warn("userinfo lookup failed", "subject", claims.Subject, "error", err)
		} else if info.Email != "" {
			email := info.Email
			claims.Email = &email
		}
	}

	return claims, nil
}
