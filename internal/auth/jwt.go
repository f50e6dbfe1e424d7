// Package auth - jwt.go handles HS256 token signing and verification using a shared
// secret, and the JWT claim set shared with the OIDC verifier.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/identity-sync/identity-sync/internal/config"
	"github.com/identity-sync/identity-sync/internal/identity"
)

const minSecretLength = 32

// TokenClaims is the JWT payload understood by identity-sync. Providers disagree on
// where the login name lives, so both preferred_username and the Cognito variant
// are accepted.
type TokenClaims struct {
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	CognitoUsername   string `json:"cognito:username,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the token payload to the claims consumed by the identity core.
// Empty optional claims are reported as absent. The display name is name, then the
// login name.
func (c *TokenClaims) Identity() *identity.Claims {
	username := c.PreferredUsername
	if username == "" {
		username = c.CognitoUsername
	}
	displayName := c.Name
	if strings.TrimSpace(displayName) == "" {
		displayName = username
	}
	return &identity.Claims{
		Subject:     strings.TrimSpace(c.Subject),
		Email:       optional(c.Email),
		DisplayName: optional(displayName),
		Username:    optional(username),
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// HS256Verifier verifies and mints tokens signed with a shared HMAC secret.
type HS256Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less secure but functional secret
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// NewHS256Verifier builds a verifier from configuration. Outside dev mode a secret is
// required; in dev mode a random one is generated, so tokens do not survive restarts.
func NewHS256Verifier(cfg *config.HS256Config, devMode bool) (*HS256Verifier, error) {
	secret := cfg.Secret
	if secret == "" {
		if !devMode {
			return nil, errors.New("auth.hs256.secret is required outside dev mode; " +
				"generate one with: openssl rand -hex 32")
		}
		secret = generateRandomSecret()
		slog.Warn("auth.hs256.secret not set, using auto-generated secret for development",
			"hint", "tokens will not survive restarts")
	}
	if len(secret) < minSecretLength {
		slog.Warn("auth.hs256.secret is shorter than recommended", "min_length", minSecretLength)
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HS256Verifier{
		secret: []byte(secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Mint signs a token for the given claims. Issuer, issue time and expiry are filled
// in when unset.
func (v *HS256Verifier) Mint(claims TokenClaims) (string, error) {
	now := v.now()
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(v.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token. Expiry is mandatory and the issuer must match
// when one is configured.
func (v *HS256Verifier) Verify(_ context.Context, raw string) (*identity.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var tc TokenClaims
	token, err := jwt.ParseWithClaims(raw, &tc, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, identity.VerificationFailed("Verify", err)
	}
	if !token.Valid {
		return nil, identity.VerificationFailed("Verify", errors.New("invalid token"))
	}

	claims := tc.Identity()
	if claims.Subject == "" {
		return nil, identity.VerificationFailed("Verify", identity.ErrMissingSubject)
	}
	return claims, nil
}
