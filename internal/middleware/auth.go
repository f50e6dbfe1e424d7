// Package middleware provides Gin HTTP middleware for bearer authentication,
// authority checks, rate limiting, request ids, security headers and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Metrics → Logger → Security → RateLimit → Auth → RequireAuthority → Handler
//
// Rate limiting runs before auth so floods are rejected before any token verification
// or DB work. Auth populates the authorization context; RequireAuthority reads it.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/identity-sync/identity-sync/internal/auth"
	"github.com/identity-sync/identity-sync/internal/identity"
)

// gin.Context keys set by AuthMiddleware.
const (
	AuthContextKey = "auth_context" // *identity.AuthorizationContext
	ClaimsKey      = "claims"       // *identity.Claims
	IdentityIDKey  = "identity_id"  // int64
)

// Authenticator converts verified claims into a per-request authorization context.
type Authenticator interface {
	Authenticate(ctx context.Context, claims *identity.Claims) (*identity.AuthorizationContext, error)
}

// AuthMiddleware verifies the bearer token and resolves it to a known identity.
// Unknown or disabled identities are rejected; identities are only created by login sync.
func AuthMiddleware(verifier auth.Verifier, authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		token, ok := auth.BearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must carry a Bearer token",
			})
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			slog.Debug("bearer token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		authCtx, err := authn.Authenticate(c.Request.Context(), claims)
		if err != nil {
			if errors.Is(err, identity.ErrAuthenticationFailed) || errors.Is(err, identity.ErrVerificationFailed) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Unknown or disabled identity",
				})
				return
			}
			slog.Error("authentication failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Authentication failed",
			})
			return
		}

		c.Set(AuthContextKey, authCtx)
		c.Set(ClaimsKey, claims)
		c.Set(IdentityIDKey, authCtx.IdentityID)
		c.Next()
	}
}

// AuthorizationFrom returns the authorization context set by AuthMiddleware.
func AuthorizationFrom(c *gin.Context) (*identity.AuthorizationContext, bool) {
	v, exists := c.Get(AuthContextKey)
	if !exists {
		return nil, false
	}
	authCtx, ok := v.(*identity.AuthorizationContext)
	return authCtx, ok && authCtx != nil
}
