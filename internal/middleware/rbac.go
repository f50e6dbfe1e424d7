// Package middleware (rbac.go) implements authority-based authorization.
//
// Authorities are resolved from the identity's roles on every request by
// AuthMiddleware, so a role change applies on the caller's next request without
// reissuing tokens.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAuthority rejects requests whose authorization context lacks authority.
// It must run after AuthMiddleware.
func RequireAuthority(authority string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authCtx, ok := AuthorizationFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if !authCtx.HasAuthority(authority) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Missing required authority",
				"details": "Required authority: " + authority,
			})
			return
		}

		c.Next()
	}
}
