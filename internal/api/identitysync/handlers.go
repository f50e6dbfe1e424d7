// Package identitysync implements the /api/sync endpoints through which clients report
// provider logins and logouts, and trusted systems push identities.
package identitysync

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/identity-sync/identity-sync/internal/api/apiutil"
	"github.com/identity-sync/identity-sync/internal/auth"
	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/identity-sync/identity-sync/internal/identity"
)

// Service is the part of identity.Service used by the sync endpoints.
type Service interface {
	LoginSync(ctx context.Context, claims *identity.Claims, origin identity.Origin) (*identity.LoginResult, error)
	LogoutSync(ctx context.Context, principal identity.Principal, origin identity.Origin) (identity.LogoutResult, error)
	FindOrCreate(ctx context.Context, subject, email, username, displayName string) (*models.Identity, error)
}

// Handlers serves the sync endpoints.
type Handlers struct {
	svc      Service
	verifier auth.Verifier
}

// NewHandlers creates sync handlers.
func NewHandlers(svc Service, verifier auth.Verifier) *Handlers {
	return &Handlers{svc: svc, verifier: verifier}
}

// @Summary      Sync login
// @Description  Verifies the caller's provider token, creates or refreshes the local identity and records a LOGIN audit event.
// @Tags         Sync
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  identity.LoginResult
// @Failure      401  {object}  map[string]interface{}  "Missing or invalid token"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/sync/login [post]
// LoginHandler handles POST /api/sync/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		claims, err := h.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}

		result, err := h.svc.LoginSync(c.Request.Context(), claims, apiutil.OriginFrom(c))
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// @Summary      Sync logout
// @Description  Records a LOGOUT audit event for the caller. The caller is identified by a bearer token, or by a token query parameter when the session has already ended. Logout always succeeds once the request is accepted; audited reports whether an event was written.
// @Tags         Sync
// @Produce      json
// @Param        token  query  string  false  "Provider token, used when no Authorization header is sent"
// @Success      200  {object}  identity.LogoutResult
// @Failure      401  {object}  map[string]interface{}  "Invalid bearer token"
// @Router       /api/sync/logout [post]
// LogoutHandler handles POST /api/sync/logout
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var principal identity.Principal

		if header := c.GetHeader("Authorization"); header != "" {
			token, ok := auth.BearerToken(header)
			if !ok {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
				return
			}
			claims, err := h.verifier.Verify(ctx, token)
			if err != nil {
				apiutil.WriteError(c, err)
				return
			}
			principal.LoginName = loginName(claims)
		} else if token := c.Query("token"); token != "" {
			claims, err := h.verifier.Verify(ctx, token)
			if err != nil {
				slog.Warn("logout token could not be verified, skipping audit", "error", err)
				c.JSON(http.StatusOK, identity.LogoutResult{Audited: false})
				return
			}
			principal.Claims = claims
		}

		result, err := h.svc.LogoutSync(ctx, principal, apiutil.OriginFrom(c))
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// loginName is the session name of a verified bearer: the email when present,
// otherwise the subject.
func loginName(claims *identity.Claims) string {
	if claims.Email != nil && *claims.Email != "" {
		return *claims.Email
	}
	return claims.Subject
}

// UserSyncRequest is the body of POST /api/sync/user.
type UserSyncRequest struct {
	Sub         string `json:"sub" binding:"required"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// @Summary      Sync user
// @Description  Creates or refreshes an identity pushed by a trusted system. No audit event is recorded. Requires the admin authority.
// @Tags         Sync
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  UserSyncRequest  true  "Identity to sync"
// @Success      200  {object}  models.Identity
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/sync/user [post]
// UserSyncHandler handles POST /api/sync/user
func (h *Handlers) UserSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UserSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}

		ident, err := h.svc.FindOrCreate(c.Request.Context(), req.Sub, req.Email, req.Username, req.DisplayName)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, ident)
	}
}
