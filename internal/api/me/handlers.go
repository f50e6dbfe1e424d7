// Package me implements the self-service endpoints for the authenticated identity.
package me

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/identity-sync/identity-sync/internal/api/apiutil"
	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/identity-sync/identity-sync/internal/identity"
	"github.com/identity-sync/identity-sync/internal/middleware"
)

// Service is the part of identity.Service used by the self-service endpoints.
type Service interface {
	CurrentIdentity(ctx context.Context, subject string) (*models.Identity, error)
	UpdateProfile(ctx context.Context, identityID int64, update identity.ProfileUpdate, origin identity.Origin) (*models.Identity, error)
}

// Handlers serves /api/v1/me. Routes must run behind middleware.AuthMiddleware.
type Handlers struct {
	svc Service
}

// NewHandlers creates self-service handlers.
func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// Response is the current identity together with its authorities.
type Response struct {
	Identity    *models.Identity `json:"identity"`
	Authorities []string         `json:"authorities"`
}

// @Summary      Current identity
// @Description  Returns the authenticated identity and its authorities.
// @Tags         Profile
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  Response
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Identity not found"
// @Router       /api/v1/me [get]
// GetHandler handles GET /api/v1/me
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		authCtx, ok := middleware.AuthorizationFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		ident, err := h.svc.CurrentIdentity(c.Request.Context(), authCtx.Subject)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Identity: ident, Authorities: identity.AuthoritiesFor(ident)})
	}
}

// @Summary      Update profile
// @Description  Updates the authenticated identity's username and/or display name. The email is owned by the identity provider and cannot be changed. Records a PROFILE_UPDATE audit event.
// @Tags         Profile
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  identity.ProfileUpdate  true  "Fields to change"
// @Success      200  {object}  Response
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/me [patch]
// UpdateHandler handles PATCH /api/v1/me
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		authCtx, ok := middleware.AuthorizationFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		var update identity.ProfileUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}

		ident, err := h.svc.UpdateProfile(c.Request.Context(), authCtx.IdentityID, update, apiutil.OriginFrom(c))
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Identity: ident, Authorities: identity.AuthoritiesFor(ident)})
	}
}
