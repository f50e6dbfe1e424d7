// identities.go implements the admin endpoints for browsing identities and
// reassigning their roles.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/identity-sync/identity-sync/internal/api/apiutil"
	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/identity-sync/identity-sync/internal/identity"
)

// Service is the part of identity.Service used by the admin endpoints.
type Service interface {
	ListIdentities(ctx context.Context, query string, page, size int) (*models.IdentityPage, error)
	IdentityDetails(ctx context.Context, identityID int64) (*identity.IdentityWithAudit, error)
	ReassignRoles(ctx context.Context, identityID int64, names []string, origin identity.Origin) (*identity.IdentityWithAudit, error)
	AuditLog(ctx context.Context, filter models.AuditFilter, page, size int) (*models.AuditPage, error)
}

// Handlers serves the admin endpoints. Routes must be guarded by the admin authority.
type Handlers struct {
	svc Service
}

// NewHandlers creates admin handlers.
func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// @Summary      List identities
// @Description  Get a page of identities whose username or email contains query (case-insensitive). Requires the admin authority.
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Param        page   query  int     false  "Page number, zero-based (default 0)"
// @Param        size   query  int     false  "Page size, max 100 (default 10)"
// @Param        query  query  string  false  "Username or email fragment"
// @Success      200  {object}  models.IdentityPage
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/v1/admin/users [get]
// ListIdentitiesHandler handles GET /api/v1/admin/users?page=0&size=10&query=
func (h *Handlers) ListIdentitiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := apiutil.Paging(c)

		result, err := h.svc.ListIdentities(c.Request.Context(), c.Query("query"), page, size)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// @Summary      Get identity
// @Description  Get an identity with its authorities and audit history. Requires the admin authority.
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Param        id  path  int  true  "Identity ID"
// @Success      200  {object}  identity.IdentityWithAudit
// @Failure      400  {object}  map[string]interface{}  "Invalid id"
// @Failure      404  {object}  map[string]interface{}  "Identity not found"
// @Router       /api/v1/admin/users/{id} [get]
// GetIdentityHandler handles GET /api/v1/admin/users/:id
func (h *Handlers) GetIdentityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := apiutil.IDParam(c, "id")
		if !ok {
			return
		}

		details, err := h.svc.IdentityDetails(c.Request.Context(), id)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, details)
	}
}

// RoleUpdateRequest is the body of PATCH /api/v1/admin/users/:id/roles. The list
// replaces the identity's roles; an empty list removes them all.
type RoleUpdateRequest struct {
	Roles []string `json:"roles" binding:"required"`
}

// @Summary      Reassign roles
// @Description  Replace an identity's roles. Every role must exist; otherwise nothing changes and the unknown names are returned. Records a ROLE_UPDATE audit event. Requires the admin authority.
// @Tags         Admin
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  int                true  "Identity ID"
// @Param        body  body  RoleUpdateRequest  true  "New role set"
// @Success      200  {object}  identity.IdentityWithAudit
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Identity not found"
// @Failure      422  {object}  map[string]interface{}  "Unknown roles"
// @Router       /api/v1/admin/users/{id}/roles [patch]
// UpdateRolesHandler handles PATCH /api/v1/admin/users/:id/roles
func (h *Handlers) UpdateRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := apiutil.IDParam(c, "id")
		if !ok {
			return
		}

		var req RoleUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}

		result, err := h.svc.ReassignRoles(c.Request.Context(), id, req.Roles, apiutil.OriginFrom(c))
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// @Summary      Audit log
// @Description  Get a page of audit records, newest first, optionally filtered by identity and event type. Requires the admin authority.
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Param        identity_id  query  int     false  "Identity ID"
// @Param        event_type   query  string  false  "LOGIN, LOGOUT, ROLE_UPDATE or PROFILE_UPDATE"
// @Param        page         query  int     false  "Page number, zero-based (default 0)"
// @Param        size         query  int     false  "Page size, max 100 (default 10)"
// @Success      200  {object}  models.AuditPage
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/admin/audit-log [get]
// AuditLogHandler handles GET /api/v1/admin/audit-log
func (h *Handlers) AuditLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.AuditFilter
		if raw := c.Query("identity_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid identity_id"})
				return
			}
			filter.IdentityID = &id
		}
		filter.EventType = models.AuditEvent(strings.ToUpper(strings.TrimSpace(c.Query("event_type"))))

		page, size := apiutil.Paging(c)
		result, err := h.svc.AuditLog(c.Request.Context(), filter, page, size)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
