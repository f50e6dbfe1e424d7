// Package apiutil holds helpers shared by the HTTP handler packages: mapping identity
// errors to responses, extracting the request origin, and parsing paging parameters.
package apiutil

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/identity-sync/identity-sync/internal/identity"
	"github.com/identity-sync/identity-sync/internal/middleware"
)

// WriteError maps err to an HTTP status and a JSON body. Errors without an identity
// kind are logged and reported as 500 without detail.
func WriteError(c *gin.Context, err error) {
	var idErr *identity.Error
	if !errors.As(err, &idErr) {
		middleware.LoggerFrom(c).Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	switch idErr.Kind {
	case identity.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Identity not found"})
	case identity.KindRoleNotFound:
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Role not found",
			"roles": identity.RoleNamesOf(err),
		})
	case identity.KindAuthenticationFailed:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed"})
	case identity.KindVerificationFailed:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case identity.KindInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": idErr.Error()})
	default:
		slog.Error("unexpected identity error", "kind", idErr.Kind.String(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// OriginFrom describes where the request came from, for audit records.
func OriginFrom(c *gin.Context) identity.Origin {
	return identity.Origin{
		Address: c.ClientIP(),
		Agent:   c.Request.UserAgent(),
	}
}

// Paging reads page and size query parameters. Unparseable values fall back to the
// defaults; bounds are applied by identity.NormalizePage.
func Paging(c *gin.Context) (page, size int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		page = 0
	}
	size, err = strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(identity.DefaultPageSize)))
	if err != nil {
		size = identity.DefaultPageSize
	}
	return identity.NormalizePage(page, size)
}

// IDParam parses a positive int64 path parameter. On failure a 400 response is
// written and ok is false.
func IDParam(c *gin.Context, name string) (id int64, ok bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}
