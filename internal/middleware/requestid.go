package middleware

import (
	"log/slog"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request id string.
	RequestIDKey = "request_id"

	// LoggerKey is the gin.Context key holding a *slog.Logger tagged with the request id.
	LoggerKey = "logger"
)

// Inbound ids are reused only if they look sane; anything else is replaced so callers
// cannot inject arbitrary text into logs.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestIDMiddleware ensures every request carries an X-Request-ID. A well-formed
// inbound id (from a load balancer or caller) is reused, otherwise a UUID v4 is
// generated. The id is echoed in the response and stored in the context together
// with a request-scoped logger.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Set(LoggerKey, slog.Default().With("request_id", id))
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or slog.Default outside a request
// handled by RequestIDMiddleware.
func LoggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
