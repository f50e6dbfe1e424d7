// Package api wires together all HTTP routes for identity-sync.
//
// Route groups:
//   - /api/sync/login and /api/sync/logout authenticate with the provider token
//     itself, since the caller may not have a local identity yet (login) or may have
//     lost its session (logout). They are rate limited per client address.
//   - /api/sync/user and /api/v1/admin require a known identity holding the admin
//     authority.
//   - /api/v1/me requires a known identity.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/identity-sync/identity-sync/internal/api/admin"
	"github.com/identity-sync/identity-sync/internal/api/identitysync"
	"github.com/identity-sync/identity-sync/internal/api/me"
	"github.com/identity-sync/identity-sync/internal/audit"
	"github.com/identity-sync/identity-sync/internal/auth"
	"github.com/identity-sync/identity-sync/internal/config"
	"github.com/identity-sync/identity-sync/internal/db/repositories"
	"github.com/identity-sync/identity-sync/internal/identity"
	"github.com/identity-sync/identity-sync/internal/middleware"
)

// Version is reported by /version; set at build time with -ldflags.
var Version = "dev"

// BackgroundServices holds resources that must be released during graceful shutdown.
// The caller (cmd/server) calls Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	shipper       audit.Shipper
	memoryLimiter *middleware.MemoryLimiter
	redisClient   *redis.Client
}

// Shutdown flushes audit shippers and stops the rate limiter.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("failed to close audit shipper", "error", err)
		}
	}
	if bg.memoryLimiter != nil {
		bg.memoryLimiter.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. verifier checks provider tokens;
// defaultRole supplies the role granted to new identities and may change at runtime.
func NewRouter(cfg *config.Config, db *sql.DB, verifier auth.Verifier, defaultRole identity.DefaultRoleSource) (*gin.Engine, *BackgroundServices, error) {
	bg := &BackgroundServices{}

	// Repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	identityRepo := repositories.NewIdentityRepository(db)
	roleRepo := repositories.NewRoleRepository(sqlxDB)
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	// Audit: database first, secondary shippers best effort
	var shipper audit.Shipper
	if len(cfg.Audit.Shippers) > 0 {
		ms, err := audit.NewMultiShipper(cfg.Audit.Shippers)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure audit shippers: %w", err)
		}
		if ms.Len() > 0 {
			shipper = ms
			bg.shipper = ms
			slog.Info("audit shipping enabled", "shippers", ms.Len())
		}
	}
	recorder := audit.NewRecorder(auditRepo, shipper)

	svc := identity.NewService(identityRepo, roleRepo, recorder, defaultRole)

	// Rate limiting
	var limiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.DefaultRateLimitConfig()
		rlCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		rlCfg.BurstSize = cfg.Security.RateLimiting.Burst
		switch cfg.Security.RateLimiting.Backend {
		case config.LimiterRedis:
			bg.redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			limiter = middleware.NewRedisLimiter(bg.redisClient, rlCfg)
		default:
			bg.memoryLimiter = middleware.NewMemoryLimiter(rlCfg)
			limiter = bg.memoryLimiter
		}
		slog.Info("rate limiting enabled",
			"backend", cfg.Security.RateLimiting.Backend,
			"requests_per_minute", rlCfg.RequestsPerMinute)
	}
	rateLimit := func(g *gin.RouterGroup) {
		if limiter != nil {
			g.Use(middleware.RateLimitMiddleware(limiter))
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/version", versionHandler())

	authn := middleware.AuthMiddleware(verifier, svc)
	requireAdmin := middleware.RequireAuthority(cfg.Identity.AdminAuthority)

	// Sync endpoints
	syncHandlers := identitysync.NewHandlers(svc, verifier)
	syncGroup := router.Group("/api/sync")
	rateLimit(syncGroup)
	{
		syncGroup.POST("/login", syncHandlers.LoginHandler())
		syncGroup.POST("/logout", syncHandlers.LogoutHandler())
		syncGroup.POST("/user", authn, requireAdmin, syncHandlers.UserSyncHandler())
	}

	// Authenticated API
	v1 := router.Group("/api/v1")
	v1.Use(authn)
	rateLimit(v1)
	{
		meHandlers := me.NewHandlers(svc)
		v1.GET("/me", meHandlers.GetHandler())
		v1.PATCH("/me", meHandlers.UpdateHandler())

		adminHandlers := admin.NewHandlers(svc)
		adminGroup := v1.Group("/admin")
		adminGroup.Use(requireAdmin)
		{
			adminGroup.GET("/users", adminHandlers.ListIdentitiesHandler())
			adminGroup.GET("/users/:id", adminHandlers.GetIdentityHandler())
			adminGroup.PATCH("/users/:id/roles", adminHandlers.UpdateRolesHandler())
			adminGroup.GET("/audit-log", adminHandlers.AuditLogHandler())
		}
	}

	return router, bg, nil
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request through the request-scoped
// logger, so every line carries the request id. The output format follows the
// handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		middleware.LoggerFrom(c).LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
