package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identity-sync/identity-sync/internal/config"
	"github.com/identity-sync/identity-sync/internal/identity"
	"github.com/identity-sync/identity-sync/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func TestHealthCheckHandler_Healthy(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

// ---------------------------------------------------------------------------
// CORSMiddleware
// ---------------------------------------------------------------------------

func newCORSRouter(origins ...string) *gin.Engine {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = origins
	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	r := newCORSRouter("https://app.example.com")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	r := newCORSRouter("https://app.example.com")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	r := newCORSRouter("*")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://anything.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	r := newCORSRouter("*")

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

// ---------------------------------------------------------------------------
// NewRouter
// ---------------------------------------------------------------------------

type stubVerifier map[string]*identity.Claims

func (s stubVerifier) Verify(_ context.Context, raw string) (*identity.Claims, error) {
	if c, ok := s[raw]; ok {
		return c, nil
	}
	return nil, identity.VerificationFailed("Verify", errors.New("unknown token"))
}

func routerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Identity.DefaultRole = "USER"
	cfg.Identity.AdminAuthority = "ADMIN"
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.RequestsPerMinute = 600
	cfg.Security.RateLimiting.Burst = 100
	cfg.Security.RateLimiting.Backend = config.LimiterMemory
	return cfg
}

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	verifier := stubVerifier{
		"user-token": {Subject: "sub-user"},
	}
	router, bg, err := NewRouter(routerConfig(), db, verifier, identity.NewDefaultRole("USER"))
	require.NoError(t, err)
	t.Cleanup(bg.Shutdown)
	return router, mock
}

func identityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "subject", "email", "username", "display_name", "status",
		"created_at", "updated_at", "last_login", "role_id", "role_name", "role_description",
	})
}

func serve(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewRouter_VersionAndHeaders(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodGet, "/version", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"api_version":"v1"`)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"), "version is not rate limited")
}

func TestNewRouter_LoginRequiresBearer(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodPost, "/api/sync/login", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestNewRouter_UnknownIdentityIsUnauthorized(t *testing.T) {
	router, mock := newTestRouter(t)
	mock.ExpectQuery("FROM identities i").WithArgs("sub-user").WillReturnRows(identityRows())

	w := serve(router, http.MethodGet, "/api/v1/me", "user-token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRouter_AdminRequiresAuthority(t *testing.T) {
	router, mock := newTestRouter(t)
	now := time.Now()
	mock.ExpectQuery("FROM identities i").WithArgs("sub-user").WillReturnRows(
		identityRows().AddRow(int64(7), "sub-user", "u@example.com", "user", "User", "ACTIVE",
			now, now, now, int64(2), "USER", nil))
	mock.ExpectExec("UPDATE identities SET last_login").WillReturnResult(sqlmock.NewResult(0, 1))

	w := serve(router, http.MethodGet, "/api/v1/admin/users", "user-token")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "ADMIN")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRouter_UserSyncRequiresAuthentication(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodPost, "/api/sync/user", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
