package me

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/identity-sync/identity-sync/internal/identity"
	"github.com/identity-sync/identity-sync/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockService struct {
	mock.Mock
}

func (m *mockService) CurrentIdentity(ctx context.Context, subject string) (*models.Identity, error) {
	args := m.Called(ctx, subject)
	res, _ := args.Get(0).(*models.Identity)
	return res, args.Error(1)
}

func (m *mockService) UpdateProfile(ctx context.Context, identityID int64, update identity.ProfileUpdate, origin identity.Origin) (*models.Identity, error) {
	args := m.Called(ctx, identityID, update, origin)
	res, _ := args.Get(0).(*models.Identity)
	return res, args.Error(1)
}

// newMeRouter registers the handlers behind a stub that plays the role of AuthMiddleware.
func newMeRouter(svc Service, authCtx *identity.AuthorizationContext) *gin.Engine {
	h := NewHandlers(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if authCtx != nil {
			c.Set(middleware.AuthContextKey, authCtx)
		}
		c.Next()
	})
	r.GET("/me", h.GetHandler())
	r.PATCH("/me", h.UpdateHandler())
	return r
}

func serve(r http.Handler, method, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/me", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var adaCtx = &identity.AuthorizationContext{IdentityID: 4, Subject: "sub-ada", Authorities: []string{"USER"}}

func TestGetHandler(t *testing.T) {
	t.Run("returns identity and authorities", func(t *testing.T) {
		svc := &mockService{}
		svc.On("CurrentIdentity", mock.Anything, "sub-ada").Return(&models.Identity{
			ID:      4,
			Subject: "sub-ada",
			Roles:   []models.Role{{Name: "USER"}, {Name: "ADMIN"}},
		}, nil)

		w := serve(newMeRouter(svc, adaCtx), http.MethodGet, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"authorities":["ADMIN","USER"]`)
	})

	t.Run("identity deleted since authentication", func(t *testing.T) {
		svc := &mockService{}
		svc.On("CurrentIdentity", mock.Anything, "sub-ada").
			Return(nil, &identity.Error{Kind: identity.KindNotFound, Op: "CurrentIdentity"})

		w := serve(newMeRouter(svc, adaCtx), http.MethodGet, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := serve(newMeRouter(&mockService{}, nil), http.MethodGet, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUpdateHandler(t *testing.T) {
	origin := identity.Origin{Address: "192.0.2.1"}

	t.Run("updates profile", func(t *testing.T) {
		name := "Ada L."
		svc := &mockService{}
		svc.On("UpdateProfile", mock.Anything, int64(4), identity.ProfileUpdate{DisplayName: &name}, origin).
			Return(&models.Identity{ID: 4, DisplayName: name}, nil)

		w := serve(newMeRouter(svc, adaCtx), http.MethodPatch, `{"display_name":"Ada L."}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"display_name":"Ada L."`)
		svc.AssertExpectations(t)
	})

	t.Run("empty update rejected", func(t *testing.T) {
		svc := &mockService{}
		svc.On("UpdateProfile", mock.Anything, int64(4), identity.ProfileUpdate{}, origin).
			Return(nil, &identity.Error{Kind: identity.KindInvalid, Op: "UpdateProfile"})

		w := serve(newMeRouter(svc, adaCtx), http.MethodPatch, `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := serve(newMeRouter(&mockService{}, adaCtx), http.MethodPatch, `[`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := serve(newMeRouter(&mockService{}, nil), http.MethodPatch, `{"username":"x"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
