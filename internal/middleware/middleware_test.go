package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"github.com/identity-sync/identity-sync/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeVerifier accepts tokens listed in claims and rejects everything else.
type fakeVerifier struct {
	claims map[string]*identity.Claims
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (*identity.Claims, error) {
	if c, ok := f.claims[raw]; ok {
		return c, nil
	}
	return nil, identity.VerificationFailed("Verify", errors.New("bad token"))
}

// fakeAuthenticator maps subjects to authorization contexts.
type fakeAuthenticator struct {
	known map[string]*identity.AuthorizationContext
	err   error
	calls int
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, claims *identity.Claims) (*identity.AuthorizationContext, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if a, ok := f.known[claims.Subject]; ok {
		return a, nil
	}
	return nil, &identity.Error{Kind: identity.KindAuthenticationFailed, Op: "Authenticate"}
}

func doRequest(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}
