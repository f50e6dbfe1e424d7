package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identity-sync/identity-sync/internal/auth"
	"github.com/identity-sync/identity-sync/internal/config"
	"github.com/identity-sync/identity-sync/internal/identity"
)

const (
	testKID      = "test-key"
	testClientID = "identity-sync"
)

// testIssuer is a minimal OpenID provider serving discovery, JWKS and userinfo.
type testIssuer struct {
	srv           *httptest.Server
	key           *rsa.PrivateKey
	userInfoEmail string
	userInfoHits  atomic.Int32
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ti := &testIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"issuer":                                ti.srv.URL,
			"authorization_endpoint":                ti.srv.URL + "/authorize",
			"token_endpoint":                        ti.srv.URL + "/token",
			"jwks_uri":                              ti.srv.URL + "/jwks",
			"userinfo_endpoint":                     ti.srv.URL + "/userinfo",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": testKID,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		ti.userInfoHits.Add(1)
		if ti.userInfoEmail == "" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"sub": "sub-1", "email": ti.userInfoEmail})
	})
	ti.srv = httptest.NewServer(mux)
	t.Cleanup(ti.srv.Close)
	return ti
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (ti *testIssuer) sign(t *testing.T, claims auth.TokenClaims) string {
	t.Helper()
	if claims.Issuer == "" {
		claims.Issuer = ti.srv.URL
	}
	if claims.Audience == nil {
		claims.Audience = jwt.ClaimStrings{testClientID}
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(time.Now())
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	token.Header["kid"] = testKID
	raw, err := token.SignedString(ti.key)
	require.NoError(t, err)
	return raw
}

func TestNewVerifier_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewVerifier(ctx, &config.OIDCConfig{ClientID: "c"})
	assert.Error(t, err, "missing issuer")

	_, err = NewVerifier(ctx, &config.OIDCConfig{IssuerURL: "https://issuer.example.com"})
	assert.Error(t, err, "missing client id")
}

func TestNewVerifier_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewVerifier(context.Background(), &config.OIDCConfig{IssuerURL: srv.URL, ClientID: testClientID})
	assert.Error(t, err)
}

func TestVerifier_Discovery(t *testing.T) {
	ti := newTestIssuer(t)
	ctx := context.Background()

	v, err := NewVerifier(ctx, &config.OIDCConfig{IssuerURL: ti.srv.URL, ClientID: testClientID})
	require.NoError(t, err)

	raw := ti.sign(t, auth.TokenClaims{
		Email:            "ada@example.com",
		Name:             "Ada",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"},
	})
	claims, err := v.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", claims.Subject)
	require.NotNil(t, claims.Email)
	assert.Equal(t, "ada@example.com", *claims.Email)
	require.NotNil(t, claims.DisplayName)
	assert.Equal(t, "Ada", *claims.DisplayName)
	assert.Equal(t, int32(0), ti.userInfoHits.Load())
}

func TestVerifier_ExplicitJWKS(t *testing.T) {
	ti := newTestIssuer(t)
	ctx := context.Background()

	v, err := NewVerifier(ctx, &config.OIDCConfig{
		IssuerURL:         ti.srv.URL,
		JWKSURL:           ti.srv.URL + "/jwks",
		SkipClientIDCheck: true,
	})
	require.NoError(t, err)

	raw := ti.sign(t, auth.TokenClaims{
		CognitoUsername: "cog",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "sub-2",
			Audience: jwt.ClaimStrings{"some-other-client"},
		},
	})
	claims, err := v.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "sub-2", claims.Subject)
	require.NotNil(t, claims.Username)
	assert.Equal(t, "cog", *claims.Username)
}

func TestVerifier_Rejects(t *testing.T) {
	ti := newTestIssuer(t)
	ctx := context.Background()

	v, err := NewVerifier(ctx, &config.OIDCConfig{IssuerURL: ti.srv.URL, ClientID: testClientID})
	require.NoError(t, err)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, &auth.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "sub-1",
		Issuer:    ti.srv.URL,
		Audience:  jwt.ClaimStrings{testClientID},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	forged.Header["kid"] = testKID
	forgedRaw, err := forged.SignedString(otherKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not-a-token"},
		{"wrong audience", ti.sign(t, auth.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "sub-1", Audience: jwt.ClaimStrings{"other"},
		}})},
		{"wrong issuer", ti.sign(t, auth.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "sub-1", Issuer: "https://evil.example.com",
		}})},
		{"expired", ti.sign(t, auth.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "sub-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}})},
		{"forged signature", forgedRaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(ctx, tt.raw)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, identity.ErrVerificationFailed)
		})
	}
}

func TestVerifier_UserInfoFillsEmail(t *testing.T) {
	ti := newTestIssuer(t)
	ti.userInfoEmail = "from-userinfo@example.com"
	ctx := context.Background()

	v, err := NewVerifier(ctx, &config.OIDCConfig{
		IssuerURL:     ti.srv.URL,
		ClientID:      testClientID,
		FetchUserInfo: true,
	})
	require.NoError(t, err)

	claims, err := v.Verify(ctx, ti.sign(t, auth.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}))
	require.NoError(t, err)
	require.NotNil(t, claims.Email)
	assert.Equal(t, "from-userinfo@example.com", *claims.Email)
	assert.Equal(t, int32(1), ti.userInfoHits.Load())
}

func TestVerifier_UserInfoFailureKeepsToken(t *testing.T) {
	ti := newTestIssuer(t)
	ctx := context.Background()

	v, err := NewVerifier(ctx, &config.OIDCConfig{
		IssuerURL:     ti.srv.URL,
		ClientID:      testClientID,
		FetchUserInfo: true,
	})
	require.NoError(t, err)

	claims, err := v.Verify(ctx, ti.sign(t, auth.TokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}))
	require.NoError(t, err)
	assert.Nil(t, claims.Email)
	assert.Equal(t, int32(1), ti.userInfoHits.Load())
}
