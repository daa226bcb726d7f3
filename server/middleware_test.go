package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/identity"
	"github.com/parleyhq/parley/server/handlers"
)

type stubUpserter struct{}

func (stubUpserter) UpsertUser(_ context.Context, user *domain.User) error {
	user.ID = "usr_local"
	return nil
}

func newTestGateway(t *testing.T, secret string) (*identity.Gateway, *identity.TokenVerifier) {
	t.Helper()
	verifier := identity.NewTokenVerifier(secret, 30*time.Second, time.Hour)
	gateway := identity.NewGateway(verifier, stubUpserter{}, cache.New(nil), testLogger())
	return gateway, verifier
}

func TestAuthRejectsMissingToken(t *testing.T) {
	gateway, _ := newTestGateway(t, "secret")

	handler := Auth(gateway)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsBadToken(t *testing.T) {
	gateway, _ := newTestGateway(t, "secret")

	handler := Auth(gateway)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthPutsUserOnContext(t *testing.T) {
	gateway, verifier := newTestGateway(t, "secret")

	token, err := verifier.Issue(&identity.Claims{ExternalUserID: "ext-1", Email: "a@example.com"})
	require.NoError(t, err)

	var gotUserID string
	handler := Auth(gateway)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = handlers.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "usr_local", gotUserID)
}

func TestAuthQueryAcceptsQueryToken(t *testing.T) {
	gateway, verifier := newTestGateway(t, "secret")

	token, err := verifier.Issue(&identity.Claims{ExternalUserID: "ext-1", Email: "a@example.com"})
	require.NoError(t, err)

	var gotUserID string
	handler := AuthQuery(gateway)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = handlers.UserIDFromContext(r.Context())
	}))

	// Token in the query string only, as a media element src would send it.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/proxy?token="+token+"&url=https://x/y", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "usr_local", gotUserID)

	// The header still works and wins over the query parameter.
	req := httptest.NewRequest(http.MethodGet, "/files/proxy?token=bogus", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/proxy", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must short-circuit")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("messages:usr_1", 3))
	}
	assert.False(t, rl.allow("messages:usr_1", 3))

	// Other users and classes have their own buckets.
	assert.True(t, rl.allow("messages:usr_2", 3))
	assert.True(t, rl.allow("reactions:usr_1", 3))
}

func TestRateLimiterDisabledAllowsEverything(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: false})
	for i := 0; i < 100; i++ {
		assert.True(t, rl.allow("messages:usr_1", 1))
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true})
	handler := rl.Limit("messages", 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
