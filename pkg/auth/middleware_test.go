package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/identity"
)

func setupTokens(t *testing.T) *identity.TokenManager {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	return identity.NewTokenManager(ks)
}

func TestMiddleware_ValidBearerToken(t *testing.T) {
	tokens := setupTokens(t)
	middleware := auth.NewMiddleware(tokens)

	var capturedUserID string
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		capturedUserID, err = auth.GetUserID(r.Context())
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))

	token, err := tokens.IssueSession("user-123", "user@example.com", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-123", capturedUserID)
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	tokens := setupTokens(t)
	middleware := auth.NewMiddleware(tokens)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for an expired token")
	}))

	token, err := tokens.IssueSession("user-123", "user@example.com", -time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	otherKS, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	otherTokens := identity.NewTokenManager(otherKS)
	token, err := otherTokens.IssueSession("user-123", "user@example.com", time.Hour)
	require.NoError(t, err)

	middleware := auth.NewMiddleware(setupTokens(t))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for a token signed by a different key set")
	}))

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	middleware := auth.NewMiddleware(setupTokens(t))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without an Authorization header")
	}))

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	middleware := auth.NewMiddleware(setupTokens(t))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for a malformed Authorization header")
	}))

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_PublicPathsBypass(t *testing.T) {
	middleware := auth.NewMiddleware(setupTokens(t))
	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_PresignedPathBypasses(t *testing.T) {
	middleware := auth.NewMiddleware(setupTokens(t))
	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/artifacts/abc/download?act=download&exp=9999999999&sig=x", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.True(t, called)
}

func TestMiddleware_NilTokens_FailsClosed(t *testing.T) {
	middleware := auth.NewMiddleware(nil)
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run when token manager is nil")
	}))

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDMiddleware_GeneratesAndPropagates(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.NotEmpty(t, got)
	require.Equal(t, got, w.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_ReusesIncomingID(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, "client-supplied-id", got)
}
