package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/passrelay/passrelay/internal/api/middleware"
)

func newAPIKeyHandler(key string) (http.Handler, *bool) {
	called := false
	handler := middleware.APIKeyAuth(key)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &called
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	handler, called := newAPIKeyHandler("operator-key")

	req := httptest.NewRequest(http.MethodGet, "/admin", http.NoBody)
	req.Header.Set("Authorization", "Bearer operator-key")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *called)
}

func TestAPIKeyAuth_InvalidKey(t *testing.T) {
	handler, called := newAPIKeyHandler("operator-key")

	req := httptest.NewRequest(http.MethodGet, "/admin", http.NoBody)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.False(t, *called)
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	handler, called := newAPIKeyHandler("operator-key")

	req := httptest.NewRequest(http.MethodGet, "/admin", http.NoBody)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *called)
}

func TestAPIKeyAuth_WrongScheme(t *testing.T) {
	handler, called := newAPIKeyHandler("operator-key")

	req := httptest.NewRequest(http.MethodGet, "/admin", http.NoBody)
	req.Header.Set("Authorization", "ApplePass operator-key")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *called)
}

func TestAPIKeyAuth_EmptyConfiguredKeyRejectsAll(t *testing.T) {
	// A misconfigured empty key must fail closed, not open.
	handler, called := newAPIKeyHandler("")

	req := httptest.NewRequest(http.MethodGet, "/admin", http.NoBody)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, *called)
}
