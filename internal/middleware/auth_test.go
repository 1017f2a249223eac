package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func hashKey(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func authHandler(enabled bool, hashes []string) http.Handler {
	return APIKeyAuth(enabled, hashes)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAPIKeyAuthDisabledPassesThrough(t *testing.T) {
	handler := authHandler(false, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultations/stats", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with auth disabled, got %d", rec.Code)
	}
}

func TestAPIKeyAuthMissingKey(t *testing.T) {
	handler := authHandler(true, []string{hashKey(t, "secret")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultations/stats", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAPIKeyAuthValidBearer(t *testing.T) {
	handler := authHandler(true, []string{hashKey(t, "secret")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultations/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAPIKeyAuthValidHeader(t *testing.T) {
	handler := authHandler(true, []string{hashKey(t, "other"), hashKey(t, "secret")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultations/stats", http.NoBody)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAPIKeyAuthInvalidKey(t *testing.T) {
	handler := authHandler(true, []string{hashKey(t, "secret")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultations/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAPIKeyAuthHealthExempt(t *testing.T) {
	handler := authHandler(true, []string{hashKey(t, "secret")})

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for /health without key, got %d", rec.Code)
	}
}

func TestAPIKeyAuthWebSocketQueryToken(t *testing.T) {
	handler := authHandler(true, []string{hashKey(t, "secret")})

	req := httptest.NewRequest(http.MethodGet, "/ws?token=secret", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for valid query token, got %d", rec.Code)
	}
}
