package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// publicPaths are exempt from API key authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// APIKeyAuth returns middleware that validates the caller's API key
// against the configured bcrypt hashes. Keys arrive either as a Bearer
// token or in the X-API-Key header; plaintext keys are never stored.
// When enabled is false the middleware is a pass-through.
func APIKeyAuth(enabled bool, keyHashes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := extractKey(r)
			if key == "" {
				unauthorized(w, "api key required")
				return
			}

			for _, hash := range keyHashes {
				if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
					next.ServeHTTP(w, r)
					return
				}
			}

			unauthorized(w, "invalid api key")
		})
	}
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// WebSocket clients cannot set headers from the browser.
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
