// Package middleware holds the HTTP middleware of the ledger API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthConfig configures API key authentication. With both APIKey and
// APIKeyHash empty the middleware is disabled.
type AuthConfig struct {
	APIKey     string
	APIKeyHash string // bcrypt hash of the key
	// Public lists path prefixes served without a key.
	Public []string
}

// Auth checks a Bearer token or X-API-Key header against the configured key.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg.APIKey == "" && cfg.APIKeyHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublic(r.URL.Path, cfg.Public) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if !validKey(token, cfg) {
				writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validKey(token string, cfg AuthConfig) bool {
	if cfg.APIKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.APIKeyHash), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1
}

func isPublic(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// extractToken reads "Authorization: Bearer <token>" or X-API-Key.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
