// Package middleware provides the admin HTTP API's Bearer-token guard.
package middleware

import (
	"net/http"
	"strings"
)

// TokenValidator reports whether an opaque bearer token is a live admin
// session. Satisfied by *session.Cache.
type TokenValidator interface {
	ValidAuthToken(token string) bool
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// RequireToken rejects requests without a live Bearer token, matching the
// original admin surface's "Authorization: Bearer <token>" contract (§6).
func RequireToken(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			if !v.ValidAuthToken(token) {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
