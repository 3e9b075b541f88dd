// Package apikeyauth gates the control API behind a single operator-issued
// bearer key. Full multi-key issuance, scopes, and RBAC are out of scope —
// this exists only far enough to keep the booking/channel control surface
// from being open to the internet.
package apikeyauth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const authenticatedKey contextKey = "apikeyauth_authenticated"

// Middleware rejects any request whose Authorization header does not carry
// "Bearer <key>" matching key via a constant-time comparison. An empty key
// disables the check (used in local/dev runs without CONTROL_API_KEY set).
func Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authenticatedKey, true)))
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"AUTH_FAILED","message":"missing or invalid control API key"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authenticatedKey, true)))
		})
	}
}

// Authenticated reports whether the request passed the Middleware check.
func Authenticated(ctx context.Context) bool {
	v, _ := ctx.Value(authenticatedKey).(bool)
	return v
}
