// Package auth provides bearer token middleware for the /mcp and /metrics
// endpoints.
package auth

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// Realm is reported in the WWW-Authenticate challenge.
const Realm = "upsmon"

// NewAuthMiddleware returns an HTTP middleware that enforces bearer token
// authentication. If the configured token is empty, authentication is disabled
// and all requests pass through to the next handler unconditionally. Requests
// for one of publicPaths (exact match) are never challenged.
//
// When enabled, the request must carry exactly
//
//	Authorization: Bearer <token>
//
// The "Bearer" prefix is case-sensitive and is followed by a single space.
// Anything else gets a 401 with a WWW-Authenticate challenge and the next
// handler is never called. Tokens are compared in constant time.
func NewAuthMiddleware(token string, publicPaths ...string) func(http.Handler) http.Handler {
	want := []byte(token)
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			const prefix = "Bearer "
			authHeader := r.Header.Get("Authorization")
			provided, ok := strings.CutPrefix(authHeader, prefix)
			if !ok || provided == "" || subtle.ConstantTimeCompare([]byte(provided), want) != 1 {
				log.Printf("auth: rejected %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+Realm+`"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
