package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/lailoo/vibe-blog/internal/httpx"
)

// Middleware requires "Authorization: Bearer <token>" on every request.
// EventSource clients cannot set headers, so a token query parameter is
// accepted as well. An empty token disables the check.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Valid(r, token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vibe-blog"`)
				httpx.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Valid reports whether r carries token.
func Valid(r *http.Request, token string) bool {
	got := r.URL.Query().Get("token")
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		scheme, value, ok := strings.Cut(authz, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return false
		}
		got = strings.TrimSpace(value)
	}
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
