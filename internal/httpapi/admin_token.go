package httpapi

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards the admin surface with a bcrypt-hashed token supplied in
// the X-Admin-Token header. An empty hash disables the surface entirely.
func AdminAuth(tokenHash string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				jsonError(w, "admin API disabled", http.StatusForbidden)
				return
			}
			provided := r.Header.Get("X-Admin-Token")
			if provided == "" {
				jsonError(w, "missing admin token", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(provided)); err != nil {
				jsonError(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
