package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Auth returns middleware guarding the admin surface: schedule mutations,
// the rate change, the audit trail, and the manual sweep. The caller
// presents the configured token as a Bearer credential or in X-API-Key.
// An empty configured token disables the guard, for local development only.
func Auth(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := adminCredential(r)
			if presented == "" {
				unauthorized(w, "admin credentials required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(adminToken)) != 1 {
				unauthorized(w, "admin credentials rejected")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func adminCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
