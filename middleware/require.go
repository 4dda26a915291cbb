package middleware

import (
	"net/http"

	identity "github.com/kadvik/identity"
)

// RequireRole returns middleware that rejects requests whose validated
// principal does not hold role. Must be mounted inside Guard; without a
// validation result in the context every request is rejected.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok || !hasRole(res, role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePasswordFresh returns middleware that rejects principals flagged
// as needing a password change. Mount it on everything except the
// password-change endpoint itself.
func RequirePasswordFresh() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if res.RequiresPasswordChange {
				http.Error(w, "password change required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(res *identity.AuthResult, role string) bool {
	for _, r := range res.Roles {
		if r == role {
			return true
		}
	}
	return false
}
