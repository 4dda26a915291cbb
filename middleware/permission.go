package middleware

import (
	"net/http"

	"github.com/kadvik/identity/permission"
)

// RequirePermission returns middleware that resolves the validated
// principal's roles through the role manager and rejects requests
// missing the named permission. Must be mounted inside Guard.
func RequirePermission(roles *permission.RoleManager, permissionName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok || roles == nil || !roles.Allowed(res.Roles, permissionName) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
