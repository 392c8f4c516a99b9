package rbac

import (
	"net/http"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/contextkeys"
	"github.com/platinummonkey/teamgate/pkg/httputil"
)

// PermissionMiddleware gates HTTP handlers on permission checks. The
// authenticated actor is expected in the request context under
// contextkeys.ActorKey; team scope comes from the ambient context the
// scope middleware established.
type PermissionMiddleware struct {
	checker Checker
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker: checker,
	}
}

func actorFromRequest(r *http.Request) (Authorizable, bool) {
	actor, ok := r.Context().Value(contextkeys.ActorKey).(Authorizable)
	return actor, ok
}

// RequirePermission creates middleware that requires a named permission
// in the active team scope.
func (pm *PermissionMiddleware) RequirePermission(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromRequest(r)
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			allowed, err := pm.checker.HasPermission(r.Context(), actor, ByName(name))
			if err != nil {
				httputil.WriteAppError(w, err)
				return
			}
			if !allowed {
				httputil.WriteAppError(w, apperr.Denied("missing permission "+name))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission creates middleware that requires at least one of
// the named permissions. An empty list always passes.
func (pm *PermissionMiddleware) RequireAnyPermission(names ...string) func(http.Handler) http.Handler {
	return pm.requireNamed(names, false)
}

// RequireAllPermissions creates middleware that requires every one of
// the named permissions. An empty list always passes.
func (pm *PermissionMiddleware) RequireAllPermissions(names ...string) func(http.Handler) http.Handler {
	return pm.requireNamed(names, true)
}

func (pm *PermissionMiddleware) requireNamed(names []string, requireAll bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromRequest(r)
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			allowed, err := pm.checker.HasAnyPermission(r.Context(), actor, names, requireAll)
			if err != nil {
				httputil.WriteAppError(w, err)
				return
			}
			if !allowed {
				httputil.WriteAppError(w, apperr.Denied("insufficient permissions"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole creates middleware that requires a role in the active
// team scope. Super admins pass without holding the role.
func (pm *PermissionMiddleware) RequireRole(roleName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromRequest(r)
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			hasRole, err := pm.checker.HasRole(r.Context(), actor, roleName)
			if err != nil {
				httputil.WriteAppError(w, err)
				return
			}
			if !hasRole {
				httputil.WriteAppError(w, apperr.Denied("missing role "+roleName))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
