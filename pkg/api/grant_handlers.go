package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/httputil"
	"github.com/platinummonkey/teamgate/pkg/middleware"
	"github.com/platinummonkey/teamgate/pkg/rbac"
	"github.com/platinummonkey/teamgate/pkg/scope"
	"github.com/platinummonkey/teamgate/pkg/teams"
)

// GrantHandlers serves the role and permission catalog plus grant
// management and introspection. Every route is pinned to one team: the
// X-Team-ID header when present, the actor's current team otherwise.
type GrantHandlers struct {
	store    *rbac.Store
	checker  *rbac.PermissionChecker
	users    *teams.Store
	resolver *scope.Resolver
}

// NewGrantHandlers creates a new GrantHandlers
func NewGrantHandlers(store *rbac.Store, checker *rbac.PermissionChecker, users *teams.Store, resolver *scope.Resolver) *GrantHandlers {
	return &GrantHandlers{
		store:    store,
		checker:  checker,
		users:    users,
		resolver: resolver,
	}
}

// RegisterRoutes registers role, permission and grant routes
func (h *GrantHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/roles/{id}/permissions", h.ListRolePermissions).Methods("GET")
	router.HandleFunc("/roles/{id}/permissions/{permission_id}", h.GivePermissionToRole).Methods("PUT")
	router.HandleFunc("/roles/{id}/permissions/{permission_id}", h.RevokePermissionFromRole).Methods("DELETE")

	router.HandleFunc("/permissions", h.CreatePermission).Methods("POST")
	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/permissions/{id}", h.DeletePermission).Methods("DELETE")

	router.HandleFunc("/users/{id}/roles", h.GetUserRoles).Methods("GET")
	router.HandleFunc("/users/{id}/roles", h.AssignRole).Methods("POST")
	router.HandleFunc("/users/{id}/roles", h.SyncRoles).Methods("PUT")
	router.HandleFunc("/users/{id}/roles/{role}", h.RemoveRole).Methods("DELETE")
	router.HandleFunc("/users/{id}/permissions/{permission_id}", h.GrantPermission).Methods("PUT")
	router.HandleFunc("/users/{id}/permissions/{permission_id}", h.RevokePermission).Methods("DELETE")

	router.HandleFunc("/me", h.WhoAmI).Methods("GET")
	router.HandleFunc("/me/can", h.Can).Methods("POST")
}

// CreateRole creates a role in the pinned team. Role names are unique
// per (name, guard, team).
func (h *GrantHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}

	var req struct {
		Name  string `json:"name"`
		Guard string `json:"guard"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role := &rbac.Role{Name: req.Name, Guard: req.Guard, TeamID: teamID}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// ListRoles lists the pinned team's role catalog.
func (h *GrantHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context(), teamID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole retrieves a role by ID.
func (h *GrantHandlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole removes a role and its grant edges. Every cached answer in
// the role's team may have depended on it, so the whole team scope is
// invalidated.
func (h *GrantHandlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	h.checker.Cache().InvalidateTeam(r.Context(), role.TeamID)
	httputil.WriteNoContent(w)
}

// ListRolePermissions lists the permissions attached to a role.
func (h *GrantHandlers) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.store.GetRolePermissions(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// GivePermissionToRole attaches a permission to a role. Both must live
// in the same team.
func (h *GrantHandlers) GivePermissionToRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.store.GivePermissionToRole(r.Context(), roleID, permID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	h.invalidateRoleTeam(r, roleID)
	httputil.WriteNoContent(w)
}

// RevokePermissionFromRole detaches a permission from a role.
func (h *GrantHandlers) RevokePermissionFromRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.store.RevokePermissionFromRole(r.Context(), roleID, permID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	h.invalidateRoleTeam(r, roleID)
	httputil.WriteNoContent(w)
}

// CreatePermission creates a permission in the pinned team.
func (h *GrantHandlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}

	var req struct {
		Name  string `json:"name"`
		Guard string `json:"guard"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	perm := &rbac.Permission{Name: req.Name, Guard: req.Guard, TeamID: teamID}
	if err := h.store.CreatePermission(r.Context(), perm); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteCreated(w, perm)
}

// ListPermissions lists the pinned team's permission catalog.
func (h *GrantHandlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}

	perms, err := h.store.ListPermissions(r.Context(), teamID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// DeletePermission removes a permission and its grant edges, dropping
// every cached answer in the permission's team.
func (h *GrantHandlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perm, err := h.store.GetPermission(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if err := h.store.DeletePermission(r.Context(), id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	h.checker.Cache().InvalidateTeam(r.Context(), perm.TeamID)
	httputil.WriteNoContent(w)
}

// GetUserRoles lists a user's roles in the pinned team.
func (h *GrantHandlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}

	roles, err := h.checker.GetRolesInTeam(r.Context(), target, teamID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// AssignRole grants a role, by name, to a user in the pinned team.
func (h *GrantHandlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Role, "role") {
		return
	}

	if err := h.checker.AssignRoleInTeam(r.Context(), target, teamID, req.Role); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SyncRoles replaces a user's role set in the pinned team with exactly
// the named roles.
func (h *GrantHandlers) SyncRoles(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}

	var req struct {
		Roles []string `json:"roles"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := h.resolver.WithTeam(r.Context(), teamID)
	if err := h.checker.SyncRoles(ctx, target, req.Roles); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveRole revokes a named role from a user in the pinned team.
func (h *GrantHandlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}
	roleName, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}

	ctx := h.resolver.WithTeam(r.Context(), teamID)
	if err := h.checker.RemoveRole(ctx, target, roleName); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GrantPermission grants a permission directly to a user in the pinned
// team, bypassing roles.
func (h *GrantHandlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}
	permID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.store.GrantPermissionToUser(r.Context(), target.ID, permID, teamID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	h.checker.Cache().InvalidateUser(r.Context(), target.ID)
	httputil.WriteNoContent(w)
}

// RevokePermission revokes a direct permission grant.
func (h *GrantHandlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	target, ok := h.loadTarget(w, r)
	if !ok {
		return
	}
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}
	permID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.store.RevokePermissionFromUser(r.Context(), target.ID, permID, teamID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	h.checker.Cache().InvalidateUser(r.Context(), target.ID)
	httputil.WriteNoContent(w)
}

// WhoAmI echoes the caller plus their roles in the pinned team.
func (h *GrantHandlers) WhoAmI(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)
	teamID, ok := h.pinnedTeam(w, r)
	if !ok {
		return
	}

	roles, err := h.checker.GetRolesInTeam(r.Context(), actor, teamID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user":    actor,
		"team_id": teamID,
		"roles":   roles,
	})
}

// Can answers whether the caller holds a permission in the pinned team.
func (h *GrantHandlers) Can(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)

	var req struct {
		Permission string   `json:"permission,omitempty"`
		AnyOf      []string `json:"any_of,omitempty"`
		AllOf      []string `json:"all_of,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var (
		allowed bool
		err     error
	)
	switch {
	case req.Permission != "":
		allowed, err = h.checker.HasPermission(r.Context(), actor, rbac.ByName(req.Permission))
	case len(req.AllOf) > 0:
		allowed, err = h.checker.HasAnyPermission(r.Context(), actor, req.AllOf, true)
	default:
		allowed, err = h.checker.HasAnyPermission(r.Context(), actor, req.AnyOf, false)
	}
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"allowed": allowed})
}

// pinnedTeam resolves the team every catalog route operates in. An
// explicit scope set by the X-Team-ID middleware wins; otherwise the
// actor's current team decides, falling back to the default team.
func (h *GrantHandlers) pinnedTeam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if teamID, ok := h.resolver.Current(r.Context()); ok {
		return teamID, true
	}
	actor := middleware.ActorFromRequest(r)
	if actor == nil {
		httputil.WriteAppError(w, apperr.Denied("authentication required"))
		return 0, false
	}
	return h.resolver.ResolveDefault(actor.CurrentTeam()), true
}

// invalidateRoleTeam drops cached permission answers for the team a role
// belongs to. Role-edge mutations change what every holder of the role
// may do, so nothing narrower than the team scope is safe to keep.
func (h *GrantHandlers) invalidateRoleTeam(r *http.Request, roleID int64) {
	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		h.checker.Cache().Flush(r.Context())
		return
	}
	h.checker.Cache().InvalidateTeam(r.Context(), role.TeamID)
}

func (h *GrantHandlers) loadTarget(w http.ResponseWriter, r *http.Request) (*teams.User, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	return user, true
}
