package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/observability"
	"github.com/platinummonkey/teamgate/pkg/scope"
)

// Checker is the permission check surface the rest of the system calls.
// Every operation short-circuits to allow for super admins before anything
// else is evaluated.
type Checker interface {
	// HasPermission checks one permission reference against the active
	// team scope (or the referenced object's own team).
	HasPermission(ctx context.Context, user Authorizable, ref PermissionRef) (bool, error)

	// HasPermissionInTeam checks a named permission under an explicit team
	// scope, leaving the caller's scope untouched.
	HasPermissionInTeam(ctx context.Context, user Authorizable, teamID int64, name string) (bool, error)

	// HasAnyPermission checks a batch of names. With requireAll false it is
	// true if at least one resolves true; with requireAll true, only if all
	// do. An empty batch is vacuously true either way.
	HasAnyPermission(ctx context.Context, user Authorizable, names []string, requireAll bool) (bool, error)

	// Can tries HasPermission for the ability name and falls back to a
	// registered policy when no stored permission grants it.
	Can(ctx context.Context, user Authorizable, ability string, subject interface{}) (bool, error)

	// HasRole checks a named role in the active team scope.
	HasRole(ctx context.Context, user Authorizable, roleName string) (bool, error)

	// AssignRole grants the role named roleName in the active team scope.
	// The role must exist in that exact team.
	AssignRole(ctx context.Context, user Authorizable, roleName string) error

	// RemoveRole revokes the role in the active team scope.
	RemoveRole(ctx context.Context, user Authorizable, roleName string) error

	// SyncRoles replaces the user's roles in the active team scope.
	SyncRoles(ctx context.Context, user Authorizable, roleNames []string) error

	// AssignRoleInTeam grants a role under an explicit team, bypassing the
	// ambient scope.
	AssignRoleInTeam(ctx context.Context, user Authorizable, teamID int64, roleName string) error

	// GetRolesInTeam lists the user's roles in one team. Deliberately
	// independent of the ambient scope.
	GetRolesInTeam(ctx context.Context, user Authorizable, teamID int64) ([]Role, error)

	// GetAllRoles lists the user's roles across every team.
	GetAllRoles(ctx context.Context, user Authorizable) ([]Role, error)
}

// PermissionChecker implements Checker against the store, with a
// scope-keyed cache in front.
type PermissionChecker struct {
	store    *Store
	cache    PermissionCache
	resolver *scope.Resolver
	policies *PolicyRegistry
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// CheckerOption configures a PermissionChecker.
type CheckerOption func(*PermissionChecker)

// WithCache sets the permission cache. Defaults to NoopCache.
func WithCache(cache PermissionCache) CheckerOption {
	return func(pc *PermissionChecker) {
		pc.cache = cache
	}
}

// WithPolicies sets the ability policy registry consulted by Can.
func WithPolicies(policies *PolicyRegistry) CheckerOption {
	return func(pc *PermissionChecker) {
		pc.policies = policies
	}
}

// WithMetrics enables check instrumentation.
func WithMetrics(metrics *observability.Metrics) CheckerOption {
	return func(pc *PermissionChecker) {
		pc.metrics = metrics
	}
}

// NewPermissionChecker creates a checker over the given store and scope
// resolver.
func NewPermissionChecker(store *Store, resolver *scope.Resolver, logger *observability.Logger, opts ...CheckerOption) *PermissionChecker {
	pc := &PermissionChecker{
		store:    store,
		cache:    NoopCache{},
		resolver: resolver,
		policies: NewPolicyRegistry(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

// Cache exposes the checker's cache so grant-mutating collaborators (the
// membership manager, cascades) can invalidate it.
func (pc *PermissionChecker) Cache() PermissionCache {
	return pc.cache
}

// HasPermission checks one permission reference for the user.
func (pc *PermissionChecker) HasPermission(ctx context.Context, user Authorizable, ref PermissionRef) (bool, error) {
	if pc.bypass(user) {
		return true, nil
	}

	if obj := ref.Object(); obj != nil {
		// A resolved object carries its own team; the ambient scope does
		// not apply.
		allowed, err := pc.checkInTeam(ctx, user, obj.TeamID, obj.ID, obj.Name, obj.Guard)
		if err != nil {
			return false, err
		}
		pc.record(allowed, "object")
		return allowed, nil
	}

	teamID := pc.scopeTeam(ctx, user)
	allowed, err := pc.checkNamed(ctx, user, teamID, ref.Name(), ref.Guard())
	if err != nil {
		return false, err
	}
	pc.record(allowed, "name")
	return allowed, nil
}

// HasPermissionInTeam checks a named permission under an explicit team.
func (pc *PermissionChecker) HasPermissionInTeam(ctx context.Context, user Authorizable, teamID int64, name string) (bool, error) {
	if pc.bypass(user) {
		return true, nil
	}

	var allowed bool
	err := pc.resolver.WithScope(ctx, teamID, func(scoped context.Context) error {
		var err error
		allowed, err = pc.checkNamed(scoped, user, teamID, name, DefaultGuard)
		return err
	})
	if err != nil {
		return false, err
	}
	pc.record(allowed, "team")
	return allowed, nil
}

// HasAnyPermission evaluates a batch of permission names.
func (pc *PermissionChecker) HasAnyPermission(ctx context.Context, user Authorizable, names []string, requireAll bool) (bool, error) {
	if pc.bypass(user) {
		return true, nil
	}

	// Vacuous truth: no requirements means nothing to fail.
	if len(names) == 0 {
		return true, nil
	}

	teamID := pc.scopeTeam(ctx, user)
	for _, name := range names {
		allowed, err := pc.checkNamed(ctx, user, teamID, name, DefaultGuard)
		if err != nil {
			return false, err
		}
		if requireAll && !allowed {
			return false, nil
		}
		if !requireAll && allowed {
			return true, nil
		}
	}
	return requireAll, nil
}

// Can checks an ability, falling back to a registered policy when no
// stored permission matches.
func (pc *PermissionChecker) Can(ctx context.Context, user Authorizable, ability string, subject interface{}) (bool, error) {
	if pc.bypass(user) {
		return true, nil
	}

	teamID := pc.scopeTeam(ctx, user)
	allowed, err := pc.checkNamed(ctx, user, teamID, ability, DefaultGuard)
	if err != nil {
		return false, err
	}
	if allowed {
		pc.record(true, "name")
		return true, nil
	}

	if result, found := pc.policies.Check(ctx, ability, user, subject); found {
		if pc.metrics != nil {
			outcome := "denied"
			if result {
				outcome = "allowed"
			}
			pc.metrics.PolicyFallbacksTotal.WithLabelValues(ability, outcome).Inc()
		}
		return result, nil
	}

	pc.record(false, "name")
	return false, nil
}

// HasRole checks a named role in the active team scope.
func (pc *PermissionChecker) HasRole(ctx context.Context, user Authorizable, roleName string) (bool, error) {
	if pc.bypass(user) {
		return true, nil
	}

	teamID := pc.scopeTeam(ctx, user)
	return pc.store.UserHasRoleNamed(ctx, user.AuthID(), roleName, DefaultGuard, teamID)
}

// AssignRole grants a role in the active team scope. The role must exist
// in that exact team; a same-named role in another team never matches.
func (pc *PermissionChecker) AssignRole(ctx context.Context, user Authorizable, roleName string) error {
	return pc.AssignRoleInTeam(ctx, user, pc.scopeTeam(ctx, user), roleName)
}

// AssignRoleInTeam grants a role under an explicit team.
func (pc *PermissionChecker) AssignRoleInTeam(ctx context.Context, user Authorizable, teamID int64, roleName string) error {
	role, err := pc.store.GetRoleByName(ctx, roleName, DefaultGuard, teamID)
	if err != nil {
		return err
	}

	if err := pc.store.AssignRoleToUser(ctx, user.AuthID(), role.ID, teamID); err != nil {
		return fmt.Errorf("assigning role %q: %w", roleName, err)
	}

	pc.cache.InvalidateUser(ctx, user.AuthID())
	return nil
}

// RemoveRole revokes a role in the active team scope.
func (pc *PermissionChecker) RemoveRole(ctx context.Context, user Authorizable, roleName string) error {
	teamID := pc.scopeTeam(ctx, user)
	role, err := pc.store.GetRoleByName(ctx, roleName, DefaultGuard, teamID)
	if err != nil {
		return err
	}

	if err := pc.store.RemoveRoleFromUser(ctx, user.AuthID(), role.ID, teamID); err != nil {
		return fmt.Errorf("removing role %q: %w", roleName, err)
	}

	pc.cache.InvalidateUser(ctx, user.AuthID())
	return nil
}

// SyncRoles replaces the user's roles in the active team scope. All names
// must resolve in that team before anything is written.
func (pc *PermissionChecker) SyncRoles(ctx context.Context, user Authorizable, roleNames []string) error {
	teamID := pc.scopeTeam(ctx, user)

	roleIDs := make([]int64, 0, len(roleNames))
	for _, name := range roleNames {
		role, err := pc.store.GetRoleByName(ctx, name, DefaultGuard, teamID)
		if err != nil {
			return err
		}
		roleIDs = append(roleIDs, role.ID)
	}

	if err := pc.store.SyncUserRoles(ctx, user.AuthID(), teamID, roleIDs); err != nil {
		return fmt.Errorf("syncing roles: %w", err)
	}

	pc.cache.InvalidateUser(ctx, user.AuthID())
	return nil
}

// GetRolesInTeam lists the user's roles in one team, independent of the
// ambient scope.
func (pc *PermissionChecker) GetRolesInTeam(ctx context.Context, user Authorizable, teamID int64) ([]Role, error) {
	return pc.store.GetUserRoles(ctx, user.AuthID(), teamID)
}

// GetAllRoles lists the user's roles across every team.
func (pc *PermissionChecker) GetAllRoles(ctx context.Context, user Authorizable) ([]Role, error) {
	return pc.store.GetUserRolesAllTeams(ctx, user.AuthID())
}

// bypass is the super admin gate. It runs before every evaluation path.
func (pc *PermissionChecker) bypass(user Authorizable) bool {
	if user.IsSuperAdmin() {
		if pc.metrics != nil {
			pc.metrics.SuperAdminBypassTotal.Inc()
		}
		return true
	}
	return false
}

// scopeTeam returns the team scope for a check: the ambient scope if one is
// established, otherwise the user's current team, otherwise the default.
func (pc *PermissionChecker) scopeTeam(ctx context.Context, user Authorizable) int64 {
	if teamID, ok := pc.resolver.Current(ctx); ok {
		return teamID
	}
	return pc.resolver.ResolveDefault(user.CurrentTeam())
}

// checkNamed resolves (name, guard, teamID) and checks the grant. A name
// that does not exist in the team is an ordinary deny, not an error.
func (pc *PermissionChecker) checkNamed(ctx context.Context, user Authorizable, teamID int64, name, guard string) (bool, error) {
	key := CacheKey{TeamID: teamID, UserID: user.AuthID(), Name: name, Guard: guard}
	if allowed, ok := pc.cache.Get(ctx, key); ok {
		if pc.metrics != nil {
			pc.metrics.CacheHitsTotal.WithLabelValues(cacheBackendLabel(pc.cache)).Inc()
		}
		return allowed, nil
	}
	if pc.metrics != nil {
		pc.metrics.CacheMissesTotal.WithLabelValues(cacheBackendLabel(pc.cache)).Inc()
	}

	perm, err := pc.store.GetPermissionByName(ctx, name, guard, teamID)
	if apperr.IsNotFound(err) {
		pc.cache.Set(ctx, key, false)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	allowed, err := pc.store.UserHasPermission(ctx, user.AuthID(), perm.ID, teamID)
	if err != nil {
		return false, err
	}

	pc.cache.Set(ctx, key, allowed)
	return allowed, nil
}

// checkInTeam checks an already-resolved permission id against its team.
func (pc *PermissionChecker) checkInTeam(ctx context.Context, user Authorizable, teamID, permissionID int64, name, guard string) (bool, error) {
	key := CacheKey{TeamID: teamID, UserID: user.AuthID(), Name: name, Guard: guard}
	if allowed, ok := pc.cache.Get(ctx, key); ok {
		return allowed, nil
	}

	allowed, err := pc.store.UserHasPermission(ctx, user.AuthID(), permissionID, teamID)
	if err != nil {
		return false, err
	}

	pc.cache.Set(ctx, key, allowed)
	return allowed, nil
}

// record logs denials and counts check outcomes.
func (pc *PermissionChecker) record(allowed bool, source string) {
	if pc.metrics != nil {
		result := "denied"
		if allowed {
			result = "allowed"
		}
		pc.metrics.PermissionChecksTotal.WithLabelValues(result, source).Inc()
	}
	if !allowed && pc.logger != nil {
		pc.logger.Security().WithField("source", source).Debug("permission denied")
	}
}

func cacheBackendLabel(cache PermissionCache) string {
	switch cache.(type) {
	case *LRUCache:
		return "lru"
	case *RedisCache:
		return "redis"
	default:
		return "none"
	}
}
