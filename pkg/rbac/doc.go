// Package rbac provides team-scoped role and permission management.
//
// # Overview
//
// This package implements the authorization layer: named permissions and
// roles that exist per team, grant edges connecting users to them, and a
// checker that answers "may this user do X" against the active team
// scope. Identity is the triple (name, guard, team_id) for both
// permissions and roles, so two teams can each define "article.edit"
// without sharing anything.
//
// # Architecture
//
// The system consists of five components:
//
//  1. Catalog: Permission and Role rows, each pinned to one team
//  2. Grants: user_roles and user_permissions edges, keyed by team
//  3. Checker: scope-aware evaluation with super admin bypass
//  4. Cache: pluggable allow/deny memoization (LRU, Redis, or none)
//  5. Policies: per-ability callbacks consulted when no permission matches
//
// # Team Scope
//
// Every by-name operation resolves against exactly one team. The active
// team comes from the context (set by scope.Resolver.WithTeam, usually
// via HTTP middleware); absent that, the user's current team; absent
// that, the configured default team:
//
//	scoped := resolver.WithTeam(ctx, teamID)
//	allowed, err := checker.HasPermission(scoped, user, rbac.ByName("article.edit"))
//
// A grant in one team never answers a check in another. Passing a
// *Permission object instead of a name checks against the object's own
// team regardless of ambient scope:
//
//	allowed, err := checker.HasPermission(ctx, user, rbac.ByObject(perm))
//
// # Super Admin
//
// A user whose IsSuperAdmin reports true passes every check before any
// catalog lookup, cache read, or policy runs. Nothing is written to the
// cache for bypassed checks.
//
// # Checking Permissions
//
//	// Single permission in the active scope
//	allowed, err := checker.HasPermission(ctx, user, rbac.ByName("article.edit"))
//
//	// Explicit team, ambient scope untouched
//	allowed, err := checker.HasPermissionInTeam(ctx, user, teamID, "article.edit")
//
//	// Any-of / all-of; an empty list is vacuously true
//	allowed, err := checker.HasAnyPermission(ctx, user, names, false)
//	allowed, err := checker.HasAnyPermission(ctx, user, names, true)
//
//	// Ability check with policy fallback
//	allowed, err := checker.Can(ctx, user, "article.update", article)
//
// An unknown permission name is a deny, not an error. Role mutations are
// stricter: assigning a role name that does not exist in the scope team
// fails with a not-found error rather than silently matching another
// team's role.
//
// # Roles
//
//	err := checker.AssignRole(ctx, user, "editor")
//	err := checker.SyncRoles(ctx, user, []string{"editor", "viewer"})
//	roles, err := checker.GetRolesInTeam(ctx, user, teamID)
//
// SyncRoles replaces the user's roles in the scope team atomically and
// leaves grants in every other team untouched.
//
// # Caching
//
// Check results are cached per (team, user, name, guard). Grant
// mutations invalidate the affected user across all teams; membership
// cascades invalidate whole teams. Backends:
//
//	rbac.NewLRUCache(4096, 5*time.Minute)
//	rbac.NewRedisCache(client, 5*time.Minute)
//	rbac.NoopCache{}
//
// # Wiring
//
// Manager assembles the store, cache, checker and HTTP middleware from
// configuration and runs schema migrations plus the admin catalog seed:
//
//	manager, err := rbac.NewManager(db, resolver, logger, metrics, cfg.Cache, redisClient)
//	if err != nil {
//		return err
//	}
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//	router.Use(manager.Middleware().RequirePermission("team.view"))
package rbac
