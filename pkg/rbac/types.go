package rbac

import (
	"database/sql"
	"time"
)

// DefaultGuard is the guard tag applied when a caller does not specify one.
// Guards partition the catalog the same way team_id does, so the same name
// can exist under "web" and "api" independently.
const DefaultGuard = "web"

// Permission is a named grantable capability. Identity is the full
// (name, guard, team_id) triple: "article.edit" in team 3 and "article.edit"
// in team 7 are unrelated objects with independent assignment.
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Guard     string    `json:"guard"`
	TeamID    int64     `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a named bundle of permissions, scoped by team exactly like
// Permission. A role only ever bundles permissions from its own team.
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Guard     string    `json:"guard"`
	TeamID    int64     `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserRole is a role grant edge. TeamID records the scope the grant is
// effective in and always matches the role's own team.
type UserRole struct {
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	TeamID    int64     `json:"team_id"`
	GrantedAt time.Time `json:"granted_at"`
}

// UserPermission is a direct permission grant edge, bypassing roles.
type UserPermission struct {
	UserID       int64     `json:"user_id"`
	PermissionID int64     `json:"permission_id"`
	TeamID       int64     `json:"team_id"`
	GrantedAt    time.Time `json:"granted_at"`
}

// Authorizable is the view of a user the checker needs. The teams package
// implements it; defining it here keeps rbac free of a dependency on the
// identity store.
type Authorizable interface {
	AuthID() int64
	IsSuperAdmin() bool
	CurrentTeam() sql.NullInt64
}

// PermissionRef identifies a permission either by bare name (resolved
// against the active team scope) or by an already-loaded object (checked
// against that object's own team, no ambient scope involved).
type PermissionRef struct {
	name  string
	guard string
	obj   *Permission
}

// ByName references a permission by name under the default guard. The name
// is resolved as (name, guard, scope team) at check time, never as "first
// match by name anywhere".
func ByName(name string) PermissionRef {
	return PermissionRef{name: name, guard: DefaultGuard}
}

// ByNameGuard references a permission by name under an explicit guard.
func ByNameGuard(name, guard string) PermissionRef {
	return PermissionRef{name: name, guard: guard}
}

// ByObject references a resolved permission object directly.
func ByObject(p *Permission) PermissionRef {
	return PermissionRef{obj: p}
}

// Object returns the referenced permission object, or nil for a by-name ref.
func (r PermissionRef) Object() *Permission {
	return r.obj
}

// Name returns the referenced name. For a by-object ref this is the
// object's name.
func (r PermissionRef) Name() string {
	if r.obj != nil {
		return r.obj.Name
	}
	return r.name
}

// Guard returns the referenced guard tag.
func (r PermissionRef) Guard() string {
	if r.obj != nil {
		return r.obj.Guard
	}
	return r.guard
}
