package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/teamgate/pkg/apperr"
)

// Store handles RBAC data persistence. Every query that resolves a
// permission or role by name pins the team_id; there is no cross-team
// name lookup path.
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Execer is the subset of *sql.DB / *sql.Tx the store needs for grant-edge
// cleanup. Cascade transactions owned by the teams package pass their *sql.Tx
// here so grant removal commits or rolls back with the rest of the cascade.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreatePermission creates a permission in a team's catalog
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	if p.Guard == "" {
		p.Guard = DefaultGuard
	}

	if existing, err := s.GetPermissionByName(ctx, p.Name, p.Guard, p.TeamID); err == nil && existing != nil {
		return apperr.Conflict(fmt.Sprintf(
			"permission %q (guard %q) already exists in team %d", p.Name, p.Guard, p.TeamID,
		))
	}

	query := `
		INSERT INTO permissions (name, guard, team_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query, p.Name, p.Guard, p.TeamID, now, now).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, permissionID int64) (*Permission, error) {
	query := `
		SELECT id, name, guard, team_id, created_at, updated_at
		FROM permissions
		WHERE id = $1
	`

	var p Permission
	err := s.db.QueryRowContext(ctx, query, permissionID).Scan(
		&p.ID, &p.Name, &p.Guard, &p.TeamID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("permission", permissionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	return &p, nil
}

// GetPermissionByName resolves (name, guard, team_id). A permission of the
// same name in another team is a different object and never matches.
func (s *Store) GetPermissionByName(ctx context.Context, name, guard string, teamID int64) (*Permission, error) {
	query := `
		SELECT id, name, guard, team_id, created_at, updated_at
		FROM permissions
		WHERE name = $1 AND guard = $2 AND team_id = $3
	`

	var p Permission
	err := s.db.QueryRowContext(ctx, query, name, guard, teamID).Scan(
		&p.ID, &p.Name, &p.Guard, &p.TeamID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("permission", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	return &p, nil
}

// ListPermissions lists a team's permission catalog
func (s *Store) ListPermissions(ctx context.Context, teamID int64) ([]Permission, error) {
	query := `
		SELECT id, name, guard, team_id, created_at, updated_at
		FROM permissions
		WHERE team_id = $1
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Guard, &p.TeamID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}

	return permissions, rows.Err()
}

// DeletePermission removes a permission and its grant edges
func (s *Store) DeletePermission(ctx context.Context, permissionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_permissions WHERE permission_id = $1`, permissionID); err != nil {
		return fmt.Errorf("failed to clear permission grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_has_permissions WHERE permission_id = $1`, permissionID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, permissionID); err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	return tx.Commit()
}

// CreateRole creates a role in a team's catalog
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.Guard == "" {
		role.Guard = DefaultGuard
	}

	if existing, err := s.GetRoleByName(ctx, role.Name, role.Guard, role.TeamID); err == nil && existing != nil {
		return apperr.Conflict(fmt.Sprintf(
			"role %q (guard %q) already exists in team %d", role.Name, role.Guard, role.TeamID,
		))
	}

	query := `
		INSERT INTO roles (name, guard, team_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query, role.Name, role.Guard, role.TeamID, now, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, name, guard, team_id, created_at, updated_at
		FROM roles
		WHERE id = $1
	`

	var role Role
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID, &role.Name, &role.Guard, &role.TeamID, &role.CreatedAt, &role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("role", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return &role, nil
}

// GetRoleByName resolves (name, guard, team_id), same discipline as
// GetPermissionByName.
func (s *Store) GetRoleByName(ctx context.Context, name, guard string, teamID int64) (*Role, error) {
	query := `
		SELECT id, name, guard, team_id, created_at, updated_at
		FROM roles
		WHERE name = $1 AND guard = $2 AND team_id = $3
	`

	var role Role
	err := s.db.QueryRowContext(ctx, query, name, guard, teamID).Scan(
		&role.ID, &role.Name, &role.Guard, &role.TeamID, &role.CreatedAt, &role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("role", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return &role, nil
}

// ListRoles lists a team's roles
func (s *Store) ListRoles(ctx context.Context, teamID int64) ([]Role, error) {
	query := `
		SELECT id, name, guard, team_id, created_at, updated_at
		FROM roles
		WHERE team_id = $1
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// DeleteRole removes a role and its grant edges
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_has_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	return tx.Commit()
}

// GivePermissionToRole attaches a permission to a role. Both must live in
// the same team; a cross-team attachment is a modeling error, not a
// supported case.
func (s *Store) GivePermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	perm, err := s.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	if role.TeamID != perm.TeamID {
		return apperr.Conflict(fmt.Sprintf(
			"permission %q belongs to team %d, role %q to team %d",
			perm.Name, perm.TeamID, role.Name, role.TeamID,
		))
	}

	query := `
		INSERT INTO role_has_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to give permission to role: %w", err)
	}

	return nil
}

// RevokePermissionFromRole detaches a permission from a role
func (s *Store) RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	query := `DELETE FROM role_has_permissions WHERE role_id = $1 AND permission_id = $2`
	if _, err := s.db.ExecContext(ctx, query, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to revoke permission from role: %w", err)
	}
	return nil
}

// GetRolePermissions lists the permissions attached to a role
func (s *Store) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.guard, p.team_id, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_has_permissions rhp ON p.id = rhp.permission_id
		WHERE rhp.role_id = $1
		ORDER BY p.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Guard, &p.TeamID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}

	return permissions, rows.Err()
}

// AssignRoleToUser grants a role to a user in the role's own team
func (s *Store) AssignRoleToUser(ctx context.Context, userID, roleID, teamID int64) error {
	query := `
		INSERT INTO user_roles (user_id, role_id, team_id, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id, team_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, roleID, teamID, time.Now()); err != nil {
		return fmt.Errorf("failed to assign role to user: %w", err)
	}
	return nil
}

// RemoveRoleFromUser revokes a role grant
func (s *Store) RemoveRoleFromUser(ctx context.Context, userID, roleID, teamID int64) error {
	query := `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2 AND team_id = $3`
	if _, err := s.db.ExecContext(ctx, query, userID, roleID, teamID); err != nil {
		return fmt.Errorf("failed to remove role from user: %w", err)
	}
	return nil
}

// SyncUserRoles replaces a user's role grants within one team atomically
func (s *Store) SyncUserRoles(ctx context.Context, userID, teamID int64, roleIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND team_id = $2`,
		userID, teamID,
	); err != nil {
		return fmt.Errorf("failed to clear user roles: %w", err)
	}

	now := time.Now()
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id, team_id, granted_at) VALUES ($1, $2, $3, $4)`,
			userID, roleID, teamID, now,
		); err != nil {
			return fmt.Errorf("failed to assign role %d: %w", roleID, err)
		}
	}

	return tx.Commit()
}

// GrantPermissionToUser grants a permission directly, bypassing roles
func (s *Store) GrantPermissionToUser(ctx context.Context, userID, permissionID, teamID int64) error {
	query := `
		INSERT INTO user_permissions (user_id, permission_id, team_id, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, permission_id, team_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, permissionID, teamID, time.Now()); err != nil {
		return fmt.Errorf("failed to grant permission to user: %w", err)
	}
	return nil
}

// RevokePermissionFromUser removes a direct permission grant
func (s *Store) RevokePermissionFromUser(ctx context.Context, userID, permissionID, teamID int64) error {
	query := `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2 AND team_id = $3`
	if _, err := s.db.ExecContext(ctx, query, userID, permissionID, teamID); err != nil {
		return fmt.Errorf("failed to revoke permission from user: %w", err)
	}
	return nil
}

// GetUserRoles lists the roles a user holds in one team
func (s *Store) GetUserRoles(ctx context.Context, userID, teamID int64) ([]Role, error) {
	query := `
		SELECT r.id, r.name, r.guard, r.team_id, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.team_id = $2
		ORDER BY r.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// GetUserRolesAllTeams lists every role the user holds in any team. Used
// for introspection only; never consulted by permission checks.
func (s *Store) GetUserRolesAllTeams(ctx context.Context, userID int64) ([]Role, error) {
	query := `
		SELECT r.id, r.name, r.guard, r.team_id, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.team_id ASC, r.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// UserHasRole reports whether the user holds the role in its team
func (s *Store) UserHasRole(ctx context.Context, userID, roleID, teamID int64) (bool, error) {
	query := `SELECT COUNT(1) FROM user_roles WHERE user_id = $1 AND role_id = $2 AND team_id = $3`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, roleID, teamID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check user role: %w", err)
	}
	return count > 0, nil
}

// UserHasPermission reports whether the user holds the permission in its
// team, either directly or through a role.
func (s *Store) UserHasPermission(ctx context.Context, userID, permissionID, teamID int64) (bool, error) {
	direct := `
		SELECT COUNT(1)
		FROM user_permissions
		WHERE user_id = $1 AND permission_id = $2 AND team_id = $3
	`

	var count int
	if err := s.db.QueryRowContext(ctx, direct, userID, permissionID, teamID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check direct permission: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	viaRole := `
		SELECT COUNT(1)
		FROM user_roles ur
		JOIN role_has_permissions rhp ON ur.role_id = rhp.role_id
		WHERE ur.user_id = $1 AND rhp.permission_id = $2 AND ur.team_id = $3
	`

	if err := s.db.QueryRowContext(ctx, viaRole, userID, permissionID, teamID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check role permission: %w", err)
	}
	return count > 0, nil
}

// UserHasRoleNamed reports whether the user holds a role of this name in the
// given team. Name resolution stays pinned to the team.
func (s *Store) UserHasRoleNamed(ctx context.Context, userID int64, name, guard string, teamID int64) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM user_roles ur
		JOIN roles r ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND r.name = $2 AND r.guard = $3 AND ur.team_id = $4
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, name, guard, teamID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check user role: %w", err)
	}
	return count > 0, nil
}

// ClearTeamGrants hard-deletes every grant edge scoped to a team. Called
// from cascade transactions; the caller owns tx and its commit/rollback.
// Role and permission catalog rows are retained, they carry no authority
// without edges.
func (s *Store) ClearTeamGrants(ctx context.Context, tx Execer, teamID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE team_id = $1`, teamID); err != nil {
		return fmt.Errorf("failed to clear team role grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_permissions WHERE team_id = $1`, teamID); err != nil {
		return fmt.Errorf("failed to clear team permission grants: %w", err)
	}
	return nil
}

// ClearUserGrants hard-deletes every grant edge held by a user, across all
// teams. Called from user hard-delete cascades.
func (s *Store) ClearUserGrants(ctx context.Context, tx Execer, userID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear user role grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear user permission grants: %w", err)
	}
	return nil
}

// ClearUserTeamGrants hard-deletes a user's grant edges within one team.
// Used when a member is removed from a team.
func (s *Store) ClearUserTeamGrants(ctx context.Context, tx Execer, userID, teamID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND team_id = $2`, userID, teamID); err != nil {
		return fmt.Errorf("failed to clear user role grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND team_id = $2`, userID, teamID); err != nil {
		return fmt.Errorf("failed to clear user permission grants: %w", err)
	}
	return nil
}

// DeleteTeamCatalog hard-deletes a team's roles and permissions along
// with every edge referencing them. Only team hard-delete cascades call
// this; soft deletes keep the catalog for restore.
func (s *Store) DeleteTeamCatalog(ctx context.Context, tx Execer, teamID int64) error {
	if err := s.ClearTeamGrants(ctx, tx, teamID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM role_has_permissions WHERE role_id IN (SELECT id FROM roles WHERE team_id = $1)
	`, teamID); err != nil {
		return fmt.Errorf("failed to clear role permission edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE team_id = $1`, teamID); err != nil {
		return fmt.Errorf("failed to delete team roles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE team_id = $1`, teamID); err != nil {
		return fmt.Errorf("failed to delete team permissions: %w", err)
	}
	return nil
}

// scanRoles scans role rows
func scanRoles(rows *sql.Rows) ([]Role, error) {
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Guard, &role.TeamID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
