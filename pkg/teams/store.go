package teams

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/teamgate/pkg/apperr"
)

// Execer is the subset of *sql.DB and *sql.Tx the store writes through,
// so membership mutations can participate in caller-owned transactions.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists users, teams, memberships and invitations.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Begin starts a transaction for multi-step operations.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Infrastructure("begin transaction", err)
	}
	return tx, nil
}

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO users (name, email, current_team_id, is_super_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, user.Name, user.Email, user.CurrentTeamID,
		user.SuperAdmin, now, now).Scan(&user.ID)
	if err != nil {
		return apperr.Infrastructure("create user", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser retrieves a live user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = $1 AND deleted_at IS NULL", id)
}

// GetUserByEmail retrieves a live user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email = $1 AND deleted_at IS NULL", email)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := fmt.Sprintf(`
		SELECT id, name, email, current_team_id, is_super_admin, created_at, updated_at, deleted_at
		FROM users
		WHERE %s
	`, where)
	user := &User{}
	var currentTeam sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Name, &user.Email, &currentTeam, &user.SuperAdmin,
		&user.CreatedAt, &user.UpdatedAt, &user.DeletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user", arg)
	}
	if err != nil {
		return nil, apperr.Infrastructure("get user", err)
	}
	if currentTeam.Valid {
		user.CurrentTeamID = &currentTeam.Int64
	}
	return user, nil
}

// SetCurrentTeam repoints the user's current team. A nil teamID clears
// it.
func (s *Store) SetCurrentTeam(ctx context.Context, exec Execer, userID int64, teamID *int64) error {
	if exec == nil {
		exec = s.db
	}
	result, err := exec.ExecContext(ctx,
		`UPDATE users SET current_team_id = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		teamID, time.Now().UTC(), userID)
	if err != nil {
		return apperr.Infrastructure("set current team", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Infrastructure("set current team", err)
	}
	if affected == 0 {
		return apperr.NotFound("user", userID)
	}
	return nil
}

// CreateTeam inserts a team row.
func (s *Store) CreateTeam(ctx context.Context, team *Team) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO teams (name, owner_id, personal_team, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, team.Name, team.OwnerID, team.PersonalTeam, now, now).
		Scan(&team.ID)
	if err != nil {
		return apperr.Infrastructure("create team", err)
	}
	team.CreatedAt = now
	team.UpdatedAt = now
	return nil
}

// GetTeam retrieves a live team by id.
func (s *Store) GetTeam(ctx context.Context, id int64) (*Team, error) {
	query := `
		SELECT id, name, owner_id, personal_team, created_at, updated_at, deleted_at
		FROM teams
		WHERE id = $1 AND deleted_at IS NULL
	`
	team := &Team{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&team.ID, &team.Name, &team.OwnerID, &team.PersonalTeam,
		&team.CreatedAt, &team.UpdatedAt, &team.DeletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("team", id)
	}
	if err != nil {
		return nil, apperr.Infrastructure("get team", err)
	}
	return team, nil
}

// UpdateTeam renames a team.
func (s *Store) UpdateTeam(ctx context.Context, id int64, updates *UpdateTeamRequest) error {
	if updates.Name == nil {
		return nil
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE teams SET name = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		*updates.Name, time.Now().UTC(), id)
	if err != nil {
		return apperr.Infrastructure("update team", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Infrastructure("update team", err)
	}
	if affected == 0 {
		return apperr.NotFound("team", id)
	}
	return nil
}

// ListUserTeams lists the live teams the user is a member of.
func (s *Store) ListUserTeams(ctx context.Context, userID int64) ([]*Team, error) {
	query := `
		SELECT t.id, t.name, t.owner_id, t.personal_team, t.created_at, t.updated_at, t.deleted_at
		FROM teams t
		JOIN team_user tu ON t.id = tu.team_id
		WHERE tu.user_id = $1 AND tu.deleted_at IS NULL AND t.deleted_at IS NULL
		ORDER BY t.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperr.Infrastructure("list user teams", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		team := &Team{}
		if err := rows.Scan(
			&team.ID, &team.Name, &team.OwnerID, &team.PersonalTeam,
			&team.CreatedAt, &team.UpdatedAt, &team.DeletedAt,
		); err != nil {
			return nil, apperr.Infrastructure("scan team", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// CountUserTeams counts the user's live memberships.
func (s *Store) CountUserTeams(ctx context.Context, exec Execer, userID int64) (int, error) {
	if exec == nil {
		exec = s.db
	}
	var count int
	err := exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_user WHERE user_id = $1 AND deleted_at IS NULL`,
		userID).Scan(&count)
	if err != nil {
		return 0, apperr.Infrastructure("count user teams", err)
	}
	return count, nil
}

// CountOwnedTeams counts the live teams the user owns.
func (s *Store) CountOwnedTeams(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM teams WHERE owner_id = $1 AND deleted_at IS NULL`,
		userID).Scan(&count)
	if err != nil {
		return 0, apperr.Infrastructure("count owned teams", err)
	}
	return count, nil
}

// CountTeamMembers counts the live memberships of a team.
func (s *Store) CountTeamMembers(ctx context.Context, teamID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_user WHERE team_id = $1 AND deleted_at IS NULL`,
		teamID).Scan(&count)
	if err != nil {
		return 0, apperr.Infrastructure("count team members", err)
	}
	return count, nil
}

// IsMember reports whether the user has a live membership in the team.
func (s *Store) IsMember(ctx context.Context, teamID, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_user WHERE team_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		teamID, userID).Scan(&count)
	if err != nil {
		return false, apperr.Infrastructure("check membership", err)
	}
	return count > 0, nil
}

// GetMembership retrieves the live membership row for (team, user).
func (s *Store) GetMembership(ctx context.Context, teamID, userID int64) (*Membership, error) {
	query := `
		SELECT id, team_id, user_id, role, created_at, updated_at, deleted_at
		FROM team_user
		WHERE team_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, query, teamID, userID).Scan(
		&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("membership", fmt.Sprintf("team %d user %d", teamID, userID))
	}
	if err != nil {
		return nil, apperr.Infrastructure("get membership", err)
	}
	return m, nil
}

// ListMembers lists live members of a team joined with their user rows.
func (s *Store) ListMembers(ctx context.Context, teamID int64) ([]*Member, error) {
	query := `
		SELECT tu.id, tu.team_id, tu.user_id, tu.role, tu.created_at, tu.updated_at,
		       u.name, u.email
		FROM team_user tu
		JOIN users u ON u.id = tu.user_id
		WHERE tu.team_id = $1 AND tu.deleted_at IS NULL AND u.deleted_at IS NULL
		ORDER BY tu.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, apperr.Infrastructure("list members", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(
			&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt,
			&m.Name, &m.Email,
		); err != nil {
			return nil, apperr.Infrastructure("scan member", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AttachMember inserts a live membership, restoring a soft-deleted row
// for the same (team, user) if one exists.
func (s *Store) AttachMember(ctx context.Context, exec Execer, teamID, userID int64, role string) error {
	if exec == nil {
		exec = s.db
	}
	now := time.Now().UTC()

	result, err := exec.ExecContext(ctx, `
		UPDATE team_user SET role = $1, deleted_at = NULL, updated_at = $2
		WHERE team_id = $3 AND user_id = $4 AND deleted_at IS NOT NULL
	`, role, now, teamID, userID)
	if err != nil {
		return apperr.Infrastructure("restore membership", err)
	}
	restored, err := result.RowsAffected()
	if err != nil {
		return apperr.Infrastructure("restore membership", err)
	}
	if restored > 0 {
		return nil
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO team_user (team_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, teamID, userID, role, now, now)
	if err != nil {
		return apperr.Infrastructure("attach member", err)
	}
	return nil
}

// DetachMember soft-deletes the membership for (team, user).
func (s *Store) DetachMember(ctx context.Context, exec Execer, teamID, userID int64) error {
	if exec == nil {
		exec = s.db
	}
	now := time.Now().UTC()
	result, err := exec.ExecContext(ctx, `
		UPDATE team_user SET deleted_at = $1, updated_at = $1
		WHERE team_id = $2 AND user_id = $3 AND deleted_at IS NULL
	`, now, teamID, userID)
	if err != nil {
		return apperr.Infrastructure("detach member", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Infrastructure("detach member", err)
	}
	if affected == 0 {
		return apperr.NotFound("membership", fmt.Sprintf("team %d user %d", teamID, userID))
	}
	return nil
}

// DetachMemberExcept soft-deletes every live membership of the user
// except the named team. Used by the default-team exclusivity rules.
func (s *Store) DetachMemberExcept(ctx context.Context, exec Execer, userID, keepTeamID int64) error {
	if exec == nil {
		exec = s.db
	}
	now := time.Now().UTC()
	_, err := exec.ExecContext(ctx, `
		UPDATE team_user SET deleted_at = $1, updated_at = $1
		WHERE user_id = $2 AND team_id <> $3 AND deleted_at IS NULL
	`, now, userID, keepTeamID)
	if err != nil {
		return apperr.Infrastructure("detach member elsewhere", err)
	}
	return nil
}

// ListUserTeamIDs returns the ids of teams the user is live in, through
// the given Execer so it can observe uncommitted rows inside a tx.
func (s *Store) ListUserTeamIDs(ctx context.Context, exec Execer, userID int64) ([]int64, error) {
	if exec == nil {
		exec = s.db
	}
	rows, err := exec.QueryContext(ctx,
		`SELECT team_id FROM team_user WHERE user_id = $1 AND deleted_at IS NULL ORDER BY team_id`,
		userID)
	if err != nil {
		return nil, apperr.Infrastructure("list user team ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Infrastructure("scan team id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateMembershipRole relabels a live membership.
func (s *Store) UpdateMembershipRole(ctx context.Context, teamID, userID int64, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE team_user SET role = $1, updated_at = $2
		WHERE team_id = $3 AND user_id = $4 AND deleted_at IS NULL
	`, role, time.Now().UTC(), teamID, userID)
	if err != nil {
		return apperr.Infrastructure("update member role", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Infrastructure("update member role", err)
	}
	if affected == 0 {
		return apperr.NotFound("membership", fmt.Sprintf("team %d user %d", teamID, userID))
	}
	return nil
}

// CreateInvitation inserts a live invitation row.
func (s *Store) CreateInvitation(ctx context.Context, exec Execer, inv *Invitation) error {
	if exec == nil {
		exec = s.db
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO team_invitations (team_id, email, role, token, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := exec.QueryRowContext(ctx, query, inv.TeamID, inv.Email, inv.Role, inv.Token,
		inv.ExpiresAt, now, now).Scan(&inv.ID)
	if err != nil {
		return apperr.Infrastructure("create invitation", err)
	}
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return nil
}

// GetLiveInvitation retrieves the live invitation for (team, email).
func (s *Store) GetLiveInvitation(ctx context.Context, teamID int64, email string) (*Invitation, error) {
	return s.getInvitation(ctx, "team_id = $1 AND email = $2 AND deleted_at IS NULL", teamID, email)
}

// GetInvitationByToken retrieves a live invitation by its token.
func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	return s.getInvitation(ctx, "token = $1 AND deleted_at IS NULL", token)
}

func (s *Store) getInvitation(ctx context.Context, where string, args ...interface{}) (*Invitation, error) {
	query := fmt.Sprintf(`
		SELECT id, team_id, email, role, token, expires_at, created_at, updated_at, deleted_at
		FROM team_invitations
		WHERE %s
	`, where)
	inv := &Invitation{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&inv.ID, &inv.TeamID, &inv.Email, &inv.Role, &inv.Token, &inv.ExpiresAt,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.DeletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("invitation", args[0])
	}
	if err != nil {
		return nil, apperr.Infrastructure("get invitation", err)
	}
	return inv, nil
}

// ListInvitations lists live invitations for a team.
func (s *Store) ListInvitations(ctx context.Context, teamID int64) ([]*Invitation, error) {
	query := `
		SELECT id, team_id, email, role, token, expires_at, created_at, updated_at, deleted_at
		FROM team_invitations
		WHERE team_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, apperr.Infrastructure("list invitations", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv := &Invitation{}
		if err := rows.Scan(
			&inv.ID, &inv.TeamID, &inv.Email, &inv.Role, &inv.Token, &inv.ExpiresAt,
			&inv.CreatedAt, &inv.UpdatedAt, &inv.DeletedAt,
		); err != nil {
			return nil, apperr.Infrastructure("scan invitation", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// DeleteInvitation soft-deletes a live invitation.
func (s *Store) DeleteInvitation(ctx context.Context, exec Execer, id int64) error {
	if exec == nil {
		exec = s.db
	}
	now := time.Now().UTC()
	result, err := exec.ExecContext(ctx, `
		UPDATE team_invitations SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL
	`, now, id)
	if err != nil {
		return apperr.Infrastructure("delete invitation", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Infrastructure("delete invitation", err)
	}
	if affected == 0 {
		return apperr.NotFound("invitation", id)
	}
	return nil
}

// DeleteExpiredInvitations hard-deletes invitations past their expiry.
// Returns the number removed; run periodically by the cron cleanup job.
func (s *Store) DeleteExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM team_invitations WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, apperr.Infrastructure("delete expired invitations", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperr.Infrastructure("delete expired invitations", err)
	}
	return affected, nil
}
