package teams

import (
	"database/sql"
	"time"
)

// User represents an account. CurrentTeamID points at the team whose
// scope the user operates in by default; it is null only transiently,
// before first team attachment.
type User struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	CurrentTeamID *int64     `json:"current_team_id,omitempty"`
	SuperAdmin    bool       `json:"is_super_admin"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// AuthID returns the user's id for authorization checks.
func (u *User) AuthID() int64 { return u.ID }

// IsSuperAdmin reports whether every permission check bypasses for this
// user.
func (u *User) IsSuperAdmin() bool { return u.SuperAdmin }

// CurrentTeam returns the user's current team for scope fallback.
func (u *User) CurrentTeam() sql.NullInt64 {
	if u.CurrentTeamID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *u.CurrentTeamID, Valid: true}
}

// Team is a tenancy boundary. PersonalTeam marks the team auto-created
// for its owner at registration.
type Team struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	OwnerID      int64      `json:"owner_id"`
	PersonalTeam bool       `json:"personal_team"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Membership attaches a user to a team with a role label. The label is
// team-membership vocabulary (config.TeamsConfig.MemberRoles), distinct
// from rbac roles. One live row per (team_id, user_id).
type Membership struct {
	ID        int64      `json:"id"`
	TeamID    int64      `json:"team_id"`
	UserID    int64      `json:"user_id"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Member is a membership joined with its user row, for listings.
type Member struct {
	Membership
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Invitation is a pending offer to join a team, addressed by email. One
// live row per (team_id, email).
type Invitation struct {
	ID        int64      `json:"id"`
	TeamID    int64      `json:"team_id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Expired reports whether the invitation can no longer be accepted.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// CreateTeamRequest is the payload for team creation.
type CreateTeamRequest struct {
	Name         string `json:"name"`
	PersonalTeam bool   `json:"personal_team,omitempty"`
}

// UpdateTeamRequest is the payload for team updates.
type UpdateTeamRequest struct {
	Name *string `json:"name,omitempty"`
}

// AddMemberRequest is the payload for adding an existing user to a team.
type AddMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InviteMemberRequest is the payload for inviting by email.
type InviteMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UpdateMemberRequest is the payload for changing a member's role label.
type UpdateMemberRequest struct {
	Role string `json:"role"`
}
