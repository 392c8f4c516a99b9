package teams

import (
	"context"
	"fmt"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/config"
)

// QuotaExceededError reports a limit violation. Zero limits are never
// enforced.
type QuotaExceededError struct {
	Resource string
	Current  int
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (%d/%d)", e.Resource, e.Current, e.Limit)
}

// IsQuotaExceeded checks if an error is a quota exceeded error.
func IsQuotaExceeded(err error) bool {
	_, ok := err.(*QuotaExceededError)
	return ok
}

// QuotaUsage is a point-in-time snapshot served by the introspection
// endpoints.
type QuotaUsage struct {
	TeamsOwned        int `json:"teams_owned"`
	MaxTeamsPerUser   int `json:"max_teams_per_user"`
	MemberCount       int `json:"member_count,omitempty"`
	MaxMembersPerTeam int `json:"max_members_per_team"`
}

// Quotas enforces the configured team and membership limits. Super
// admins are exempt from every check.
type Quotas struct {
	store *Store
	cfg   config.TeamsConfig
}

// NewQuotas creates a quota checker.
func NewQuotas(store *Store, cfg config.TeamsConfig) *Quotas {
	return &Quotas{store: store, cfg: cfg}
}

// CheckTeamQuota checks whether the user may create another team.
func (q *Quotas) CheckTeamQuota(ctx context.Context, actor *User) error {
	if q.cfg.MaxTeamsPerUser <= 0 || actor.IsSuperAdmin() {
		return nil
	}
	owned, err := q.store.CountOwnedTeams(ctx, actor.ID)
	if err != nil {
		return err
	}
	if owned >= q.cfg.MaxTeamsPerUser {
		return &QuotaExceededError{Resource: "teams", Current: owned, Limit: q.cfg.MaxTeamsPerUser}
	}
	return nil
}

// CheckMemberQuota checks whether the team can take another member. The
// reserved teams are exempt: every user must always be attachable to
// the default team.
func (q *Quotas) CheckMemberQuota(ctx context.Context, teamID int64) error {
	if q.cfg.MaxMembersPerTeam <= 0 || q.cfg.IsReservedTeam(teamID) {
		return nil
	}
	count, err := q.store.CountTeamMembers(ctx, teamID)
	if err != nil {
		return err
	}
	if count >= q.cfg.MaxMembersPerTeam {
		return &QuotaExceededError{Resource: "members", Current: count, Limit: q.cfg.MaxMembersPerTeam}
	}
	return nil
}

// Usage reports the actor's quota consumption. teamID is optional; when
// non-zero the snapshot includes that team's member count.
func (q *Quotas) Usage(ctx context.Context, actor *User, teamID int64) (*QuotaUsage, error) {
	owned, err := q.store.CountOwnedTeams(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	usage := &QuotaUsage{
		TeamsOwned:        owned,
		MaxTeamsPerUser:   q.cfg.MaxTeamsPerUser,
		MaxMembersPerTeam: q.cfg.MaxMembersPerTeam,
	}
	if teamID != 0 {
		count, err := q.store.CountTeamMembers(ctx, teamID)
		if err != nil {
			return nil, err
		}
		usage.MemberCount = count
	}
	return usage, nil
}

// asValidation converts a quota violation into the validation failure
// surfaced to clients; other errors pass through.
func asValidation(field string, err error) error {
	if IsQuotaExceeded(err) {
		return apperr.Validation(field, err.Error())
	}
	return err
}
