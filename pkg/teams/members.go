package teams

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/hooks"
	"github.com/platinummonkey/teamgate/pkg/mailer"
	"github.com/platinummonkey/teamgate/pkg/observability"
	"github.com/platinummonkey/teamgate/pkg/rbac"
)

// Abilities consulted by the membership operations, after the owner
// gate. RegisterMembershipPolicies binds them to team ownership.
const (
	AbilityAddMember    = "team-members.add"
	AbilityRemoveMember = "team-members.remove"
	AbilityInviteMember = "team-members.invite"
	AbilityUpdateMember = "team-members.update"
)

// RegisterMembershipPolicies registers ownership policies for the
// membership abilities: an actor may perform them on teams they own.
func RegisterMembershipPolicies(registry *rbac.PolicyRegistry) {
	owns := func(_ context.Context, actor rbac.Authorizable, subject interface{}) bool {
		team, ok := subject.(*Team)
		return ok && team.OwnerID == actor.AuthID()
	}
	for _, ability := range []string{AbilityAddMember, AbilityRemoveMember, AbilityInviteMember, AbilityUpdateMember} {
		registry.Register(ability, owns)
	}
}

// Members implements the membership lifecycle: adding, removing,
// relabeling and inviting team members, with the reserved default team's
// exclusivity rules enforced inside single transactions.
type Members struct {
	store   *Store
	grants  *rbac.Store
	checker rbac.Checker
	cache   rbac.PermissionCache
	cfg     config.TeamsConfig
	bus     *hooks.Bus
	quotas  *Quotas
	mail    mailer.Mailer
	mailLog *logrus.Logger
	logger  *observability.Logger
	metrics *observability.Metrics
}

// MembersOption configures a Members service.
type MembersOption func(*Members)

// WithMembersMetrics attaches metrics.
func WithMembersMetrics(metrics *observability.Metrics) MembersOption {
	return func(m *Members) {
		m.metrics = metrics
	}
}

// WithMailer sets the invitation mailer. Default is a LogMailer.
func WithMailer(mail mailer.Mailer, log *logrus.Logger) MembersOption {
	return func(m *Members) {
		m.mail = mail
		m.mailLog = log
	}
}

// NewMembers creates the membership service. cache may be nil when no
// permission cache is wired.
func NewMembers(store *Store, grants *rbac.Store, checker rbac.Checker, cache rbac.PermissionCache, cfg config.TeamsConfig, bus *hooks.Bus, logger *observability.Logger, opts ...MembersOption) *Members {
	m := &Members{
		store:   store,
		grants:  grants,
		checker: checker,
		cache:   cache,
		cfg:     cfg,
		bus:     bus,
		quotas:  NewQuotas(store, cfg),
		mail:    mailer.NewLogMailer(nil),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddMember attaches the user registered under email to the team.
// Preconditions run in order: owner gate, ability check, target lookup,
// role vocabulary, duplicate membership, default-team confinement, then
// the adding-member hook. The attach and the exclusivity detachments
// share one transaction.
func (m *Members) AddMember(ctx context.Context, actor *User, team *Team, email, role string) error {
	if err := m.ownerGate(ctx, actor, team, "add"); err != nil {
		return err
	}
	if err := m.abilityGate(ctx, actor, team, AbilityAddMember); err != nil {
		return err
	}

	target, err := m.store.GetUserByEmail(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.Validation("email", "We were unable to find a registered user with this email address.")
		}
		return m.infraFailure(err, "add member", team.ID)
	}

	if !m.cfg.IsAllowedMemberRole(role) {
		return apperr.Validation("role", "The role must be a valid role.")
	}

	member, err := m.store.IsMember(ctx, team.ID, target.ID)
	if err != nil {
		return m.infraFailure(err, "add member", team.ID)
	}
	if member {
		return apperr.Validation("email", "This user already belongs to the team.")
	}

	if err := m.checkDefaultConfinement(ctx, actor, target); err != nil {
		return err
	}
	if err := m.quotas.CheckMemberQuota(ctx, team.ID); err != nil {
		return asValidation("email", err)
	}

	event := hooks.Event{
		Name: hooks.EventAddingMember, TeamID: team.ID,
		ActorID: actor.ID, TargetID: target.ID, Email: email, Role: role,
	}
	if err := m.bus.FireBefore(ctx, event); err != nil {
		m.recordMembership("add", "rejected")
		return apperr.Validation("email", err.Error())
	}

	if err := m.attachWithExclusivity(ctx, team.ID, target, role); err != nil {
		return m.infraFailure(err, "add member", team.ID)
	}

	m.invalidateUser(ctx, target.ID)
	event.Name = hooks.EventMemberAdded
	m.bus.FireAfter(ctx, event)
	m.recordMembership("add", "success")
	return nil
}

// RemoveMember detaches the target from the team and clears their grant
// edges there, in one transaction. The owner cannot be removed, and a
// non-owner cannot remove themselves. A target whose only team this is
// falls back to the default team.
func (m *Members) RemoveMember(ctx context.Context, actor *User, team *Team, target *User) error {
	if err := m.ownerGate(ctx, actor, team, "remove"); err != nil {
		return err
	}
	if err := m.abilityGate(ctx, actor, team, AbilityRemoveMember); err != nil {
		return err
	}

	if target.ID == team.OwnerID {
		return apperr.Validation("team", "You may not remove the team owner.")
	}

	if _, err := m.store.GetMembership(ctx, team.ID, target.ID); err != nil {
		if apperr.IsNotFound(err) {
			return err
		}
		return m.infraFailure(err, "remove member", team.ID)
	}

	event := hooks.Event{
		Name: hooks.EventRemovingMember, TeamID: team.ID,
		ActorID: actor.ID, TargetID: target.ID,
	}
	if err := m.bus.FireBefore(ctx, event); err != nil {
		m.recordMembership("remove", "rejected")
		return apperr.Validation("team", err.Error())
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return m.infraFailure(err, "remove member", team.ID)
	}
	defer tx.Rollback()

	count, err := m.store.CountUserTeams(ctx, tx, target.ID)
	if err != nil {
		return m.infraFailure(err, "remove member", team.ID)
	}

	if err := m.store.DetachMember(ctx, tx, team.ID, target.ID); err != nil {
		return m.infraFailure(err, "remove member", team.ID)
	}

	// A user must always have a team: fall back to the default team when
	// this was their only one, and repoint their current team away from
	// the team they are leaving.
	if count <= 1 {
		if err := m.store.AttachMember(ctx, tx, m.cfg.DefaultTeamID, target.ID, m.fallbackRole()); err != nil {
			return m.infraFailure(err, "remove member", team.ID)
		}
	}
	if target.CurrentTeamID == nil || *target.CurrentTeamID == team.ID {
		fallback := m.cfg.DefaultTeamID
		if count > 1 {
			remaining, err := m.store.ListUserTeamIDs(ctx, tx, target.ID)
			if err != nil {
				return m.infraFailure(err, "remove member", team.ID)
			}
			if len(remaining) > 0 {
				fallback = remaining[0]
			}
		}
		if err := m.store.SetCurrentTeam(ctx, tx, target.ID, &fallback); err != nil {
			return m.infraFailure(err, "remove member", team.ID)
		}
	}

	if err := m.grants.ClearUserTeamGrants(ctx, tx, target.ID, team.ID); err != nil {
		return m.infraFailure(err, "remove member", team.ID)
	}

	if err := tx.Commit(); err != nil {
		return m.infraFailure(err, "remove member", team.ID)
	}

	m.invalidateUser(ctx, target.ID)
	event.Name = hooks.EventMemberRemoved
	m.bus.FireAfter(ctx, event)
	m.recordMembership("remove", "success")
	return nil
}

// UpdateMemberRole relabels the target's membership. The owner's label
// is immutable.
func (m *Members) UpdateMemberRole(ctx context.Context, actor *User, team *Team, target *User, newRole string) error {
	if err := m.ownerGate(ctx, actor, team, "update"); err != nil {
		return err
	}
	if target.ID == team.OwnerID {
		return apperr.Validation("role", "The team owner's role may not be changed.")
	}
	if !m.cfg.IsAllowedMemberRole(newRole) {
		return apperr.Validation("role", "The role must be a valid role.")
	}
	if err := m.store.UpdateMembershipRole(ctx, team.ID, target.ID, newRole); err != nil {
		if apperr.IsNotFound(err) {
			return err
		}
		return m.infraFailure(err, "update member role", team.ID)
	}
	m.recordMembership("update", "success")
	return nil
}

// InviteMember creates a pending invitation and dispatches the mail
// after the row commits. Delivery failures never fail the invitation.
func (m *Members) InviteMember(ctx context.Context, actor *User, team *Team, email, role string) (*Invitation, error) {
	if err := m.ownerGate(ctx, actor, team, "invite"); err != nil {
		return nil, err
	}
	if err := m.abilityGate(ctx, actor, team, AbilityInviteMember); err != nil {
		return nil, err
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("email", "The email must be a valid email address.")
	}
	if !m.cfg.IsAllowedMemberRole(role) {
		return nil, apperr.Validation("role", "The role must be a valid role.")
	}

	if _, err := m.store.GetLiveInvitation(ctx, team.ID, email); err == nil {
		return nil, apperr.Validation("email", "This user has already been invited to the team.")
	} else if !apperr.IsNotFound(err) {
		return nil, m.infraFailure(err, "invite member", team.ID)
	}

	target, err := m.store.GetUserByEmail(ctx, email)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, m.infraFailure(err, "invite member", team.ID)
	}
	if target != nil {
		member, err := m.store.IsMember(ctx, team.ID, target.ID)
		if err != nil {
			return nil, m.infraFailure(err, "invite member", team.ID)
		}
		if member {
			return nil, apperr.Validation("email", "This user already belongs to the team.")
		}
	}
	if err := m.checkDefaultConfinement(ctx, actor, target); err != nil {
		return nil, err
	}
	if err := m.quotas.CheckMemberQuota(ctx, team.ID); err != nil {
		return nil, asValidation("email", err)
	}

	inv := &Invitation{
		TeamID:    team.ID,
		Email:     email,
		Role:      role,
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().UTC().Add(m.cfg.InvitationTTL),
	}
	if err := m.store.CreateInvitation(ctx, nil, inv); err != nil {
		return nil, m.infraFailure(err, "invite member", team.ID)
	}

	mailer.Dispatch(m.mail, mailer.Invitation{
		TeamID:    inv.TeamID,
		Email:     inv.Email,
		Role:      inv.Role,
		Token:     inv.Token,
		ExpiresAt: inv.ExpiresAt.Format(time.RFC3339),
	}, team.Name, m.mailLog)

	if m.metrics != nil {
		m.metrics.InvitationsTotal.WithLabelValues("sent").Inc()
	}
	return inv, nil
}

// AcceptInvitation attaches the invited user and consumes the
// invitation, both in one transaction. The accepting user's email must
// match the invitation.
func (m *Members) AcceptInvitation(ctx context.Context, token string, user *User) error {
	inv, err := m.store.GetInvitationByToken(ctx, token)
	if err != nil {
		if apperr.IsNotFound(err) {
			return err
		}
		return m.infraFailure(err, "accept invitation", 0)
	}
	if inv.Expired(time.Now().UTC()) {
		return apperr.Validation("token", "This invitation has expired.")
	}
	if inv.Email != user.Email {
		return apperr.Denied("the invitation was addressed to a different email")
	}

	member, err := m.store.IsMember(ctx, inv.TeamID, user.ID)
	if err != nil {
		return m.infraFailure(err, "accept invitation", inv.TeamID)
	}
	if member {
		return apperr.Validation("email", "This user already belongs to the team.")
	}
	if err := m.quotas.CheckMemberQuota(ctx, inv.TeamID); err != nil {
		return asValidation("email", err)
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return m.infraFailure(err, "accept invitation", inv.TeamID)
	}
	defer tx.Rollback()

	if err := m.attachWithExclusivityTx(ctx, tx, inv.TeamID, user, inv.Role); err != nil {
		return m.infraFailure(err, "accept invitation", inv.TeamID)
	}
	if err := m.store.DeleteInvitation(ctx, tx, inv.ID); err != nil {
		return m.infraFailure(err, "accept invitation", inv.TeamID)
	}
	if err := tx.Commit(); err != nil {
		return m.infraFailure(err, "accept invitation", inv.TeamID)
	}

	m.invalidateUser(ctx, user.ID)
	m.bus.FireAfter(ctx, hooks.Event{
		Name: hooks.EventMemberAdded, TeamID: inv.TeamID,
		TargetID: user.ID, Email: inv.Email, Role: inv.Role,
	})
	if m.metrics != nil {
		m.metrics.InvitationsTotal.WithLabelValues("accepted").Inc()
	}
	m.recordMembership("add", "success")
	return nil
}

// attachWithExclusivity runs the attach in its own transaction.
func (m *Members) attachWithExclusivity(ctx context.Context, teamID int64, target *User, role string) error {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.attachWithExclusivityTx(ctx, tx, teamID, target, role); err != nil {
		return err
	}
	return tx.Commit()
}

// attachWithExclusivityTx attaches and enforces the default team's
// exclusivity: joining the default team detaches the user from every
// other team; joining any other team detaches them from the default.
func (m *Members) attachWithExclusivityTx(ctx context.Context, tx Execer, teamID int64, target *User, role string) error {
	if err := m.store.AttachMember(ctx, tx, teamID, target.ID, role); err != nil {
		return err
	}

	if teamID == m.cfg.DefaultTeamID {
		if err := m.store.DetachMemberExcept(ctx, tx, target.ID, m.cfg.DefaultTeamID); err != nil {
			return err
		}
		return m.store.SetCurrentTeam(ctx, tx, target.ID, &teamID)
	}

	err := m.store.DetachMember(ctx, tx, m.cfg.DefaultTeamID, target.ID)
	if err != nil && !apperr.IsNotFound(err) {
		return err
	}
	if target.CurrentTeamID == nil || *target.CurrentTeamID == m.cfg.DefaultTeamID {
		return m.store.SetCurrentTeam(ctx, tx, target.ID, &teamID)
	}
	return nil
}

// checkDefaultConfinement enforces the rule that an actor whose only
// team is their current one may only recruit default-team members.
func (m *Members) checkDefaultConfinement(ctx context.Context, actor *User, target *User) error {
	if actor.IsSuperAdmin() {
		return nil
	}
	count, err := m.store.CountUserTeams(ctx, nil, actor.ID)
	if err != nil {
		return m.infraFailure(err, "confinement check", 0)
	}
	if count != 1 {
		return nil
	}
	if target == nil {
		return apperr.Validation("email", "You may only add members of the default team.")
	}
	inDefault, err := m.store.IsMember(ctx, m.cfg.DefaultTeamID, target.ID)
	if err != nil {
		return m.infraFailure(err, "confinement check", 0)
	}
	if !inDefault {
		return apperr.Validation("email", "You may only add members of the default team.")
	}
	return nil
}

func (m *Members) ownerGate(ctx context.Context, actor *User, team *Team, operation string) error {
	if actor.IsSuperAdmin() || team.OwnerID == actor.ID {
		return nil
	}
	m.logger.Security().WithFields(map[string]interface{}{
		"actor_id":  actor.ID,
		"team_id":   team.ID,
		"operation": operation,
	}).Warn("membership operation denied: not the team owner")
	m.recordMembership(operation, "denied")
	return apperr.Denied("only the team owner may manage members")
}

func (m *Members) abilityGate(ctx context.Context, actor *User, team *Team, ability string) error {
	if m.checker == nil {
		return nil
	}
	allowed, err := m.checker.Can(ctx, actor, ability, team)
	if err != nil {
		return m.infraFailure(err, "ability check", team.ID)
	}
	if !allowed {
		return apperr.Denied("missing ability " + ability)
	}
	return nil
}

func (m *Members) invalidateUser(ctx context.Context, userID int64) {
	if m.cache != nil {
		m.cache.InvalidateUser(ctx, userID)
	}
}

func (m *Members) fallbackRole() string {
	return m.cfg.MemberRoles[len(m.cfg.MemberRoles)-1]
}

// infraFailure logs the full cause and surfaces a generic validation
// failure, so persistence details never reach clients.
func (m *Members) infraFailure(err error, operation string, teamID int64) error {
	m.logger.WithError(err).WithFields(map[string]interface{}{
		"operation": operation,
		"team_id":   teamID,
	}).Error("membership operation failed")
	return apperr.Validation("team", apperr.GenericFailureMessage)
}

func (m *Members) recordMembership(operation, status string) {
	if m.metrics != nil {
		m.metrics.MembershipChangesTotal.WithLabelValues(operation, status).Inc()
	}
}
