package teams

import (
	"context"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/hooks"
	"github.com/platinummonkey/teamgate/pkg/observability"
)

// Service manages team lifecycle and current-team switching.
type Service struct {
	store   *Store
	cfg     config.TeamsConfig
	bus     *hooks.Bus
	quotas  *Quotas
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceMetrics attaches metrics to the service.
func WithServiceMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// NewService creates a team service.
func NewService(store *Store, cfg config.TeamsConfig, bus *hooks.Bus, logger *observability.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		cfg:    cfg,
		bus:    bus,
		quotas: NewQuotas(store, cfg),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTeam creates a team owned by the actor and makes it the actor's
// current team.
func (s *Service) CreateTeam(ctx context.Context, actor *User, req *CreateTeamRequest) (*Team, error) {
	if req.Name == "" {
		return nil, apperr.Validation("name", "The name field is required.")
	}
	if err := s.quotas.CheckTeamQuota(ctx, actor); err != nil {
		return nil, asValidation("name", err)
	}

	team := &Team{
		Name:         req.Name,
		OwnerID:      actor.ID,
		PersonalTeam: req.PersonalTeam,
	}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		s.logger.WithError(err).WithField("owner_id", actor.ID).Error("team creation failed")
		return nil, err
	}

	if err := s.store.SetCurrentTeam(ctx, nil, actor.ID, &team.ID); err != nil {
		s.logger.WithError(err).WithField("team_id", team.ID).Error("failed to set current team after creation")
		return nil, err
	}
	actor.CurrentTeamID = &team.ID

	s.bus.FireAfter(ctx, hooks.Event{Name: hooks.EventTeamCreated, TeamID: team.ID, ActorID: actor.ID})
	if s.metrics != nil {
		s.metrics.TeamsTotal.Inc()
	}
	return team, nil
}

// GetTeam retrieves a live team.
func (s *Service) GetTeam(ctx context.Context, id int64) (*Team, error) {
	return s.store.GetTeam(ctx, id)
}

// ListUserTeams lists the teams the user belongs to.
func (s *Service) ListUserTeams(ctx context.Context, userID int64) ([]*Team, error) {
	return s.store.ListUserTeams(ctx, userID)
}

// UpdateTeam renames a team. Only the owner (or a super admin) may.
func (s *Service) UpdateTeam(ctx context.Context, actor *User, teamID int64, req *UpdateTeamRequest) error {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if !s.ownerGate(actor, team) {
		return apperr.Denied("only the team owner may update the team")
	}
	if req.Name != nil && *req.Name == "" {
		return apperr.Validation("name", "The name field is required.")
	}
	if err := s.store.UpdateTeam(ctx, teamID, req); err != nil {
		return err
	}
	s.bus.FireAfter(ctx, hooks.Event{Name: hooks.EventTeamUpdated, TeamID: teamID, ActorID: actor.ID})
	return nil
}

// SwitchTeam makes teamID the actor's current team. The actor must
// belong to the team.
func (s *Service) SwitchTeam(ctx context.Context, actor *User, teamID int64) error {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}

	belongs, err := s.BelongsToTeam(ctx, actor, team)
	if err != nil {
		return err
	}
	if !belongs {
		return apperr.Denied("user does not belong to the team")
	}

	if err := s.store.SetCurrentTeam(ctx, nil, actor.ID, &teamID); err != nil {
		return err
	}
	actor.CurrentTeamID = &teamID

	s.bus.FireAfter(ctx, hooks.Event{Name: hooks.EventTeamSwitched, TeamID: teamID, ActorID: actor.ID})
	if s.metrics != nil {
		s.metrics.TeamSwitchesTotal.Inc()
	}
	return nil
}

// BelongsToTeam reports whether the user owns the team or holds a live
// membership in it.
func (s *Service) BelongsToTeam(ctx context.Context, user *User, team *Team) (bool, error) {
	if team.OwnerID == user.ID {
		return true, nil
	}
	return s.store.IsMember(ctx, team.ID, user.ID)
}

// Quotas exposes the quota checker, for usage introspection.
func (s *Service) Quotas() *Quotas {
	return s.quotas
}

func (s *Service) ownerGate(actor *User, team *Team) bool {
	return actor.IsSuperAdmin() || team.OwnerID == actor.ID
}
