// Package scope establishes which team's permission partition applies to the
// current operation.
//
// The active scope is carried on the context.Context of the operation, never
// in package-level state, so concurrent requests each see their own scope.
// WithScope derives a child context for the duration of a callback; the parent
// context is untouched, which makes restoration on every exit path (return,
// error, panic) structural rather than something callers have to remember.
package scope

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/contextkeys"
)

// TeamScope is the value stored on a context when a team scope is active.
type TeamScope struct {
	TeamID int64
}

// Notifier is told whenever WithScope switches the active team so cached
// permission-resolution state tied to the outgoing scope can be dropped.
// A stale cache entry answering for the wrong team is an authorization bug,
// not a performance problem.
type Notifier func(teamID int64)

// Resolver determines the team scope for permission checks.
type Resolver struct {
	cfg      config.TeamsConfig
	onSwitch Notifier
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNotifier registers a callback fired on every scope switch made through
// WithScope, both entering and leaving the callback.
func WithNotifier(n Notifier) Option {
	return func(r *Resolver) {
		r.onSwitch = n
	}
}

// NewResolver creates a scope resolver for the given teams configuration.
func NewResolver(cfg config.TeamsConfig, opts ...Option) *Resolver {
	r := &Resolver{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the team scope active on ctx. The second return is false
// when no scope has been established. With team scoping disabled in config,
// every operation collapses to the default team's scope.
func (r *Resolver) Current(ctx context.Context) (int64, bool) {
	if !r.cfg.TeamScopingEnabled {
		return r.cfg.DefaultTeamID, true
	}
	if ts, ok := ctx.Value(contextkeys.TeamScopeKey).(TeamScope); ok {
		return ts.TeamID, true
	}
	return 0, false
}

// WithTeam returns a child context scoped to teamID. Subsequent authorization
// calls using that context resolve permissions in teamID's partition.
func (r *Resolver) WithTeam(ctx context.Context, teamID int64) context.Context {
	return context.WithValue(ctx, contextkeys.TeamScopeKey, TeamScope{TeamID: teamID})
}

// ResolveDefault returns the scope to use when none is established: the
// user's current team if set, otherwise the system default team. Never
// returns an unusable scope.
func (r *Resolver) ResolveDefault(currentTeamID sql.NullInt64) int64 {
	if currentTeamID.Valid {
		return currentTeamID.Int64
	}
	return r.cfg.DefaultTeamID
}

// WithScope runs fn with the scope switched to teamID. The switch is confined
// to the context passed to fn, so the caller's scope is intact afterwards no
// matter how fn exits. Any registered notifier fires on entry with the new
// team and on exit with the restored one, so cached resolution state never
// outlives a switch.
func (r *Resolver) WithScope(ctx context.Context, teamID int64, fn func(context.Context) error) error {
	prev, hadPrev := r.Current(ctx)
	if r.onSwitch != nil {
		r.onSwitch(teamID)
		defer func() {
			if hadPrev {
				r.onSwitch(prev)
			}
		}()
	}
	return fn(r.WithTeam(ctx, teamID))
}

// Config exposes the teams configuration the resolver was built with.
func (r *Resolver) Config() config.TeamsConfig {
	return r.cfg
}
