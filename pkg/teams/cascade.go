package teams

import (
	"context"
	"database/sql"
	"time"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/observability"
	"github.com/platinummonkey/teamgate/pkg/rbac"
)

// Cascades performs the multi-table deletions and restorations that
// keep teams, memberships, invitations and grant edges consistent. Every
// cascade is a single transaction: either all of its rows change or none
// do.
type Cascades struct {
	store   *Store
	grants  *rbac.Store
	cache   rbac.PermissionCache
	cfg     config.TeamsConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// CascadesOption configures a Cascades service.
type CascadesOption func(*Cascades)

// WithCascadesMetrics attaches metrics.
func WithCascadesMetrics(metrics *observability.Metrics) CascadesOption {
	return func(c *Cascades) {
		c.metrics = metrics
	}
}

// NewCascades creates the cascade service. cache may be nil.
func NewCascades(store *Store, grants *rbac.Store, cache rbac.PermissionCache, cfg config.TeamsConfig, logger *observability.Logger, opts ...CascadesOption) *Cascades {
	c := &Cascades{
		store:  store,
		grants: grants,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SoftDeleteTeam retires a team: users whose current team it was and
// who hold no other live membership are repointed to the default team,
// invitations and memberships are soft-deleted with the same timestamp
// as the team row, and grant edges are hard-deleted. Users with another
// live membership keep their pointer so a later restore finds it
// intact. Reserved teams are never deletable.
func (c *Cascades) SoftDeleteTeam(ctx context.Context, teamID int64) error {
	if c.cfg.IsReservedTeam(teamID) {
		c.logger.Security().WithField("team_id", teamID).Warn("blocked deletion of reserved team")
		c.record("team", "soft_delete", "blocked")
		return apperr.Conflict("reserved teams cannot be deleted")
	}

	if _, err := c.store.GetTeam(ctx, teamID); err != nil {
		return err
	}

	start := time.Now()
	now := start.UTC()

	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET current_team_id = $1, updated_at = $2
			WHERE current_team_id = $3 AND deleted_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM team_user
				WHERE team_user.user_id = users.id
				AND team_user.team_id <> $3
				AND team_user.deleted_at IS NULL
			)
		`, c.cfg.DefaultTeamID, now, teamID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE team_invitations SET deleted_at = $1, updated_at = $1
			WHERE team_id = $2 AND deleted_at IS NULL
		`, now, teamID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE team_user SET deleted_at = $1, updated_at = $1
			WHERE team_id = $2 AND deleted_at IS NULL
		`, now, teamID); err != nil {
			return err
		}
		if err := c.grants.ClearTeamGrants(ctx, tx, teamID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE teams SET deleted_at = $1, updated_at = $1
			WHERE id = $2 AND deleted_at IS NULL
		`, now, teamID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("team_id", teamID).Error("team soft-delete cascade failed")
		c.record("team", "soft_delete", "failure")
		return apperr.Infrastructure("soft delete team", err)
	}

	c.invalidateTeam(ctx, teamID)
	c.logger.Security().WithField("team_id", teamID).Info("team soft-deleted")
	c.record("team", "soft_delete", "success")
	c.observeDuration("team", "soft_delete", start)
	return nil
}

// RestoreTeam brings back a soft-deleted team together with the
// memberships and invitations that were retired with it. Rows deleted
// independently of the team cascade stay deleted.
func (c *Cascades) RestoreTeam(ctx context.Context, teamID int64) error {
	var deletedAt sql.NullTime
	err := c.store.db.QueryRowContext(ctx,
		`SELECT deleted_at FROM teams WHERE id = $1`, teamID).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return apperr.NotFound("team", teamID)
	}
	if err != nil {
		return apperr.Infrastructure("restore team", err)
	}
	if !deletedAt.Valid {
		return apperr.Conflict("team is not deleted")
	}

	start := time.Now()
	now := start.UTC()

	err = c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE teams SET deleted_at = NULL, updated_at = $1 WHERE id = $2
		`, now, teamID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE team_user SET deleted_at = NULL, updated_at = $1
			WHERE team_id = $2 AND deleted_at = $3
		`, now, teamID, deletedAt.Time); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE team_invitations SET deleted_at = NULL, updated_at = $1
			WHERE team_id = $2 AND deleted_at = $3
		`, now, teamID, deletedAt.Time); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("team_id", teamID).Error("team restore cascade failed")
		c.record("team", "restore", "failure")
		return apperr.Infrastructure("restore team", err)
	}

	c.record("team", "restore", "success")
	c.observeDuration("team", "restore", start)
	return nil
}

// HardDeleteTeam removes a team and everything scoped to it for good:
// invitations, memberships, the role and permission catalog with its
// edges, and the team row. Reserved teams are never deletable.
func (c *Cascades) HardDeleteTeam(ctx context.Context, teamID int64) error {
	if c.cfg.IsReservedTeam(teamID) {
		c.logger.Security().WithField("team_id", teamID).Warn("blocked deletion of reserved team")
		c.record("team", "hard_delete", "blocked")
		return apperr.Conflict("reserved teams cannot be deleted")
	}

	start := time.Now()
	now := start.UTC()

	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET current_team_id = $1, updated_at = $2 WHERE current_team_id = $3
		`, c.cfg.DefaultTeamID, now, teamID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM team_invitations WHERE team_id = $1`, teamID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM team_user WHERE team_id = $1`, teamID); err != nil {
			return err
		}
		if err := c.grants.DeleteTeamCatalog(ctx, tx, teamID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, teamID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("team_id", teamID).Error("team hard-delete cascade failed")
		c.record("team", "hard_delete", "failure")
		return apperr.Infrastructure("hard delete team", err)
	}

	c.invalidateTeam(ctx, teamID)
	c.logger.Security().WithField("team_id", teamID).Info("team hard-deleted")
	c.record("team", "hard_delete", "success")
	c.observeDuration("team", "hard_delete", start)
	return nil
}

// SoftDeleteUser retires a user: their memberships and the personal
// teams they own are soft-deleted with the user row's timestamp. Teams
// they own that are not personal stay up.
func (c *Cascades) SoftDeleteUser(ctx context.Context, userID int64) error {
	if _, err := c.store.GetUser(ctx, userID); err != nil {
		return err
	}

	start := time.Now()
	now := start.UTC()

	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE team_user SET deleted_at = $1, updated_at = $1
			WHERE user_id = $2 AND deleted_at IS NULL
		`, now, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE teams SET deleted_at = $1, updated_at = $1
			WHERE owner_id = $2 AND personal_team AND deleted_at IS NULL
		`, now, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET deleted_at = $1, updated_at = $1
			WHERE id = $2 AND deleted_at IS NULL
		`, now, userID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Error("user soft-delete cascade failed")
		c.record("user", "soft_delete", "failure")
		return apperr.Infrastructure("soft delete user", err)
	}

	c.invalidateUser(ctx, userID)
	c.record("user", "soft_delete", "success")
	c.observeDuration("user", "soft_delete", start)
	return nil
}

// RestoreUser brings back a soft-deleted user with the memberships and
// personal teams retired by the same cascade.
func (c *Cascades) RestoreUser(ctx context.Context, userID int64) error {
	var deletedAt sql.NullTime
	err := c.store.db.QueryRowContext(ctx,
		`SELECT deleted_at FROM users WHERE id = $1`, userID).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return apperr.NotFound("user", userID)
	}
	if err != nil {
		return apperr.Infrastructure("restore user", err)
	}
	if !deletedAt.Valid {
		return apperr.Conflict("user is not deleted")
	}

	start := time.Now()
	now := start.UTC()

	err = c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET deleted_at = NULL, updated_at = $1 WHERE id = $2
		`, now, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE team_user SET deleted_at = NULL, updated_at = $1
			WHERE user_id = $2 AND deleted_at = $3
		`, now, userID, deletedAt.Time); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE teams SET deleted_at = NULL, updated_at = $1
			WHERE owner_id = $2 AND personal_team AND deleted_at = $3
		`, now, userID, deletedAt.Time); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Error("user restore cascade failed")
		c.record("user", "restore", "failure")
		return apperr.Infrastructure("restore user", err)
	}

	c.record("user", "restore", "success")
	c.observeDuration("user", "restore", start)
	return nil
}

// HardDeleteUser removes a user for good: all grant edges, memberships,
// owned personal teams, and the user row.
func (c *Cascades) HardDeleteUser(ctx context.Context, userID int64) error {
	start := time.Now()

	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if err := c.grants.ClearUserGrants(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM team_user WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM teams WHERE owner_id = $1 AND personal_team
		`, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Error("user hard-delete cascade failed")
		c.record("user", "hard_delete", "failure")
		return apperr.Infrastructure("hard delete user", err)
	}

	c.invalidateUser(ctx, userID)
	c.logger.Security().WithField("user_id", userID).Info("user hard-deleted")
	c.record("user", "hard_delete", "success")
	c.observeDuration("user", "hard_delete", start)
	return nil
}

func (c *Cascades) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *Cascades) invalidateTeam(ctx context.Context, teamID int64) {
	if c.cache != nil {
		c.cache.InvalidateTeam(ctx, teamID)
	}
}

func (c *Cascades) invalidateUser(ctx context.Context, userID int64) {
	if c.cache != nil {
		c.cache.InvalidateUser(ctx, userID)
	}
}

func (c *Cascades) record(entity, operation, status string) {
	if c.metrics != nil {
		c.metrics.CascadesTotal.WithLabelValues(entity, operation, status).Inc()
	}
}

func (c *Cascades) observeDuration(entity, operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.CascadeDuration.WithLabelValues(entity, operation).Observe(time.Since(start).Seconds())
	}
}
