package teams

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/teamgate/pkg/config"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all identity and team migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL UNIQUE,
					current_team_id BIGINT,
					is_super_admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE INDEX idx_users_email ON users(email);
				CREATE INDEX idx_users_current_team_id ON users(current_team_id);
			`,
		},
		{
			Version:     2,
			Description: "Create teams table",
			SQL: `
				CREATE TABLE IF NOT EXISTS teams (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					owner_id BIGINT NOT NULL DEFAULT 0,
					personal_team BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE INDEX idx_teams_owner_id ON teams(owner_id);
			`,
		},
		{
			Version:     3,
			Description: "Create team_user table",
			SQL: `
				CREATE TABLE IF NOT EXISTS team_user (
					id BIGSERIAL PRIMARY KEY,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(50) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP,
					UNIQUE(team_id, user_id)
				);

				CREATE INDEX idx_team_user_user_id ON team_user(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create team_invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS team_invitations (
					id BIGSERIAL PRIMARY KEY,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					role VARCHAR(50) NOT NULL,
					token VARCHAR(64) NOT NULL UNIQUE,
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE INDEX idx_team_invitations_team_id ON team_invitations(team_id);
				CREATE INDEX idx_team_invitations_email ON team_invitations(email);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS teams_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM teams_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO teams_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// SeedReservedTeams creates the admin and default teams with their
// configured fixed ids if they do not exist. They are system-owned,
// never personal, and never deletable.
func SeedReservedTeams(ctx context.Context, db *sql.DB, cfg config.TeamsConfig) error {
	seeds := []struct {
		id   int64
		name string
	}{
		{cfg.AdminTeamID, "Admin"},
		{cfg.DefaultTeamID, "Default"},
	}
	for _, seed := range seeds {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM teams WHERE id = $1`, seed.id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check reserved team %d: %w", seed.id, err)
		}
		if exists > 0 {
			continue
		}
		now := time.Now().UTC()
		_, err = db.ExecContext(ctx, `
			INSERT INTO teams (id, name, owner_id, personal_team, created_at, updated_at)
			VALUES ($1, $2, 0, FALSE, $3, $3)
		`, seed.id, seed.name, now)
		if err != nil {
			return fmt.Errorf("failed to seed reserved team %d: %w", seed.id, err)
		}
	}

	// Explicit-id inserts do not advance the serial sequence; bump it so
	// ordinary team creation never collides with the reserved ids.
	// No-op on databases without sequences.
	maxID := seeds[0].id
	if seeds[1].id > maxID {
		maxID = seeds[1].id
	}
	db.ExecContext(ctx, `SELECT setval('teams_id_seq', GREATEST((SELECT MAX(id) FROM teams), $1))`, maxID)

	return nil
}
