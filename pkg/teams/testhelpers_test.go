package teams

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/observability"
	"github.com/platinummonkey/teamgate/pkg/scope"
)

func testTeamsConfig() config.TeamsConfig {
	return config.TeamsConfig{
		AdminTeamID:        1,
		DefaultTeamID:      2,
		SuperAdminRole:     "super_admin",
		MemberRoles:        []string{"admin", "editor", "member"},
		TeamScopingEnabled: true,
		InvitationTTL:      7 * 24 * time.Hour,
	}
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, nil)
}

func testScopeResolver() *scope.Resolver {
	return scope.NewResolver(testTeamsConfig())
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			current_team_id INTEGER,
			is_super_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE teams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			owner_id INTEGER NOT NULL DEFAULT 0,
			personal_team BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE team_user (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			team_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP,
			UNIQUE(team_id, user_id)
		)`,
		`CREATE TABLE team_invitations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			team_id INTEGER NOT NULL,
			email TEXT NOT NULL,
			role TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			guard TEXT NOT NULL DEFAULT 'web',
			team_id INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(name, guard, team_id)
		)`,
		`CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			guard TEXT NOT NULL DEFAULT 'web',
			team_id INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(name, guard, team_id)
		)`,
		`CREATE TABLE role_has_permissions (
			role_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			PRIMARY KEY (role_id, permission_id)
		)`,
		`CREATE TABLE user_roles (
			user_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			team_id INTEGER NOT NULL,
			granted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, role_id, team_id)
		)`,
		`CREATE TABLE user_permissions (
			user_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			team_id INTEGER NOT NULL,
			granted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, permission_id, team_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to create schema: %v", err)
		}
	}

	// Reserved teams.
	now := time.Now().UTC()
	for _, seed := range []struct {
		id   int64
		name string
	}{{1, "Admin"}, {2, "Default"}} {
		if _, err := db.Exec(
			`INSERT INTO teams (id, name, owner_id, personal_team, created_at, updated_at) VALUES ($1, $2, 0, FALSE, $3, $3)`,
			seed.id, seed.name, now,
		); err != nil {
			t.Fatalf("Failed to seed reserved team: %v", err)
		}
	}

	return db
}

func createUser(t *testing.T, store *Store, name, email string) *User {
	t.Helper()
	user := &User{Name: name, Email: email}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

func createTeam(t *testing.T, store *Store, name string, ownerID int64) *Team {
	t.Helper()
	team := &Team{Name: name, OwnerID: ownerID}
	if err := store.CreateTeam(context.Background(), team); err != nil {
		t.Fatalf("Failed to create team: %v", err)
	}
	return team
}

func attach(t *testing.T, store *Store, teamID, userID int64, role string) {
	t.Helper()
	if err := store.AttachMember(context.Background(), nil, teamID, userID, role); err != nil {
		t.Fatalf("Failed to attach member: %v", err)
	}
}
