package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/teamgate/pkg/auth"
	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/hooks"
	"github.com/platinummonkey/teamgate/pkg/observability"
	"github.com/platinummonkey/teamgate/pkg/rbac"
	"github.com/platinummonkey/teamgate/pkg/scope"
	"github.com/platinummonkey/teamgate/pkg/teams"
)

// testEnv stands up the whole stack over sqlite: stores, services,
// token manager, and the server with its full middleware chain.
type testEnv struct {
	db       *sql.DB
	users    *teams.Store
	service  *teams.Service
	members  *teams.Members
	cascades *teams.Cascades
	rbac     *rbac.Manager
	resolver *scope.Resolver
	tokens   *auth.TokenManager
	audit    *auth.AuditLogger
	handler  http.Handler
}

func testConfig() config.TeamsConfig {
	return config.TeamsConfig{
		AdminTeamID:        1,
		DefaultTeamID:      2,
		SuperAdminRole:     "super_admin",
		MemberRoles:        []string{"admin", "editor", "member"},
		TeamScopingEnabled: true,
		InvitationTTL:      7 * 24 * time.Hour,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithCache(t, config.CacheConfig{Backend: config.CacheBackendNone})
}

// newTestEnvWithCache builds the stack with a specific permission cache
// backend, for tests that assert on grant-mutation invalidation.
func newTestEnvWithCache(t *testing.T, cacheCfg config.CacheConfig) *testEnv {
	t.Helper()

	db := openTestDB(t)
	cfg := testConfig()
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	resolver := scope.NewResolver(cfg)

	manager, err := rbac.NewManager(db, resolver, logger, nil, cacheCfg, nil)
	if err != nil {
		t.Fatalf("Failed to build rbac manager: %v", err)
	}
	teams.RegisterMembershipPolicies(manager.Policies())

	users := teams.NewStore(db)
	bus := hooks.NewBus()
	service := teams.NewService(users, cfg, bus, logger)
	members := teams.NewMembers(users, manager.Store(), manager.Checker(), manager.Cache(), cfg, bus, logger)
	cascades := teams.NewCascades(users, manager.Store(), manager.Cache(), cfg, logger)

	tokens := auth.NewTokenManager(db)
	audit := auth.NewAuditLogger(db, logger)

	server := NewServer(Deps{
		Teams:    service,
		Members:  members,
		Cascades: cascades,
		Users:    users,
		RBAC:     manager,
		Resolver: resolver,
		Tokens:   tokens,
		Audit:    audit,
		Logger:   logger,
		Health:   observability.NewHealthChecker(db, nil),
	})

	return &testEnv{
		db:       db,
		users:    users,
		service:  service,
		members:  members,
		cascades: cascades,
		rbac:     manager,
		resolver: resolver,
		tokens:   tokens,
		audit:    audit,
		handler:  server.Handler(),
	}
}

func openTestDB(t *testing.T) *sql.DB {
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
		`CREATE TABLE api_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			token_prefix TEXT NOT NULL,
			name TEXT NOT NULL,
			expires_at TIMESTAMP,
			last_used_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			revoked_at TIMESTAMP,
			revoked_by INTEGER,
			revoke_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			team_id INTEGER,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to create schema: %v", err)
		}
	}

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

// createActor persists a user and issues them an API token.
func (e *testEnv) createActor(t *testing.T, name, email string, super bool) (*teams.User, string) {
	t.Helper()
	ctx := context.Background()

	user := &teams.User{Name: name, Email: email, SuperAdmin: super}
	if err := e.users.CreateUser(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	_, plaintext, err := e.tokens.CreateToken(ctx, user.ID, "test", 0)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return user, plaintext
}

// do drives a request through the full middleware chain.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	r := httptest.NewRequest(method, path, reader)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}
