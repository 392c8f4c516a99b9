package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/rbac"
	"github.com/platinummonkey/teamgate/pkg/teams"
)

// doScoped pins the request to a team via the X-Team-ID header.
func (e *testEnv) doScoped(t *testing.T, method, path, token string, teamID int64, body interface{}) *httptest.ResponseRecorder {
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
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("X-Team-ID", fmt.Sprintf("%d", teamID))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

func TestRoleCatalog(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createActor(t, "alice", "alice@example.com", false)
	team := env.createTeamFor(t, token, "acme")

	// The pinned team defaults to the actor's current team, which is
	// the team they just created.
	rec := env.do(t, "POST", "/api/v1/roles", token, map[string]string{"name": "editor"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var role rbac.Role
	decodeJSON(t, rec, &role)
	if role.TeamID != team.ID {
		t.Errorf("Expected role in team %d, got %d", team.ID, role.TeamID)
	}

	rec = env.do(t, "GET", "/api/v1/roles", token, nil)
	var roles []rbac.Role
	decodeJSON(t, rec, &roles)
	if len(roles) != 1 || roles[0].Name != "editor" {
		t.Errorf("Expected the editor role listed, got %+v", roles)
	}

	// Same name in another team is a separate role, not a conflict.
	other := env.createTeamFor(t, token, "beta")
	rec = env.doScoped(t, "POST", "/api/v1/roles", token, other.ID, map[string]string{"name": "editor"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 in second team, got %d: %s", rec.Code, rec.Body.String())
	}
	var second rbac.Role
	decodeJSON(t, rec, &second)
	if second.ID == role.ID || second.TeamID != other.ID {
		t.Errorf("Expected a distinct role in team %d, got %+v", other.ID, second)
	}

	// Duplicate within one team conflicts.
	rec = env.doScoped(t, "POST", "/api/v1/roles", token, other.ID, map[string]string{"name": "editor"})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate role, got %d", rec.Code)
	}
}

func TestPermissionCatalogAndRoleWiring(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createActor(t, "alice", "alice@example.com", false)
	env.createTeamFor(t, token, "acme")

	rec := env.do(t, "POST", "/api/v1/permissions", token, map[string]string{"name": "articles.edit"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var perm rbac.Permission
	decodeJSON(t, rec, &perm)

	rec = env.do(t, "POST", "/api/v1/roles", token, map[string]string{"name": "editor"})
	var role rbac.Role
	decodeJSON(t, rec, &role)

	wire := fmt.Sprintf("/api/v1/roles/%d/permissions/%d", role.ID, perm.ID)
	if rec := env.do(t, "PUT", wire, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 attaching permission, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", fmt.Sprintf("/api/v1/roles/%d/permissions", role.ID), token, nil)
	var perms []rbac.Permission
	decodeJSON(t, rec, &perms)
	if len(perms) != 1 || perms[0].Name != "articles.edit" {
		t.Errorf("Expected articles.edit attached, got %+v", perms)
	}

	if rec := env.do(t, "DELETE", wire, token, nil); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 detaching permission, got %d", rec.Code)
	}
}

func TestGrantFlow(t *testing.T) {
	env := newTestEnv(t)
	alice, token := env.createActor(t, "alice", "alice@example.com", false)
	team := env.createTeamFor(t, token, "acme")

	rec := env.do(t, "POST", "/api/v1/permissions", token, map[string]string{"name": "articles.edit"})
	var perm rbac.Permission
	decodeJSON(t, rec, &perm)
	rec = env.do(t, "POST", "/api/v1/roles", token, map[string]string{"name": "editor"})
	var role rbac.Role
	decodeJSON(t, rec, &role)
	env.do(t, "PUT", fmt.Sprintf("/api/v1/roles/%d/permissions/%d", role.ID, perm.ID), token, nil)

	// Without any grant the check fails.
	rec = env.do(t, "POST", "/api/v1/me/can", token, map[string]string{"permission": "articles.edit"})
	var verdict map[string]bool
	decodeJSON(t, rec, &verdict)
	if verdict["allowed"] {
		t.Error("Expected no permission before the grant")
	}

	rolesPath := fmt.Sprintf("/api/v1/users/%d/roles", alice.ID)
	if rec := env.do(t, "POST", rolesPath, token, map[string]string{"role": "editor"}); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 assigning role, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "POST", "/api/v1/me/can", token, map[string]string{"permission": "articles.edit"})
	decodeJSON(t, rec, &verdict)
	if !verdict["allowed"] {
		t.Error("Expected the permission through the editor role")
	}

	// The grant is invisible from another team's scope.
	other := env.createTeamFor(t, token, "beta")
	rec = env.doScoped(t, "POST", "/api/v1/me/can", token, other.ID, map[string]string{"permission": "articles.edit"})
	decodeJSON(t, rec, &verdict)
	if verdict["allowed"] {
		t.Error("Expected team isolation to hide the grant")
	}

	// Back in the original scope it still holds.
	rec = env.doScoped(t, "POST", "/api/v1/me/can", token, team.ID, map[string]string{"permission": "articles.edit"})
	decodeJSON(t, rec, &verdict)
	if !verdict["allowed"] {
		t.Error("Expected the grant in its own team")
	}

	// Role listing and removal.
	rec = env.doScoped(t, "GET", rolesPath, token, team.ID, nil)
	var roles []rbac.Role
	decodeJSON(t, rec, &roles)
	if len(roles) != 1 || roles[0].Name != "editor" {
		t.Errorf("Expected the editor role granted, got %+v", roles)
	}
	if rec := env.doScoped(t, "DELETE", rolesPath+"/editor", token, team.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 removing role, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.doScoped(t, "POST", "/api/v1/me/can", token, team.ID, map[string]string{"permission": "articles.edit"})
	decodeJSON(t, rec, &verdict)
	if verdict["allowed"] {
		t.Error("Expected the permission gone after role removal")
	}
}

func TestDirectPermissionGrant(t *testing.T) {
	env := newTestEnv(t)
	alice, token := env.createActor(t, "alice", "alice@example.com", false)
	env.createTeamFor(t, token, "acme")

	rec := env.do(t, "POST", "/api/v1/permissions", token, map[string]string{"name": "teams.delete"})
	var perm rbac.Permission
	decodeJSON(t, rec, &perm)

	grantPath := fmt.Sprintf("/api/v1/users/%d/permissions/%d", alice.ID, perm.ID)
	if rec := env.do(t, "PUT", grantPath, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "POST", "/api/v1/me/can", token, map[string]string{"permission": "teams.delete"})
	var verdict map[string]bool
	decodeJSON(t, rec, &verdict)
	if !verdict["allowed"] {
		t.Error("Expected the direct grant to hold")
	}

	if rec := env.do(t, "DELETE", grantPath, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 revoking, got %d", rec.Code)
	}
	rec = env.do(t, "POST", "/api/v1/me/can", token, map[string]string{"permission": "teams.delete"})
	decodeJSON(t, rec, &verdict)
	if verdict["allowed"] {
		t.Error("Expected the permission gone after revocation")
	}
}

func TestCan_VacuousTruth(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createActor(t, "alice", "alice@example.com", false)
	env.createTeamFor(t, token, "acme")

	// An empty any_of list is vacuously satisfied.
	rec := env.do(t, "POST", "/api/v1/me/can", token, map[string][]string{"any_of": {}})
	var verdict map[string]bool
	decodeJSON(t, rec, &verdict)
	if !verdict["allowed"] {
		t.Error("Expected an empty permission list to pass")
	}
}

func TestCan_SuperAdminBypass(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.createActor(t, "root", "root@example.com", true)

	rec := env.do(t, "POST", "/api/v1/me/can", admin, map[string]string{"permission": "does.not.exist"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var verdict map[string]bool
	decodeJSON(t, rec, &verdict)
	if !verdict["allowed"] {
		t.Error("Expected super admin to bypass with zero grants")
	}
}

func TestWhoAmI(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createActor(t, "alice", "alice@example.com", false)
	team := env.createTeamFor(t, token, "acme")

	rec := env.do(t, "GET", "/api/v1/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		User   *teams.User `json:"user"`
		TeamID int64       `json:"team_id"`
	}
	decodeJSON(t, rec, &payload)
	if payload.User == nil || payload.User.Email != "alice@example.com" {
		t.Errorf("Expected the caller echoed, got %+v", payload.User)
	}
	if payload.TeamID != team.ID {
		t.Errorf("Expected pinned team %d, got %d", team.ID, payload.TeamID)
	}
}

// With a long-TTL LRU cache in front of the checker, every mutation
// route must drop the affected cache entries, or a revoked grant keeps
// answering true until the TTL expires.
func TestGrantMutationsInvalidateCache(t *testing.T) {
	env := newTestEnvWithCache(t, config.CacheConfig{
		Backend: config.CacheBackendLRU,
		TTL:     time.Hour,
		LRUSize: 128,
	})
	alice, token := env.createActor(t, "alice", "alice@example.com", false)
	env.createTeamFor(t, token, "acme")

	can := func(t *testing.T, name string) bool {
		t.Helper()
		rec := env.do(t, "POST", "/api/v1/me/can", token, map[string]string{"permission": name})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 from the check, got %d: %s", rec.Code, rec.Body.String())
		}
		var verdict map[string]bool
		decodeJSON(t, rec, &verdict)
		return verdict["allowed"]
	}

	rec := env.do(t, "POST", "/api/v1/permissions", token, map[string]string{"name": "articles.edit"})
	var perm rbac.Permission
	decodeJSON(t, rec, &perm)
	rec = env.do(t, "POST", "/api/v1/roles", token, map[string]string{"name": "editor"})
	var role rbac.Role
	decodeJSON(t, rec, &role)

	edgePath := fmt.Sprintf("/api/v1/roles/%d/permissions/%d", role.ID, perm.ID)
	rolesPath := fmt.Sprintf("/api/v1/users/%d/roles", alice.ID)

	// Prime a negative entry, then attach and grant through the role.
	if can(t, "articles.edit") {
		t.Fatal("Expected no permission before any grant")
	}
	env.do(t, "PUT", edgePath, token, nil)
	env.do(t, "POST", rolesPath, token, map[string]string{"role": "editor"})
	if !can(t, "articles.edit") {
		t.Fatal("Expected the attach to evict the cached denial")
	}

	// Detaching the permission must evict the cached approval.
	if rec := env.do(t, "DELETE", edgePath, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 detaching, got %d: %s", rec.Code, rec.Body.String())
	}
	if can(t, "articles.edit") {
		t.Error("Expected the detach to take effect immediately")
	}

	// Re-attach, then delete the role outright.
	env.do(t, "PUT", edgePath, token, nil)
	if !can(t, "articles.edit") {
		t.Fatal("Expected the re-attach to take effect immediately")
	}
	if rec := env.do(t, "DELETE", fmt.Sprintf("/api/v1/roles/%d", role.ID), token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 deleting role, got %d: %s", rec.Code, rec.Body.String())
	}
	if can(t, "articles.edit") {
		t.Error("Expected the role deletion to take effect immediately")
	}

	// Direct grants: grant evicts the denial, revoke evicts the approval.
	grantPath := fmt.Sprintf("/api/v1/users/%d/permissions/%d", alice.ID, perm.ID)
	if rec := env.do(t, "PUT", grantPath, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 granting, got %d: %s", rec.Code, rec.Body.String())
	}
	if !can(t, "articles.edit") {
		t.Error("Expected the direct grant to take effect immediately")
	}
	if rec := env.do(t, "DELETE", grantPath, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 revoking, got %d: %s", rec.Code, rec.Body.String())
	}
	if can(t, "articles.edit") {
		t.Error("Expected the revocation to take effect immediately")
	}

	// Deleting the permission itself clears any cached approval too.
	if rec := env.do(t, "PUT", grantPath, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 re-granting, got %d: %s", rec.Code, rec.Body.String())
	}
	if !can(t, "articles.edit") {
		t.Fatal("Expected the re-grant to take effect immediately")
	}
	if rec := env.do(t, "DELETE", fmt.Sprintf("/api/v1/permissions/%d", perm.ID), token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 deleting permission, got %d: %s", rec.Code, rec.Body.String())
	}
	if can(t, "articles.edit") {
		t.Error("Expected the permission deletion to take effect immediately")
	}
}
