package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/teamgate/pkg/contextkeys"
)

func middlewareRequest(t *testing.T, handler http.Handler, actor interface{}, ctx context.Context) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/protected", nil)
	if ctx == nil {
		ctx = context.Background()
	}
	if actor != nil {
		ctx = contextkeys.WithActor(ctx, actor)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestPermissionMiddleware_RequirePermission(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	checker, resolver := newTestChecker(db)
	mw := NewPermissionMiddleware(checker)

	team := createTestTeam(t, db, "team")
	userID := createTestUser(t, db, "alice")

	perm := &Permission{Name: "article.edit", TeamID: team}
	if err := store.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("Failed to create permission: %v", err)
	}
	if err := store.GrantPermissionToUser(ctx, userID, perm.ID, team); err != nil {
		t.Fatalf("GrantPermissionToUser failed: %v", err)
	}

	handler := mw.RequirePermission("article.edit")(okHandler())
	scoped := resolver.WithTeam(ctx, team)

	t.Run("no actor", func(t *testing.T) {
		rec := middlewareRequest(t, handler, nil, scoped)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("actor with grant", func(t *testing.T) {
		rec := middlewareRequest(t, handler, testUser{id: userID}, scoped)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("actor without grant", func(t *testing.T) {
		otherID := createTestUser(t, db, "bob")
		rec := middlewareRequest(t, handler, testUser{id: otherID}, scoped)
		if rec.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", rec.Code)
		}
	})

	t.Run("super admin bypass", func(t *testing.T) {
		rec := middlewareRequest(t, handler, testUser{id: 999, superAdmin: true}, scoped)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
	})
}

func TestPermissionMiddleware_RequireAnyAndAll(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	checker, resolver := newTestChecker(db)
	mw := NewPermissionMiddleware(checker)

	team := createTestTeam(t, db, "team")
	userID := createTestUser(t, db, "alice")
	actor := testUser{id: userID}

	view := &Permission{Name: "article.view", TeamID: team}
	edit := &Permission{Name: "article.edit", TeamID: team}
	for _, perm := range []*Permission{view, edit} {
		if err := store.CreatePermission(ctx, perm); err != nil {
			t.Fatalf("Failed to create permission: %v", err)
		}
	}
	if err := store.GrantPermissionToUser(ctx, userID, view.ID, team); err != nil {
		t.Fatalf("GrantPermissionToUser failed: %v", err)
	}

	scoped := resolver.WithTeam(ctx, team)

	anyHandler := mw.RequireAnyPermission("article.edit", "article.view")(okHandler())
	rec := middlewareRequest(t, anyHandler, actor, scoped)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for any-of with one grant, got %d", rec.Code)
	}

	allHandler := mw.RequireAllPermissions("article.edit", "article.view")(okHandler())
	rec = middlewareRequest(t, allHandler, actor, scoped)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for all-of with one grant missing, got %d", rec.Code)
	}

	emptyHandler := mw.RequireAnyPermission()(okHandler())
	rec = middlewareRequest(t, emptyHandler, actor, scoped)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for empty requirement, got %d", rec.Code)
	}
}

func TestPermissionMiddleware_RequireRole(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	checker, resolver := newTestChecker(db)
	mw := NewPermissionMiddleware(checker)

	team := createTestTeam(t, db, "team")
	userID := createTestUser(t, db, "alice")

	role := &Role{Name: "editor", TeamID: team}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("Failed to create role: %v", err)
	}
	if err := store.AssignRoleToUser(ctx, userID, role.ID, team); err != nil {
		t.Fatalf("AssignRoleToUser failed: %v", err)
	}

	handler := mw.RequireRole("editor")(okHandler())
	scoped := resolver.WithTeam(ctx, team)

	rec := middlewareRequest(t, handler, testUser{id: userID}, scoped)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for role holder, got %d", rec.Code)
	}

	otherID := createTestUser(t, db, "bob")
	rec = middlewareRequest(t, handler, testUser{id: otherID}, scoped)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without role, got %d", rec.Code)
	}
}
