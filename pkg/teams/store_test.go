package teams

import (
	"context"
	"testing"
	"time"

	"github.com/platinummonkey/teamgate/pkg/apperr"
)

func TestStore_UserLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	user := createUser(t, store, "alice", "alice@example.com")
	if user.ID == 0 {
		t.Fatal("Expected user id to be assigned")
	}

	got, err := store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("Expected email alice@example.com, got %s", got.Email)
	}

	byEmail, err := store.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("Expected same user, got id %d", byEmail.ID)
	}

	_, err = store.GetUserByEmail(ctx, "nobody@example.com")
	if !apperr.IsNotFound(err) {
		t.Errorf("Expected not-found for unknown email, got %v", err)
	}
}

func TestStore_SetCurrentTeam(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	user := createUser(t, store, "alice", "alice@example.com")
	team := createTeam(t, store, "acme", user.ID)

	if err := store.SetCurrentTeam(ctx, nil, user.ID, &team.ID); err != nil {
		t.Fatalf("SetCurrentTeam failed: %v", err)
	}
	got, err := store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.CurrentTeamID == nil || *got.CurrentTeamID != team.ID {
		t.Errorf("Expected current team %d, got %v", team.ID, got.CurrentTeamID)
	}

	err = store.SetCurrentTeam(ctx, nil, 9999, &team.ID)
	if !apperr.IsNotFound(err) {
		t.Errorf("Expected not-found for unknown user, got %v", err)
	}
}

func TestStore_MembershipAttachDetachRestore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	user := createUser(t, store, "alice", "alice@example.com")
	team := createTeam(t, store, "acme", user.ID)

	attach(t, store, team.ID, user.ID, "editor")

	member, err := store.IsMember(ctx, team.ID, user.ID)
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if !member {
		t.Error("Expected membership after attach")
	}

	if err := store.DetachMember(ctx, nil, team.ID, user.ID); err != nil {
		t.Fatalf("DetachMember failed: %v", err)
	}
	member, _ = store.IsMember(ctx, team.ID, user.ID)
	if member {
		t.Error("Expected no live membership after detach")
	}

	// A second attach restores the soft-deleted row rather than
	// violating the unique constraint.
	if err := store.AttachMember(ctx, nil, team.ID, user.ID, "member"); err != nil {
		t.Fatalf("Re-attach failed: %v", err)
	}
	m, err := store.GetMembership(ctx, team.ID, user.ID)
	if err != nil {
		t.Fatalf("GetMembership failed: %v", err)
	}
	if m.Role != "member" {
		t.Errorf("Expected restored membership with role member, got %s", m.Role)
	}
}

func TestStore_ListUserTeamsAndCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	user := createUser(t, store, "alice", "alice@example.com")
	teamA := createTeam(t, store, "team-a", user.ID)
	teamB := createTeam(t, store, "team-b", user.ID)
	attach(t, store, teamA.ID, user.ID, "admin")
	attach(t, store, teamB.ID, user.ID, "editor")

	teams, err := store.ListUserTeams(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListUserTeams failed: %v", err)
	}
	if len(teams) != 2 {
		t.Fatalf("Expected 2 teams, got %d", len(teams))
	}

	count, err := store.CountUserTeams(ctx, nil, user.ID)
	if err != nil {
		t.Fatalf("CountUserTeams failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}

	if err := store.DetachMember(ctx, nil, teamB.ID, user.ID); err != nil {
		t.Fatalf("DetachMember failed: %v", err)
	}
	count, _ = store.CountUserTeams(ctx, nil, user.ID)
	if count != 1 {
		t.Errorf("Expected count 1 after detach, got %d", count)
	}
}

func TestStore_DetachMemberExcept(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	user := createUser(t, store, "alice", "alice@example.com")
	teamA := createTeam(t, store, "team-a", user.ID)
	teamB := createTeam(t, store, "team-b", user.ID)
	attach(t, store, 2, user.ID, "member")
	attach(t, store, teamA.ID, user.ID, "editor")
	attach(t, store, teamB.ID, user.ID, "editor")

	if err := store.DetachMemberExcept(ctx, nil, user.ID, 2); err != nil {
		t.Fatalf("DetachMemberExcept failed: %v", err)
	}

	ids, err := store.ListUserTeamIDs(ctx, nil, user.ID)
	if err != nil {
		t.Fatalf("ListUserTeamIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Expected only the default team to remain, got %v", ids)
	}
}

func TestStore_ListMembers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	owner := createUser(t, store, "alice", "alice@example.com")
	other := createUser(t, store, "bob", "bob@example.com")
	team := createTeam(t, store, "acme", owner.ID)
	attach(t, store, team.ID, owner.ID, "admin")
	attach(t, store, team.ID, other.ID, "member")

	members, err := store.ListMembers(ctx, team.ID)
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}
	if members[0].Email == "" || members[0].Name == "" {
		t.Error("Expected member rows to carry user name and email")
	}
}

func TestStore_Invitations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	owner := createUser(t, store, "alice", "alice@example.com")
	team := createTeam(t, store, "acme", owner.ID)

	inv := &Invitation{
		TeamID:    team.ID,
		Email:     "new@example.com",
		Role:      "editor",
		Token:     "tok-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := store.CreateInvitation(ctx, nil, inv); err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	got, err := store.GetInvitationByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetInvitationByToken failed: %v", err)
	}
	if got.Email != "new@example.com" {
		t.Errorf("Expected invitation email, got %s", got.Email)
	}

	live, err := store.GetLiveInvitation(ctx, team.ID, "new@example.com")
	if err != nil {
		t.Fatalf("GetLiveInvitation failed: %v", err)
	}

	invitations, err := store.ListInvitations(ctx, team.ID)
	if err != nil {
		t.Fatalf("ListInvitations failed: %v", err)
	}
	if len(invitations) != 1 {
		t.Fatalf("Expected 1 invitation, got %d", len(invitations))
	}

	if err := store.DeleteInvitation(ctx, nil, live.ID); err != nil {
		t.Fatalf("DeleteInvitation failed: %v", err)
	}
	if _, err := store.GetInvitationByToken(ctx, "tok-1"); !apperr.IsNotFound(err) {
		t.Errorf("Expected not-found after delete, got %v", err)
	}
}

func TestStore_DeleteExpiredInvitations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	owner := createUser(t, store, "alice", "alice@example.com")
	team := createTeam(t, store, "acme", owner.ID)

	expired := &Invitation{
		TeamID: team.ID, Email: "old@example.com", Role: "member",
		Token: "tok-old", ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	fresh := &Invitation{
		TeamID: team.ID, Email: "new@example.com", Role: "member",
		Token: "tok-new", ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	for _, inv := range []*Invitation{expired, fresh} {
		if err := store.CreateInvitation(ctx, nil, inv); err != nil {
			t.Fatalf("CreateInvitation failed: %v", err)
		}
	}

	removed, err := store.DeleteExpiredInvitations(ctx)
	if err != nil {
		t.Fatalf("DeleteExpiredInvitations failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
	if _, err := store.GetInvitationByToken(ctx, "tok-new"); err != nil {
		t.Errorf("Expected fresh invitation to survive, got %v", err)
	}
}

func TestStore_SoftDeletedTeamInvisible(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	owner := createUser(t, store, "alice", "alice@example.com")
	team := createTeam(t, store, "acme", owner.ID)

	if _, err := db.Exec(`UPDATE teams SET deleted_at = $1 WHERE id = $2`, time.Now().UTC(), team.ID); err != nil {
		t.Fatalf("Failed to soft delete team: %v", err)
	}

	if _, err := store.GetTeam(ctx, team.ID); !apperr.IsNotFound(err) {
		t.Errorf("Expected soft-deleted team to be invisible, got %v", err)
	}
}
