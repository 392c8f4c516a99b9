package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/teamgate/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, nil)
}

func TestAuditLogger_LogAction(t *testing.T) {
	db := setupTestDB(t)
	al := NewAuditLogger(db, testLogger())
	ctx := context.Background()

	userID := int64(7)
	entry := &AuditEntry{
		UserID:       &userID,
		Action:       "team.delete",
		ResourceType: "team",
		ResourceID:   "12",
		Status:       StatusSuccess,
	}
	if err := al.LogAction(ctx, entry); err != nil {
		t.Fatalf("LogAction failed: %v", err)
	}
	if entry.ID == 0 {
		t.Error("Expected entry ID to be set")
	}

	entries, err := al.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "team.delete" {
		t.Errorf("Unexpected entries: %+v", entries)
	}
	if entries[0].UserID == nil || *entries[0].UserID != 7 {
		t.Error("Expected user id carried through")
	}
}

func TestAuditLogger_LogAction_RequiredFields(t *testing.T) {
	db := setupTestDB(t)
	al := NewAuditLogger(db, testLogger())
	ctx := context.Background()

	for _, entry := range []*AuditEntry{
		{ResourceType: "team", Status: StatusSuccess},
		{Action: "team.delete", Status: StatusSuccess},
		{Action: "team.delete", ResourceType: "team"},
	} {
		if err := al.LogAction(ctx, entry); err == nil {
			t.Errorf("Expected rejection for incomplete entry %+v", entry)
		}
	}
}

func TestAuditLogger_LogFromRequest(t *testing.T) {
	db := setupTestDB(t)
	al := NewAuditLogger(db, testLogger())

	r := httptest.NewRequest("DELETE", "/api/v1/teams/12", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	r.Header.Set("User-Agent", "teamgate-cli/1.0")

	actorID := int64(7)
	cause := errors.New("reserved teams cannot be deleted")
	if err := al.LogFromRequest(r, &actorID, "team.delete", "team", "12", StatusDenied, cause); err != nil {
		t.Fatalf("LogFromRequest failed: %v", err)
	}

	entries, err := al.ListRecent(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	e := entries[0]
	if e.IPAddress != "203.0.113.9" {
		t.Errorf("Expected forwarded IP, got %s", e.IPAddress)
	}
	if e.UserAgent != "teamgate-cli/1.0" {
		t.Errorf("Expected user agent, got %s", e.UserAgent)
	}
	if e.Status != StatusDenied || e.ErrorMessage == "" {
		t.Errorf("Expected denied status with cause, got %+v", e)
	}
}
