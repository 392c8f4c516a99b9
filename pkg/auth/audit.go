package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/observability"
)

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusDenied  = "denied"
	StatusFailure = "failure"
)

// AuditLogger writes the security audit trail. Entries go to the
// audit_logs table and are mirrored on the security log channel.
type AuditLogger struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(db *sql.DB, logger *observability.Logger) *AuditLogger {
	return &AuditLogger{db: db, logger: logger}
}

// LogAction records one audit entry.
func (al *AuditLogger) LogAction(ctx context.Context, entry *AuditEntry) error {
	if entry.Action == "" {
		return fmt.Errorf("action is required")
	}
	if entry.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if entry.Status == "" {
		return fmt.Errorf("status is required")
	}

	entry.CreatedAt = time.Now().UTC()

	err := al.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (user_id, team_id, action, resource_type, resource_id,
			ip_address, user_agent, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, entry.UserID, entry.TeamID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.IPAddress, entry.UserAgent, entry.Status, entry.ErrorMessage,
		entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return apperr.Infrastructure("audit log", err)
	}

	if al.logger != nil {
		al.logger.Security().WithFields(map[string]interface{}{
			"action":        entry.Action,
			"resource_type": entry.ResourceType,
			"resource_id":   entry.ResourceID,
			"status":        entry.Status,
		}).Info("audit")
	}
	return nil
}

// LogFromRequest records an audit entry built from an HTTP request.
func (al *AuditLogger) LogFromRequest(r *http.Request, actorID *int64, action, resourceType, resourceID, status string, cause error) error {
	entry := &AuditEntry{
		UserID:       actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	return al.LogAction(r.Context(), entry)
}

// ListRecent returns the newest audit entries, up to limit.
func (al *AuditLogger) ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := al.db.QueryContext(ctx, `
		SELECT id, user_id, team_id, action, resource_type, resource_id,
		       ip_address, user_agent, status, error_message, created_at
		FROM audit_logs
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperr.Infrastructure("list audit entries", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.TeamID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.IPAddress, &e.UserAgent, &e.Status, &e.ErrorMessage, &e.CreatedAt,
		); err != nil {
			return nil, apperr.Infrastructure("list audit entries", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
