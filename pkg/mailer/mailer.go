package mailer

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Invitation is the mail-facing subset of a team invitation.
type Invitation struct {
	TeamID    int64
	Email     string
	Role      string
	Token     string
	ExpiresAt string
}

// Mailer delivers team invitation notifications.
type Mailer interface {
	SendInvitation(ctx context.Context, inv Invitation, teamName string) error
}

// LogMailer writes invitations to the log instead of sending mail.
// Useful for development and as the default wiring when no SMTP
// transport is configured.
type LogMailer struct {
	log *logrus.Logger
}

// NewLogMailer creates a LogMailer. A nil logger uses the logrus
// standard logger.
func NewLogMailer(log *logrus.Logger) *LogMailer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) SendInvitation(_ context.Context, inv Invitation, teamName string) error {
	m.log.WithFields(logrus.Fields{
		"team_id":    inv.TeamID,
		"team_name":  teamName,
		"email":      inv.Email,
		"role":       inv.Role,
		"expires_at": inv.ExpiresAt,
	}).Info("invitation mail")
	return nil
}

// Dispatch sends the invitation in a background goroutine, logging any
// failure. Callers invoke it after their transaction commits; delivery
// never affects the outcome of the operation that created the
// invitation.
func Dispatch(m Mailer, inv Invitation, teamName string, log *logrus.Logger) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	go func() {
		if err := m.SendInvitation(context.Background(), inv, teamName); err != nil {
			log.WithFields(logrus.Fields{
				"team_id": inv.TeamID,
				"email":   inv.Email,
			}).WithError(err).Warn("invitation mail delivery failed")
		}
	}()
}
