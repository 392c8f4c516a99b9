// Package auth provides API token issuance and the security audit trail.
//
// # Tokens
//
// Tokens have the form "teamgate_<base64url(32 random bytes)>". Only a
// SHA256 hash is stored; the plaintext is returned exactly once at
// creation. Validation treats unknown, revoked and expired tokens
// identically so callers cannot probe which tokens exist:
//
//	apiToken, plaintext, err := manager.CreateToken(ctx, userID, "ci", 30*24*time.Hour)
//	// hand plaintext to the caller, keep apiToken.TokenPrefix for listings
//
//	apiToken, err := manager.ValidateToken(ctx, bearer)
//	// err is an authorization failure for anything but a live token
//
// # Audit Trail
//
// AuditLogger persists security-relevant events (logins, denials,
// deletions) to audit_logs and mirrors them on the security log
// channel.
package auth
