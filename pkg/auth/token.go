package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/teamgate/pkg/apperr"
)

const (
	// TokenPrefix identifies tokens issued by this service.
	TokenPrefix = "teamgate_"
	// TokenLength is the number of random bytes per token.
	TokenLength = 32
)

// TokenGenerator generates and validates API tokens.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token.
// Format: teamgate_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	hash := sha256.Sum256([]byte(fullToken))
	hashStr := hex.EncodeToString(hash[:])

	// First 8 chars after the prefix identify the token in listings.
	prefix := TokenPrefix
	if len(encodedToken) >= 8 {
		prefix = TokenPrefix + encodedToken[:8]
	}

	return fullToken, hashStr, prefix, nil
}

// HashToken computes the SHA256 hash of a token for lookup.
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format.
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// ExtractPrefix extracts the display prefix from a token.
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) >= 8 {
		return TokenPrefix + encodedPart[:8]
	}

	return token
}

// TokenManager manages the API token lifecycle against the database.
type TokenManager struct {
	db        *sql.DB
	generator *TokenGenerator
}

// NewTokenManager creates a new token manager.
func NewTokenManager(db *sql.DB) *TokenManager {
	return &TokenManager{
		db:        db,
		generator: NewTokenGenerator(),
	}
}

// RunMigrations creates the api_tokens and audit_logs tables.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS api_tokens (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			token_hash VARCHAR(64) NOT NULL UNIQUE,
			token_prefix VARCHAR(32) NOT NULL,
			name VARCHAR(255) NOT NULL,
			expires_at TIMESTAMP,
			last_used_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			revoked_at TIMESTAMP,
			revoked_by BIGINT,
			revoke_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT,
			team_id BIGINT,
			action VARCHAR(255) NOT NULL,
			resource_type VARCHAR(255) NOT NULL,
			resource_id VARCHAR(255) NOT NULL DEFAULT '',
			ip_address VARCHAR(64) NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("auth migration failed: %w", err)
		}
	}
	return nil
}

// CreateToken issues a new API token for the user. The plaintext token
// is returned once and never persisted.
func (tm *TokenManager) CreateToken(ctx context.Context, userID int64, name string, ttl time.Duration) (*APIToken, string, error) {
	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken()
	if err != nil {
		return nil, "", apperr.Infrastructure("create token", err)
	}

	apiToken := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		CreatedAt:   time.Now().UTC(),
	}
	if ttl > 0 {
		expires := apiToken.CreatedAt.Add(ttl)
		apiToken.ExpiresAt = &expires
	}

	err = tm.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, apiToken.UserID, apiToken.TokenHash, apiToken.TokenPrefix, apiToken.Name,
		apiToken.ExpiresAt, apiToken.CreatedAt).Scan(&apiToken.ID)
	if err != nil {
		return nil, "", apperr.Infrastructure("create token", err)
	}

	return apiToken, token, nil
}

// ValidateToken resolves a presented token to its live record. Unknown,
// revoked and expired tokens are all reported the same way.
func (tm *TokenManager) ValidateToken(ctx context.Context, token string) (*APIToken, error) {
	if err := tm.generator.ValidateTokenFormat(token); err != nil {
		return nil, apperr.Denied("invalid or expired token")
	}

	tokenHash := tm.generator.HashToken(token)

	apiToken := &APIToken{}
	err := tm.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, token_prefix, name, expires_at, last_used_at,
		       created_at, revoked_at, revoked_by, revoke_reason
		FROM api_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&apiToken.ID, &apiToken.UserID, &apiToken.TokenHash, &apiToken.TokenPrefix,
		&apiToken.Name, &apiToken.ExpiresAt, &apiToken.LastUsedAt,
		&apiToken.CreatedAt, &apiToken.RevokedAt, &apiToken.RevokedBy, &apiToken.RevokeReason,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.Denied("invalid or expired token")
	}
	if err != nil {
		return nil, apperr.Infrastructure("validate token", err)
	}

	now := time.Now().UTC()
	if apiToken.Revoked() || apiToken.Expired(now) {
		return nil, apperr.Denied("invalid or expired token")
	}

	// Best effort; a failed touch never rejects the request.
	tm.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, apiToken.ID)

	return apiToken, nil
}

// RevokeToken revokes a token. Revocation is permanent.
func (tm *TokenManager) RevokeToken(ctx context.Context, tokenID, revokedBy int64, reason string) error {
	res, err := tm.db.ExecContext(ctx, `
		UPDATE api_tokens
		SET revoked_at = $1, revoked_by = $2, revoke_reason = $3
		WHERE id = $4 AND revoked_at IS NULL
	`, time.Now().UTC(), revokedBy, reason, tokenID)
	if err != nil {
		return apperr.Infrastructure("revoke token", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperr.Infrastructure("revoke token", err)
	}
	if affected == 0 {
		return apperr.NotFound("token", tokenID)
	}
	return nil
}

// ListUserTokens lists a user's tokens, newest first, revoked included.
func (tm *TokenManager) ListUserTokens(ctx context.Context, userID int64) ([]*APIToken, error) {
	rows, err := tm.db.QueryContext(ctx, `
		SELECT id, user_id, token_hash, token_prefix, name, expires_at, last_used_at,
		       created_at, revoked_at, revoked_by, revoke_reason
		FROM api_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, apperr.Infrastructure("list tokens", err)
	}
	defer rows.Close()

	var tokens []*APIToken
	for rows.Next() {
		t := &APIToken{}
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.TokenHash, &t.TokenPrefix, &t.Name,
			&t.ExpiresAt, &t.LastUsedAt, &t.CreatedAt,
			&t.RevokedAt, &t.RevokedBy, &t.RevokeReason,
		); err != nil {
			return nil, apperr.Infrastructure("list tokens", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// CleanupExpiredTokens hard-deletes tokens past their expiry and
// returns how many were removed.
func (tm *TokenManager) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	res, err := tm.db.ExecContext(ctx,
		`DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`,
		time.Now().UTC())
	if err != nil {
		return 0, apperr.Infrastructure("cleanup tokens", err)
	}
	return res.RowsAffected()
}
