package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/teamgate/pkg/apperr"
	"github.com/platinummonkey/teamgate/pkg/auth"
	"github.com/platinummonkey/teamgate/pkg/httputil"
	"github.com/platinummonkey/teamgate/pkg/middleware"
)

// TokenHandlers serves API token issuance and the audit trail.
type TokenHandlers struct {
	tokens *auth.TokenManager
	audit  *auth.AuditLogger
}

// NewTokenHandlers creates a new TokenHandlers
func NewTokenHandlers(tokens *auth.TokenManager, audit *auth.AuditLogger) *TokenHandlers {
	return &TokenHandlers{
		tokens: tokens,
		audit:  audit,
	}
}

// RegisterRoutes registers token and audit routes
func (h *TokenHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tokens", h.CreateToken).Methods("POST")
	router.HandleFunc("/tokens", h.ListTokens).Methods("GET")
	router.HandleFunc("/tokens/{id}", h.RevokeToken).Methods("DELETE")
	router.HandleFunc("/audit", h.ListAudit).Methods("GET")
}

// CreateToken issues a new API token for the caller. The plaintext
// appears in this response and nowhere else.
func (h *TokenHandlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)

	var req struct {
		Name     string `json:"name"`
		TTLHours int    `json:"ttl_hours,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	var ttl time.Duration
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}

	token, plaintext, err := h.tokens.CreateToken(r.Context(), actor.ID, req.Name, ttl)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "token.create", "api_token", strconv.FormatInt(token.ID, 10), auth.StatusSuccess, nil)
	httputil.WriteCreated(w, map[string]interface{}{
		"token":     token,
		"plaintext": plaintext,
	})
}

// ListTokens lists the caller's tokens, newest first. Hashes never
// leave the database.
func (h *TokenHandlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)

	list, err := h.tokens.ListUserTokens(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// RevokeToken revokes one of the caller's tokens. Super admins may
// revoke anyone's.
func (h *TokenHandlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	actor := middleware.ActorFromRequest(r)

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	// A body is optional on revocation.
	httputil.ParseJSON(r, &req)

	if !actor.IsSuperAdmin() {
		owned, err := h.ownsToken(r, actor.ID, id)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		if !owned {
			httputil.WriteAppError(w, apperr.Denied("not your token"))
			return
		}
	}

	if err := h.tokens.RevokeToken(r.Context(), id, actor.ID, req.Reason); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	h.audit.LogFromRequest(r, &actor.ID, "token.revoke", "api_token", strconv.FormatInt(id, 10), auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}

// ListAudit returns recent audit entries. Super admin only.
func (h *TokenHandlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromRequest(r)
	if !actor.IsSuperAdmin() {
		httputil.WriteAppError(w, apperr.Denied("only super admins may read the audit trail"))
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid limit")
		return
	}

	entries, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}

func (h *TokenHandlers) ownsToken(r *http.Request, userID, tokenID int64) (bool, error) {
	list, err := h.tokens.ListUserTokens(r.Context(), userID)
	if err != nil {
		return false, err
	}
	for _, t := range list {
		if t.ID == tokenID {
			return true, nil
		}
	}
	return false, nil
}
