package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/teamgate/pkg/auth"
	"github.com/platinummonkey/teamgate/pkg/contextkeys"
	"github.com/platinummonkey/teamgate/pkg/httputil"
	"github.com/platinummonkey/teamgate/pkg/teams"
)

// ActorMiddleware resolves the Bearer token on each request to a user
// and stores it in the context for the handlers and permission gates.
type ActorMiddleware struct {
	tokens   *auth.TokenManager
	users    *teams.Store
	optional bool // If true, allow requests without a token
}

// NewActorMiddleware creates an actor-loading middleware.
func NewActorMiddleware(tokens *auth.TokenManager, users *teams.Store, optional bool) *ActorMiddleware {
	return &ActorMiddleware{
		tokens:   tokens,
		users:    users,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with actor resolution.
func (m *ActorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		apiToken, err := m.tokens.ValidateToken(r.Context(), parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		actor, err := m.users.GetUser(r.Context(), apiToken.UserID)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithActor(r.Context(), actor)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(actor.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromRequest extracts the authenticated user from the request
// context. Nil when the request carried no valid token.
func ActorFromRequest(r *http.Request) *teams.User {
	actor, _ := r.Context().Value(contextkeys.ActorKey).(*teams.User)
	return actor
}
