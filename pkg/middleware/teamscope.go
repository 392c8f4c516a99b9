package middleware

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/teamgate/pkg/httputil"
	"github.com/platinummonkey/teamgate/pkg/scope"
	"github.com/platinummonkey/teamgate/pkg/teams"
)

// TeamScopeHeader selects the team a request operates under.
const TeamScopeHeader = "X-Team-ID"

// TeamScopeMiddleware injects the active team scope. A request may pin
// the scope with the X-Team-ID header; the actor must belong to that
// team. Without the header the scope falls through to the actor's
// current team at check time.
func TeamScopeMiddleware(resolver *scope.Resolver, service *teams.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(TeamScopeHeader)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			teamID, err := strconv.ParseInt(header, 10, 64)
			if err != nil {
				httputil.WriteBadRequest(w, "invalid team id")
				return
			}

			actor := ActorFromRequest(r)
			if actor == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			team, err := service.GetTeam(r.Context(), teamID)
			if err != nil {
				httputil.WriteAppError(w, err)
				return
			}

			if !actor.IsSuperAdmin() {
				belongs, err := service.BelongsToTeam(r.Context(), actor, team)
				if err != nil {
					httputil.WriteAppError(w, err)
					return
				}
				if !belongs {
					httputil.WriteForbidden(w, "not a member of the requested team")
					return
				}
			}

			ctx := resolver.WithTeam(r.Context(), teamID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
