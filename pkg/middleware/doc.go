// Package middleware provides the HTTP middleware stack: request IDs,
// token-based actor loading, team scope injection, and rate limiting.
//
// The intended order is RequestID, then rate limiting, then
// ActorMiddleware, then TeamScopeMiddleware, so that scope injection
// can rely on the resolved actor:
//
//	chain := httputil.Chain(
//		middleware.RequestID,
//		rateLimit.Handler,
//		actorLoader.Handler,
//		middleware.TeamScopeMiddleware(resolver, teamService),
//	)
//
// Requests pin their team scope with the X-Team-ID header; the actor
// must belong to the named team. Without the header, permission checks
// fall through to the actor's current team.
package middleware
