// Package api exposes the HTTP surface: team and membership management,
// the role/permission catalog with grant management, permission
// introspection, API tokens and the audit trail.
//
// Every /api/v1 route runs behind the middleware chain in order:
// request ID, rate limiting, actor loading (Bearer token), team scope
// pinning (X-Team-ID). Handlers stay thin: they parse, call a service,
// and map domain errors to HTTP statuses through httputil.WriteAppError
// (404 not found, 403 denied, 409 conflict, 422 validation, 500 with a
// generic body for infrastructure failures).
//
// Routes that operate inside one team (the role and permission catalog,
// grants, introspection) resolve their team from the pinned scope when
// the X-Team-ID header is present, and from the actor's current team
// otherwise.
package api
