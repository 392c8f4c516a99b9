// Package httputil holds the shared HTTP plumbing: JSON responses,
// request parsing, and the outer middleware chain.
//
// Handlers decode and validate with the OrError helpers, which write
// the failure response themselves:
//
//	var req addMemberRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return
//	}
//
// Domain errors map to status codes through the apperr taxonomy:
//
//	httputil.WriteAppError(w, err) // 404/403/409/422, anything else is a generic 500
//
// The outer chain wraps the router before any routing happens:
//
//	handler := httputil.Chain(
//		httputil.NewRecoveryMiddleware(logger),
//		httputil.NewLoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// Authentication and team scoping live in pkg/middleware and are
// registered per-subrouter, not here.
package httputil
