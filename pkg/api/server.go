package api

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/teamgate/pkg/auth"
	"github.com/platinummonkey/teamgate/pkg/httputil"
	"github.com/platinummonkey/teamgate/pkg/middleware"
	"github.com/platinummonkey/teamgate/pkg/observability"
	"github.com/platinummonkey/teamgate/pkg/rbac"
	"github.com/platinummonkey/teamgate/pkg/scope"
	"github.com/platinummonkey/teamgate/pkg/teams"
)

// Deps carries everything the HTTP surface needs. cmd/teamgate builds one
// after the stores and services are wired.
type Deps struct {
	Teams    *teams.Service
	Members  *teams.Members
	Cascades *teams.Cascades
	Users    *teams.Store
	RBAC     *rbac.Manager
	Resolver *scope.Resolver
	Tokens   *auth.TokenManager
	Audit    *auth.AuditLogger
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Health   *observability.HealthChecker

	// Optional. When set, rate limiting is enforced through Redis so that
	// multiple replicas share one budget; otherwise each process keeps
	// in-memory token buckets.
	Redis *redis.Client
}

// Server is the HTTP API. All /api/v1 routes sit behind the middleware
// chain: request ID, rate limiting, actor loading, team scope pinning.
type Server struct {
	router *mux.Router
	deps   Deps
}

// NewServer builds the router and registers every handler group.
func NewServer(deps Deps) *Server {
	if deps.Health == nil {
		deps.Health = observability.NewHealthChecker(nil, nil)
	}
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.routes()
	return s
}

// Handler returns the root handler, ready for http.Server.
func (s *Server) Handler() http.Handler {
	return httputil.Chain(
		httputil.NewRecoveryMiddleware(s.deps.Logger),
		httputil.NewLoggingMiddleware(s.deps.Logger),
		httputil.MaxBytesMiddleware(1<<20),
	)(s.router)
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods("GET")
	s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods("GET")
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(middleware.RequestID))
	api.Use(s.rateLimit())
	api.Use(mux.MiddlewareFunc(middleware.NewActorMiddleware(s.deps.Tokens, s.deps.Users, false).Handler))
	api.Use(mux.MiddlewareFunc(middleware.TeamScopeMiddleware(s.deps.Resolver, s.deps.Teams)))

	NewTeamHandlers(s.deps.Teams, s.deps.Cascades, s.deps.Audit).RegisterRoutes(api)
	NewMemberHandlers(s.deps.Teams, s.deps.Members, s.deps.Users, s.deps.Audit).RegisterRoutes(api)
	NewGrantHandlers(s.deps.RBAC.Store(), s.deps.RBAC.Checker(), s.deps.Users, s.deps.Resolver).RegisterRoutes(api)
	NewTokenHandlers(s.deps.Tokens, s.deps.Audit).RegisterRoutes(api)
}

func (s *Server) rateLimit() mux.MiddlewareFunc {
	if s.deps.Redis != nil {
		return middleware.NewDistributedRateLimitMiddleware(s.deps.Redis).Handler
	}
	return middleware.NewRateLimitMiddleware().Handler
}
