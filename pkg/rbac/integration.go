package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/observability"
	"github.com/platinummonkey/teamgate/pkg/scope"
)

// Manager wires the authorization components together for the server.
type Manager struct {
	store      *Store
	checker    *PermissionChecker
	middleware *PermissionMiddleware
	policies   *PolicyRegistry
	cache      PermissionCache
	cfg        config.TeamsConfig
}

// NewManager builds the store, cache, checker and middleware from
// configuration. The cache backend is selected by cacheCfg.Backend:
// "lru", "redis" or "none". A redis backend requires a non-nil client.
func NewManager(db *sql.DB, resolver *scope.Resolver, logger *observability.Logger, metrics *observability.Metrics, cacheCfg config.CacheConfig, redisClient *redis.Client) (*Manager, error) {
	var cache PermissionCache
	switch cacheCfg.Backend {
	case config.CacheBackendLRU:
		cache = NewLRUCache(cacheCfg.LRUSize, cacheCfg.TTL)
	case config.CacheBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis cache backend requires a redis client")
		}
		cache = NewRedisCache(redisClient, cacheCfg.TTL)
	case config.CacheBackendNone:
		cache = NoopCache{}
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cacheCfg.Backend)
	}

	store := NewStore(db)
	policies := NewPolicyRegistry()
	checker := NewPermissionChecker(store, resolver, logger,
		WithCache(cache),
		WithPolicies(policies),
		WithMetrics(metrics),
	)

	return &Manager{
		store:      store,
		checker:    checker,
		middleware: NewPermissionMiddleware(checker),
		policies:   policies,
		cache:      cache,
		cfg:        resolver.Config(),
	}, nil
}

// Initialize runs schema migrations and seeds the reserved admin
// catalog (the super admin role in the admin team). Safe to call on
// every startup.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.store.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := SeedAdminCatalog(ctx, m.store, m.cfg.AdminTeamID, m.cfg.SuperAdminRole); err != nil {
		return fmt.Errorf("failed to seed admin catalog: %w", err)
	}
	return nil
}

// Store returns the authorization store.
func (m *Manager) Store() *Store {
	return m.store
}

// Checker returns the permission checker.
func (m *Manager) Checker() *PermissionChecker {
	return m.checker
}

// Middleware returns the permission middleware.
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// Policies returns the policy registry for ability fallbacks.
func (m *Manager) Policies() *PolicyRegistry {
	return m.policies
}

// Cache returns the permission cache so membership cascades can
// invalidate it.
func (m *Manager) Cache() PermissionCache {
	return m.cache
}

// Stats reports catalog and grant counts, used by the health endpoint
// and the business metrics collector.
type Stats struct {
	TotalPermissions int64
	TotalRoles       int64
	TotalUserRoles   int64
	TotalUserPerms   int64
}

// GetStats returns authorization statistics.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM permissions", &stats.TotalPermissions},
		{"SELECT COUNT(*) FROM roles", &stats.TotalRoles},
		{"SELECT COUNT(*) FROM user_roles", &stats.TotalUserRoles},
		{"SELECT COUNT(*) FROM user_permissions", &stats.TotalUserPerms},
	}
	for _, c := range counts {
		if err := m.store.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	return stats, nil
}
