// Package observability provides structured logging, Prometheus metrics, and health checks.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and graceful shutdown coordination.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("Server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("Request failed")
//
// Security-relevant events (denials, blocked deletions, destructive cascades) go
// through the dedicated channel so they can be routed separately:
//
//	logger.Security().WithField("team_id", teamID).Warn("reserved team deletion blocked")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.PermissionChecksTotal.WithLabelValues("allowed", "role").Inc()
//	metrics.CascadesTotal.WithLabelValues("team", "soft_delete", "success").Inc()
//
// Business metrics:
//
//	metrics.TeamsTotal.Set(float64(count))
//	metrics.ActiveUsersTotal.Set(float64(activeUsers))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	report := checker.Check(ctx)
//
// Liveness and Readiness are http.HandlerFuncs, served by the API
// router as /healthz and /readyz. A lost Redis degrades readiness; only
// a lost database fails it.
//
// # Graceful Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.Register("database", func(ctx context.Context) error { return db.Close() })
//	err := sm.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request logging middleware
package observability
