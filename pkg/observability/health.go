package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// Dependency health verdicts.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// HealthChecker answers liveness and readiness probes. Liveness only
// says the process is up; readiness pings the database and, when the
// cache backend is Redis, the Redis server.
type HealthChecker struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthChecker creates a checker over the given dependencies. Either
// may be nil, in which case it is skipped.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redisClient}
}

// HealthReport is the readiness payload.
type HealthReport struct {
	Status       string                 `json:"status"`
	Timestamp    time.Time              `json:"timestamp"`
	Dependencies map[string]ProbeResult `json:"dependencies,omitempty"`
}

// ProbeResult is one dependency's verdict.
type ProbeResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Liveness reports 200 whenever the process can serve requests at all.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusOK,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness probes every dependency. Only a down database makes the
// service not ready; a lost Redis degrades it but requests still work
// through the fallbacks.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := h.Check(ctx)
	code := http.StatusOK
	if report.Status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, code, report)
}

// Check probes the configured dependencies and folds their verdicts
// into an overall status.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:       StatusOK,
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]ProbeResult),
	}

	if h.db != nil {
		res := h.probeDatabase(ctx)
		report.Dependencies["database"] = res
		switch res.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusOK {
				report.Status = StatusDegraded
			}
		}
	}

	if h.redis != nil {
		res := h.probeRedis(ctx)
		report.Dependencies["redis"] = res
		// Redis only backs the permission cache and shared rate limit
		// budgets; both have in-process fallbacks.
		if res.Status == StatusDown && report.Status == StatusOK {
			report.Status = StatusDegraded
		}
	}

	return report
}

func (h *HealthChecker) probeDatabase(ctx context.Context) ProbeResult {
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		return ProbeResult{Status: StatusDown, Message: err.Error(), LatencyMS: msSince(start)}
	}
	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return ProbeResult{Status: StatusDown, Message: err.Error(), LatencyMS: msSince(start)}
	}
	res := ProbeResult{Status: StatusOK, LatencyMS: msSince(start)}
	if stats := h.db.Stats(); stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		res.Status = StatusDegraded
		res.Message = "connection pool exhausted"
	}
	return res
}

func (h *HealthChecker) probeRedis(ctx context.Context) ProbeResult {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ProbeResult{Status: StatusDown, Message: err.Error(), LatencyMS: msSince(start)}
	}
	return ProbeResult{Status: StatusOK, LatencyMS: msSince(start)}
}

func msSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func writeHealthJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
