package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/teamgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Team/RBAC configuration
	Teams TeamsConfig

	// Cache configuration
	Cache CacheConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds persistence settings
type DatabaseConfig struct {
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// TeamsConfig holds the team-scoped RBAC settings. The two reserved team
// IDs identify the admin team (global role/permission catalog) and the
// default team (fallback membership for users not assigned elsewhere).
type TeamsConfig struct {
	AdminTeamID        int64
	DefaultTeamID      int64
	SuperAdminRole     string
	MemberRoles        []string
	TeamScopingEnabled bool
	InvitationTTL      time.Duration

	// Quotas. Zero means unlimited.
	MaxTeamsPerUser   int
	MaxMembersPerTeam int
}

// Permission cache backends.
const (
	CacheBackendLRU   = "lru"
	CacheBackendRedis = "redis"
	CacheBackendNone  = "none"
)

// CacheConfig holds permission cache settings
type CacheConfig struct {
	Backend  string // CacheBackendLRU, CacheBackendRedis or CacheBackendNone
	TTL      time.Duration
	LRUSize  int
	RedisURL string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Teams:         loadTeamsConfig(),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TEAMGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TEAMGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TEAMGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TEAMGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TEAMGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TEAMGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:     getEnv("TEAMGATE_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("TEAMGATE_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("TEAMGATE_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TEAMGATE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadTeamsConfig() TeamsConfig {
	return TeamsConfig{
		AdminTeamID:        getEnvInt64("TEAMGATE_ADMIN_TEAM_ID", 1),
		DefaultTeamID:      getEnvInt64("TEAMGATE_DEFAULT_TEAM_ID", 2),
		SuperAdminRole:     getEnv("TEAMGATE_SUPER_ADMIN_ROLE", "super_admin"),
		MemberRoles:        splitCSV(getEnv("TEAMGATE_MEMBER_ROLES", "admin,editor,member")),
		TeamScopingEnabled: getEnvBool("TEAMGATE_TEAM_SCOPING_ENABLED", true),
		InvitationTTL:      getEnvDuration("TEAMGATE_INVITATION_TTL", 7*24*time.Hour),
		MaxTeamsPerUser:    int(getEnvInt64("TEAMGATE_MAX_TEAMS_PER_USER", 0)),
		MaxMembersPerTeam:  int(getEnvInt64("TEAMGATE_MAX_MEMBERS_PER_TEAM", 0)),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:  getEnv("TEAMGATE_CACHE_BACKEND", "lru"),
		TTL:      getEnvDuration("TEAMGATE_CACHE_TTL", 5*time.Minute),
		LRUSize:  getEnvInt("TEAMGATE_CACHE_LRU_SIZE", 4096),
		RedisURL: getEnv("TEAMGATE_REDIS_URL", "redis://localhost:6379/0"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("TEAMGATE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("TEAMGATE_METRICS_ENABLED", true),
	}
}

// IsReservedTeam reports whether teamID is one of the two reserved,
// non-deletable teams.
func (c TeamsConfig) IsReservedTeam(teamID int64) bool {
	return teamID == c.AdminTeamID || teamID == c.DefaultTeamID
}

// IsAllowedMemberRole reports whether role is in the configured vocabulary
// of team-member role labels.
func (c TeamsConfig) IsAllowedMemberRole(role string) bool {
	for _, r := range c.MemberRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Teams.AdminTeamID <= 0 {
		return fmt.Errorf("admin team ID must be positive")
	}
	if c.Teams.DefaultTeamID <= 0 {
		return fmt.Errorf("default team ID must be positive")
	}
	if c.Teams.AdminTeamID == c.Teams.DefaultTeamID {
		return fmt.Errorf("admin team and default team must be different")
	}
	if c.Teams.SuperAdminRole == "" {
		return fmt.Errorf("super admin role name is required")
	}
	if len(c.Teams.MemberRoles) == 0 {
		return fmt.Errorf("at least one member role label is required")
	}

	switch c.Cache.Backend {
	case CacheBackendLRU:
		if c.Cache.LRUSize <= 0 {
			return fmt.Errorf("LRU cache size must be positive")
		}
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache backend")
		}
	case CacheBackendNone:
	default:
		return fmt.Errorf("invalid cache backend: %s (must be lru, redis, or none)", c.Cache.Backend)
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
