package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/teamgate/pkg/api"
	"github.com/platinummonkey/teamgate/pkg/auth"
	"github.com/platinummonkey/teamgate/pkg/config"
	"github.com/platinummonkey/teamgate/pkg/hooks"
	"github.com/platinummonkey/teamgate/pkg/observability"
	"github.com/platinummonkey/teamgate/pkg/rbac"
	"github.com/platinummonkey/teamgate/pkg/scope"
	"github.com/platinummonkey/teamgate/pkg/teams"
)

var cleanupSchedule = flag.String("cleanup-schedule", "30 * * * *",
	"Cron schedule for expired invitation and token cleanup")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	if err := teams.RunMigrations(ctx, db); err != nil {
		return err
	}
	if err := teams.SeedReservedTeams(ctx, db, cfg.Teams); err != nil {
		return err
	}
	if err := auth.RunMigrations(ctx, db); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Cache.Backend == config.CacheBackendRedis {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	resolver := scope.NewResolver(cfg.Teams)
	manager, err := rbac.NewManager(db, resolver, logger, metrics, cfg.Cache, redisClient)
	if err != nil {
		return err
	}
	if err := manager.Initialize(ctx); err != nil {
		return err
	}
	teams.RegisterMembershipPolicies(manager.Policies())

	users := teams.NewStore(db)
	bus := hooks.NewBus()
	service := teams.NewService(users, cfg.Teams, bus, logger,
		teams.WithServiceMetrics(metrics))
	members := teams.NewMembers(users, manager.Store(), manager.Checker(), manager.Cache(),
		cfg.Teams, bus, logger, teams.WithMembersMetrics(metrics))
	cascades := teams.NewCascades(users, manager.Store(), manager.Cache(), cfg.Teams, logger,
		teams.WithCascadesMetrics(metrics))

	tokens := auth.NewTokenManager(db)
	audit := auth.NewAuditLogger(db, logger)

	server := api.NewServer(api.Deps{
		Teams:    service,
		Members:  members,
		Cascades: cascades,
		Users:    users,
		RBAC:     manager,
		Resolver: resolver,
		Tokens:   tokens,
		Audit:    audit,
		Logger:   logger,
		Registry: registry,
		Health:   observability.NewHealthChecker(db, redisClient),
		Redis:    redisClient,
	})

	sched := cron.New()
	if _, err := sched.AddFunc(*cleanupSchedule, func() {
		defer observability.RecoverPanic(logger, "expiry cleanup")
		if n, err := users.DeleteExpiredInvitations(context.Background()); err != nil {
			logger.WithError(err).Warn("invitation cleanup failed")
		} else if n > 0 {
			logger.WithField("removed", n).Info("expired invitations removed")
		}
		if n, err := tokens.CleanupExpiredTokens(context.Background()); err != nil {
			logger.WithError(err).Warn("token cleanup failed")
		} else if n > 0 {
			logger.WithField("removed", n).Info("expired tokens removed")
		}
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register("cron", func(ctx context.Context) error {
		select {
		case <-sched.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}
