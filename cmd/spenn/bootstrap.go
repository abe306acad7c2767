package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/spenn-service/internal/app"
	"github.com/transfa/spenn-service/internal/config"
	"github.com/transfa/spenn-service/internal/oppdrag"
	"github.com/transfa/spenn-service/internal/store"
	"github.com/transfa/spenn-service/pkg/identityclient"
	"github.com/transfa/spenn-service/pkg/simuleringclient"
)

// runtime holds what every command needs: configuration, a logger and the database.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	db     *pgxpool.Pool
}

func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	db, err := connectDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("database connection established")

	return &runtime{cfg: cfg, logger: logger, db: db}, nil
}

func (rt *runtime) close() {
	rt.db.Close()
}

func connectDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func (rt *runtime) service() *app.Service {
	repository := store.NewPostgresRepository(rt.db)
	codec := oppdrag.NewCodec(rt.cfg.Fagomraade)
	keys := oppdrag.NewKeyGenerator(time.Now)
	return app.NewService(repository, codec, keys, rt.logger)
}

// simulator returns nil when no simulation service is configured.
func (rt *runtime) simulator() app.Simulator {
	if rt.cfg.SimulationServiceURL == "" {
		rt.logger.Warn("simulation service url missing; simulation disabled", "env", "SIMULATION_SERVICE_URL")
		return nil
	}
	return simuleringclient.NewClient(rt.cfg.SimulationServiceURL)
}

// identity returns nil when no identity service is configured; events must then carry
// a national id.
func (rt *runtime) identity() app.IdentityResolver {
	if rt.cfg.IdentityServiceURL == "" {
		rt.logger.Warn("identity service url missing; actor ids cannot be resolved", "env", "IDENTITY_SERVICE_URL")
		return nil
	}
	return identityclient.NewClient(rt.cfg.IdentityServiceURL, rt.cfg.IdentityServiceAPIKey)
}

// locker returns the lease lock every replica shares. The store is chosen by
// configuration alone: with REDIS_URL set, an unreachable Redis is a startup error and
// never falls back to Postgres. The returned func releases the Redis connection.
func (rt *runtime) locker(ctx context.Context) (store.Locker, func(), error) {
	if rt.cfg.RedisURL == "" {
		rt.logger.Info("redis url missing; using postgres lease lock", "env", "REDIS_URL")
		return store.NewPostgresLocker(rt.db, rt.cfg.ReconciliationLockTTL, lockOwner()), func() {}, nil
	}

	opts, err := redis.ParseURL(rt.cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	rt.logger.Info("redis connected; using redis lease lock")
	return app.NewRedisLocker(client, rt.cfg.LockKeyPrefix, rt.cfg.ReconciliationLockTTL), func() { client.Close() }, nil
}

func lockOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "spenn"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
