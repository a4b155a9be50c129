package di

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/hirekarma/feature-access-service/internal/config"
	"github.com/hirekarma/feature-access-service/internal/database"
	"github.com/hirekarma/feature-access-service/internal/events"
	"github.com/hirekarma/feature-access-service/internal/http/handler"
	"github.com/hirekarma/feature-access-service/internal/http/middleware"
	"github.com/hirekarma/feature-access-service/internal/http/router"
	"github.com/hirekarma/feature-access-service/internal/observability"
	"github.com/hirekarma/feature-access-service/internal/repository"
	"github.com/hirekarma/feature-access-service/internal/security"
	"github.com/hirekarma/feature-access-service/internal/service"
)

func ProvideLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	return logger
}

func ProvideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

// ProvideRedisClient returns nil when REDIS_URL is unset; callers treat
// a nil client as "run without the shared cache tier".
func ProvideRedisClient(cfg *config.Config, logger *slog.Logger) (*redis.Client, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("redis not configured, using in-process cache only")
		return nil, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	observability.InstrumentRedisClient(client)
	return client, func() { _ = client.Close() }, nil
}

// ProvideNATSConn returns nil when NATS_URL is unset; publisher and
// subscriber degrade to no-ops.
func ProvideNATSConn(cfg *config.Config, logger *slog.Logger) (*nats.Conn, func(), error) {
	if cfg.NATSURL == "" {
		logger.Info("nats not configured, cross-instance invalidation disabled")
		return nil, func() {}, nil
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return nc, func() { nc.Close() }, nil
}

func ProvideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func ProvideViewCache(cfg *config.Config, client *redis.Client, logger *slog.Logger) *service.FeatureViewCache {
	var store service.ViewCacheStore
	if client != nil {
		store = service.NewRedisViewCacheStore(client)
	}
	return service.NewFeatureViewCache(service.FeatureViewCacheOptions{
		StaleAfter:   cfg.ViewCacheStaleAfter,
		FetchTimeout: cfg.ViewFetchTimeout,
		Store:        store,
		StoreTTL:     cfg.RedisCacheTTL,
		Logger:       logger,
	})
}

func ProvideFeatureAccessService(
	db *gorm.DB,
	cache *service.FeatureViewCache,
	nc *nats.Conn,
	logger *slog.Logger,
) *service.FeatureAccessService {
	return service.NewFeatureAccessService(
		repository.NewFeatureFlagRepository(db),
		repository.NewTenantOverrideRepository(db),
		repository.NewTenantRepository(db),
		cache,
		events.NewNATSInvalidationPublisher(nc, logger),
		logger,
	)
}

func ProvideDBIdempotencyStore(db *gorm.DB) *service.DBIdempotencyStore {
	return service.NewDBIdempotencyStore(db)
}

// ProvideIdempotencyStore prefers the Redis store when available so
// replay protection spans replicas.
func ProvideIdempotencyStore(client *redis.Client, dbStore *service.DBIdempotencyStore) service.IdempotencyStore {
	if client != nil {
		return service.NewRedisIdempotencyStore(client)
	}
	return dbStore
}

func ProvideLimiter(client *redis.Client) middleware.Limiter {
	if client != nil {
		return middleware.NewRedisFixedWindowLimiter(client)
	}
	return middleware.NewLocalFixedWindowLimiter()
}

func ProvideSubscriber(nc *nats.Conn, svc *service.FeatureAccessService, logger *slog.Logger) *events.NATSInvalidationSubscriber {
	return events.NewNATSInvalidationSubscriber(nc, svc.HandleInvalidation, logger)
}

func ProvideReadyCheck(db *gorm.DB, client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		if client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				return err
			}
		}
		return nil
	}
}

func ProvideRouter(
	cfg *config.Config,
	logger *slog.Logger,
	jwtMgr *security.JWTManager,
	svc *service.FeatureAccessService,
	idem service.IdempotencyStore,
	limiter middleware.Limiter,
	ready func(ctx context.Context) error,
) chi.Router {
	return router.New(router.Dependencies{
		Config:         cfg,
		Logger:         logger,
		JWTManager:     jwtMgr,
		FeatureFlags:   handler.NewFeatureFlagHandler(svc),
		TenantFeatures: handler.NewTenantFeatureHandler(svc, idem),
		Dashboard:      handler.NewDashboardHandler(svc),
		Limiter:        limiter,
		ReadyCheck:     ready,
	})
}

func ProvideObservabilityRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*observability.Runtime, func(), error) {
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return runtime, func() {}, nil
}
