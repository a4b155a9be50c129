package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/hirekarma/feature-access-service/internal/config"
	"github.com/hirekarma/feature-access-service/internal/database"
	"github.com/hirekarma/feature-access-service/internal/events"
	"github.com/hirekarma/feature-access-service/internal/observability"
	"github.com/hirekarma/feature-access-service/internal/service"
)

const (
	shutdownTimeout          = 15 * time.Second
	idempotencyCleanupEvery  = time.Hour
	idempotencyCleanupBatch  = 500
	subscriberRestartBackoff = 5 * time.Second
)

// App owns the HTTP server and the background loops that keep the view
// cache and the idempotency table healthy.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *gorm.DB
	router     chi.Router
	cache      *service.FeatureViewCache
	idemDB     *service.DBIdempotencyStore
	subscriber *events.NATSInvalidationSubscriber
	obs        *observability.Runtime
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	db *gorm.DB,
	router chi.Router,
	cache *service.FeatureViewCache,
	idemDB *service.DBIdempotencyStore,
	subscriber *events.NATSInvalidationSubscriber,
	obs *observability.Runtime,
) *App {
	return &App{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		router:     router,
		cache:      cache,
		idemDB:     idemDB,
		subscriber: subscriber,
		obs:        obs,
	}
}

// Run migrates, seeds the flag catalog, then serves until ctx is
// canceled. Background loops stop with the server.
func (a *App) Run(ctx context.Context) error {
	if err := database.Migrate(a.db); err != nil {
		return err
	}
	report, err := database.SeedSync(a.db)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "flag catalog synced",
		"created_flags", report.CreatedFlags,
		"created_tenants", report.CreatedTenants,
		"existing_flags", report.ExistingFlags)

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	go a.cache.Run(loopCtx, a.cfg.ViewRefreshInterval)
	go a.runIdempotencyCleanup(loopCtx)
	if a.subscriber != nil {
		go a.runSubscriber(loopCtx)
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.HTTPPort,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.InfoContext(ctx, "http server listening", "port", a.cfg.HTTPPort, "env", a.cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	cancelLoops()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("observability shutdown failed", "error", err.Error())
		}
	}
	return nil
}

// RunMigrationOnly applies schema and catalog sync then exits. Used by
// the migrate subcommand in deploy pipelines.
func (a *App) RunMigrationOnly() error {
	if err := database.Migrate(a.db); err != nil {
		return err
	}
	report, err := database.SeedSync(a.db)
	if err != nil {
		return err
	}
	a.logger.Info("migration complete",
		"created_flags", report.CreatedFlags,
		"created_tenants", report.CreatedTenants,
		"existing_flags", report.ExistingFlags)
	return nil
}

func (a *App) runIdempotencyCleanup(ctx context.Context) {
	if a.idemDB == nil {
		return
	}
	ticker := time.NewTicker(idempotencyCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.idemDB.CleanupExpired(ctx, time.Now(), idempotencyCleanupBatch)
			if err != nil {
				a.logger.WarnContext(ctx, "idempotency cleanup failed", "error", err.Error())
				continue
			}
			if removed > 0 {
				a.logger.InfoContext(ctx, "idempotency records pruned", "count", removed)
			}
		}
	}
}

func (a *App) runSubscriber(ctx context.Context) {
	for {
		err := a.subscriber.Start(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		a.logger.WarnContext(ctx, "invalidation subscriber stopped", "error", err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(subscriberRestartBackoff):
		}
	}
}
