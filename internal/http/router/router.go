package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hirekarma/feature-access-service/internal/config"
	"github.com/hirekarma/feature-access-service/internal/http/handler"
	"github.com/hirekarma/feature-access-service/internal/http/middleware"
	"github.com/hirekarma/feature-access-service/internal/http/response"
	"github.com/hirekarma/feature-access-service/internal/security"
)

// Dependencies carries everything the router wires together.
type Dependencies struct {
	Config     *config.Config
	Logger     *slog.Logger
	JWTManager *security.JWTManager

	FeatureFlags   *handler.FeatureFlagHandler
	TenantFeatures *handler.TenantFeatureHandler
	Dashboard      *handler.DashboardHandler

	// Limiter is shared across replicas when Redis is configured and
	// falls back to the per-process window otherwise.
	Limiter middleware.Limiter

	// ReadyCheck probes the backing dependencies for /health/ready.
	ReadyCheck func(ctx context.Context) error
}

func New(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.CallerContext(deps.JWTManager))

	bypass := middleware.NewBypassEvaluator(middleware.RequestBypassConfig{
		EnableInternalProbeBypass: true,
	}, deps.JWTManager)

	failureMode := middleware.FailClosed
	if deps.Config.RedisFailureMode == "fail_open" {
		failureMode = middleware.FailOpen
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = middleware.NewLocalFixedWindowLimiter()
	}
	keyFunc := middleware.SubjectOrIPKeyFunc(deps.JWTManager)
	apiLimit := middleware.NewDistributedRateLimiterWithKey(
		limiter, deps.Config.APIRateLimitPerMin, time.Minute, failureMode, "api", keyFunc,
	).WithBypass(bypass)
	adminLimit := middleware.NewDistributedRateLimiterWithKey(
		limiter, deps.Config.AdminRateLimitPerMin, time.Minute, failureMode, "admin", keyFunc,
	).WithBypass(bypass)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.ReadyCheck != nil {
			if err := deps.ReadyCheck(r.Context()); err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", err.Error(), nil)
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiLimit.Middleware())
			r.Get("/tenants/{tenant_id}/features", deps.TenantFeatures.Resolve)
			r.Get("/tenants/{tenant_id}/student-features", deps.TenantFeatures.ResolveStudent)
		})

		r.Group(func(r chi.Router) {
			r.Use(adminLimit.Middleware())
			r.Use(middleware.RequireAdmin)
			r.Get("/features", deps.FeatureFlags.List)
			r.Post("/features/{key}/toggle", deps.FeatureFlags.Toggle)
			r.Get("/dashboard/features", deps.Dashboard.Features)
			r.Post("/tenants/{tenant_id}/features/bulk", deps.TenantFeatures.BulkApply)
			r.Put("/tenants/{tenant_id}/features/{key}", deps.TenantFeatures.Upsert)
			r.Delete("/tenants/{tenant_id}/features/{key}", deps.TenantFeatures.Remove)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	return r
}
