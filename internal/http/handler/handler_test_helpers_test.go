package handler

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/http/middleware"
	"github.com/hirekarma/feature-access-service/internal/repository"
	"github.com/hirekarma/feature-access-service/internal/security"
	"github.com/hirekarma/feature-access-service/internal/service"
)

const handlerTestSecret = "abcdefghijklmnopqrstuvwxyz123456"

type handlerFixture struct {
	db     *gorm.DB
	svc    *service.FeatureAccessService
	jwtMgr *security.JWTManager
	router chi.Router
	tenant domain.Tenant
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.Tenant{},
		&domain.FeatureFlag{},
		&domain.TenantOverride{},
		&domain.IdempotencyRecord{},
	); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	tenant := domain.Tenant{ID: uuid.NewString(), Name: "State University", Slug: "state-u", IsActive: true}
	if err := db.Create(&tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	cache := service.NewFeatureViewCache(service.FeatureViewCacheOptions{StaleAfter: time.Minute})
	svc := service.NewFeatureAccessService(
		repository.NewFeatureFlagRepository(db),
		repository.NewTenantOverrideRepository(db),
		repository.NewTenantRepository(db),
		cache,
		nil,
		nil,
	)

	jwtMgr := security.NewJWTManager("iss", "aud", handlerTestSecret)
	idem := service.NewDBIdempotencyStore(db)

	flagHandler := NewFeatureFlagHandler(svc)
	tenantHandler := NewTenantFeatureHandler(svc, idem)
	dashboardHandler := NewDashboardHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.CallerContext(jwtMgr))
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/features", flagHandler.List)
			r.Post("/features/{key}/toggle", flagHandler.Toggle)
			r.Get("/dashboard/features", dashboardHandler.Features)
			r.Post("/tenants/{tenant_id}/features/bulk", tenantHandler.BulkApply)
			r.Put("/tenants/{tenant_id}/features/{key}", tenantHandler.Upsert)
			r.Delete("/tenants/{tenant_id}/features/{key}", tenantHandler.Remove)
		})
		r.Get("/tenants/{tenant_id}/features", tenantHandler.Resolve)
		r.Get("/tenants/{tenant_id}/student-features", tenantHandler.ResolveStudent)
	})

	return &handlerFixture{db: db, svc: svc, jwtMgr: jwtMgr, router: r, tenant: tenant}
}

func (f *handlerFixture) createFlag(t *testing.T, flag domain.FeatureFlag) domain.FeatureFlag {
	t.Helper()
	if err := f.db.Create(&flag).Error; err != nil {
		t.Fatalf("create flag %s: %v", flag.Key, err)
	}
	return flag
}

func (f *handlerFixture) adminToken(t *testing.T) string {
	t.Helper()
	raw, err := f.jwtMgr.SignAccessToken("admin-1", domain.UserTypeAdmin, nil, time.Minute)
	if err != nil {
		t.Fatalf("sign admin token: %v", err)
	}
	return raw
}

func (f *handlerFixture) studentToken(t *testing.T, roles []string) string {
	t.Helper()
	raw, err := f.jwtMgr.SignAccessToken("student-1", domain.UserTypeStudent, roles, time.Minute)
	if err != nil {
		t.Fatalf("sign student token: %v", err)
	}
	return raw
}

func authorize(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
