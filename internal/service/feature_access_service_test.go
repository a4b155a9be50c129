package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/repository"
)

type stubFlagRepo struct {
	listCalls   atomic.Int64
	listFn      func() ([]domain.FeatureFlag, error)
	listPagedFn func(q repository.FlagListQuery) (repository.FlagPage, error)
	findByKeyFn func(key string) (*domain.FeatureFlag, error)
	toggleFn    func(key string) (*domain.FeatureFlag, error)
}

func (s *stubFlagRepo) List() ([]domain.FeatureFlag, error) {
	s.listCalls.Add(1)
	return s.listFn()
}

func (s *stubFlagRepo) ListPaged(q repository.FlagListQuery) (repository.FlagPage, error) {
	return s.listPagedFn(q)
}

func (s *stubFlagRepo) FindByKey(key string) (*domain.FeatureFlag, error) { return s.findByKeyFn(key) }
func (s *stubFlagRepo) Create(*domain.FeatureFlag) error                  { return nil }
func (s *stubFlagRepo) Update(*domain.FeatureFlag) error                  { return nil }
func (s *stubFlagRepo) ToggleDefault(key string) (*domain.FeatureFlag, error) {
	return s.toggleFn(key)
}
func (s *stubFlagRepo) Delete(uint) error { return nil }

type stubOverrideRepo struct {
	listAllFn      func() ([]domain.TenantOverride, error)
	listByTenantFn func(tenantID string) ([]domain.TenantOverride, error)
	bulkApplyFn    func(tenantID string, changes []repository.OverrideChange) ([]string, error)
	upsertFn       func(override *domain.TenantOverride) error
	deleteFn       func(tenantID, featureKey string) error
}

func (s *stubOverrideRepo) ListAll() ([]domain.TenantOverride, error) { return s.listAllFn() }
func (s *stubOverrideRepo) ListByTenant(tenantID string) ([]domain.TenantOverride, error) {
	return s.listByTenantFn(tenantID)
}
func (s *stubOverrideRepo) FindByTenantAndKey(string, string) (*domain.TenantOverride, error) {
	return nil, repository.ErrOverrideNotFound
}
func (s *stubOverrideRepo) Upsert(override *domain.TenantOverride) error { return s.upsertFn(override) }
func (s *stubOverrideRepo) BulkApply(tenantID string, changes []repository.OverrideChange) ([]string, error) {
	return s.bulkApplyFn(tenantID, changes)
}
func (s *stubOverrideRepo) DeleteByTenantAndKey(tenantID, featureKey string) error {
	return s.deleteFn(tenantID, featureKey)
}

type stubTenantRepo struct {
	findByIDFn func(id string) (*domain.Tenant, error)
	listFn     func() ([]domain.Tenant, error)
}

func (s *stubTenantRepo) List() ([]domain.Tenant, error)           { return s.listFn() }
func (s *stubTenantRepo) FindByID(id string) (*domain.Tenant, error) { return s.findByIDFn(id) }
func (s *stubTenantRepo) FindBySlug(string) (*domain.Tenant, error) {
	return nil, repository.ErrTenantNotFound
}
func (s *stubTenantRepo) Create(*domain.Tenant) error { return nil }

type stubPublisher struct {
	mu      sync.Mutex
	tenants []string
}

func (s *stubPublisher) PublishInvalidation(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, tenantID)
	return nil
}

func (s *stubPublisher) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tenants...)
}

type stubViewStore struct {
	mu       sync.Mutex
	tenants  []string
	allCalls int
}

func (s *stubViewStore) Get(context.Context, string) (domain.ResolvedFeatureSet, bool, error) {
	return domain.ResolvedFeatureSet{}, false, nil
}

func (s *stubViewStore) Set(context.Context, string, string, domain.ResolvedFeatureSet, time.Duration) error {
	return nil
}

func (s *stubViewStore) InvalidateTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, tenantID)
	return nil
}

func (s *stubViewStore) InvalidateAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allCalls++
	return nil
}

func (s *stubViewStore) invalidateAllCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allCalls
}

const svcTestTenant = "6d2f0c4b-9e1a-4f7c-8d3b-5a6e7f8c9d0e"

func activeTenant(id string) *domain.Tenant {
	return &domain.Tenant{ID: id, Name: "Demo University", Slug: "demo", IsActive: true}
}

func newServiceForTest(flags *stubFlagRepo, overrides *stubOverrideRepo, tenants *stubTenantRepo, publisher *stubPublisher) *FeatureAccessService {
	cache := NewFeatureViewCache(FeatureViewCacheOptions{
		StaleAfter:   time.Minute,
		FetchTimeout: time.Second,
	})
	var pub InvalidationPublisher
	if publisher != nil {
		pub = publisher
	}
	return NewFeatureAccessService(flags, overrides, tenants, cache, pub, nil)
}

func TestResolveForTenantUnknownTenant(t *testing.T) {
	tenants := &stubTenantRepo{findByIDFn: func(string) (*domain.Tenant, error) {
		return nil, repository.ErrTenantNotFound
	}}
	svc := newServiceForTest(&stubFlagRepo{}, &stubOverrideRepo{}, tenants, nil)

	_, err := svc.ResolveForTenant(context.Background(), svcTestTenant, domain.StudentCaller(nil))
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestResolveForTenantInactiveTenant(t *testing.T) {
	tenants := &stubTenantRepo{findByIDFn: func(id string) (*domain.Tenant, error) {
		return &domain.Tenant{ID: id, IsActive: false}, nil
	}}
	svc := newServiceForTest(&stubFlagRepo{}, &stubOverrideRepo{}, tenants, nil)

	_, err := svc.ResolveForTenant(context.Background(), svcTestTenant, domain.StudentCaller(nil))
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound for inactive tenant, got %v", err)
	}
}

func TestResolveForTenantResolvesAndCaches(t *testing.T) {
	flags := &stubFlagRepo{listFn: func() ([]domain.FeatureFlag, error) {
		return []domain.FeatureFlag{
			{Key: "dark_mode", IsActive: true, DefaultEnabled: false},
			{Key: "job_search", IsActive: true, DefaultEnabled: true},
		}, nil
	}}
	overrides := &stubOverrideRepo{listByTenantFn: func(string) ([]domain.TenantOverride, error) {
		return []domain.TenantOverride{
			{TenantID: svcTestTenant, FeatureKey: "dark_mode", Status: domain.OverrideEnabled},
		}, nil
	}}
	tenants := &stubTenantRepo{findByIDFn: func(id string) (*domain.Tenant, error) {
		return activeTenant(id), nil
	}}
	svc := newServiceForTest(flags, overrides, tenants, nil)

	set, err := svc.ResolveForTenant(context.Background(), svcTestTenant, domain.StudentCaller(nil))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(set.Views) != 2 {
		t.Fatalf("expected view per flag, got %+v", set.Views)
	}
	if !set.Views[0].IsAvailable || set.Views[0].AccessReason != domain.ReasonTenantEnabled {
		t.Fatalf("expected dark_mode tenant_enabled, got %+v", set.Views[0])
	}

	// A second read within the staleness window hits the cache.
	if _, err := svc.ResolveForTenant(context.Background(), svcTestTenant, domain.StudentCaller(nil)); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if got := flags.listCalls.Load(); got != 1 {
		t.Fatalf("expected one catalog read, got %d", got)
	}
}

func TestResolveStudentFeaturesAppliesStudentCaller(t *testing.T) {
	flags := &stubFlagRepo{listFn: func() ([]domain.FeatureFlag, error) {
		return []domain.FeatureFlag{
			{Key: "faculty_console", IsActive: true, DefaultEnabled: true,
				AllowedUserTypes: domain.StringList{domain.UserTypeUniversity}},
			{Key: "practice_ide", IsActive: true, DefaultEnabled: true,
				AllowedUserTypes: domain.StringList{domain.UserTypeStudent}},
		}, nil
	}}
	overrides := &stubOverrideRepo{listByTenantFn: func(string) ([]domain.TenantOverride, error) {
		return nil, nil
	}}
	tenants := &stubTenantRepo{findByIDFn: func(id string) (*domain.Tenant, error) {
		return activeTenant(id), nil
	}}
	svc := newServiceForTest(flags, overrides, tenants, nil)

	set, err := svc.ResolveStudentFeatures(context.Background(), svcTestTenant, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if set.Views[0].AccessReason != domain.ReasonRoleRestricted {
		t.Fatalf("expected faculty_console role_restricted for students, got %+v", set.Views[0])
	}
	if !set.Views[1].IsAvailable {
		t.Fatalf("expected practice_ide available for students, got %+v", set.Views[1])
	}
}

func TestBulkApplyOverridesValidation(t *testing.T) {
	tenants := &stubTenantRepo{findByIDFn: func(id string) (*domain.Tenant, error) {
		if id == svcTestTenant {
			return activeTenant(id), nil
		}
		return nil, repository.ErrTenantNotFound
	}}
	bulkCalls := 0
	overrides := &stubOverrideRepo{bulkApplyFn: func(string, []repository.OverrideChange) ([]string, error) {
		bulkCalls++
		return nil, nil
	}}
	svc := newServiceForTest(&stubFlagRepo{}, overrides, tenants, nil)
	ctx := context.Background()

	if _, err := svc.BulkApplyOverrides(ctx, "unknown-tenant", []OverrideUpdate{{FeatureKey: "a", IsEnabled: true}}, ""); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown tenant, got %v", err)
	}
	if _, err := svc.BulkApplyOverrides(ctx, svcTestTenant, nil, ""); !IsValidation(err) {
		t.Fatalf("expected validation error for empty batch, got %v", err)
	}
	if _, err := svc.BulkApplyOverrides(ctx, svcTestTenant, []OverrideUpdate{
		{FeatureKey: "a", IsEnabled: true},
		{FeatureKey: "a", IsEnabled: false},
	}, ""); !IsValidation(err) {
		t.Fatalf("expected validation error for duplicate keys, got %v", err)
	}
	if bulkCalls != 0 {
		t.Fatalf("expected rejection before any mutation, saw %d bulk calls", bulkCalls)
	}
}

func TestBulkApplyOverridesMapsRepositoryErrors(t *testing.T) {
	tenants := &stubTenantRepo{findByIDFn: func(id string) (*domain.Tenant, error) {
		return activeTenant(id), nil
	}}
	overrides := &stubOverrideRepo{bulkApplyFn: func(string, []repository.OverrideChange) ([]string, error) {
		return nil, repository.ErrFeatureFlagNotFound
	}}
	svc := newServiceForTest(&stubFlagRepo{}, overrides, tenants, nil)

	_, err := svc.BulkApplyOverrides(context.Background(), svcTestTenant, []OverrideUpdate{{FeatureKey: "ghost", IsEnabled: true}}, "")
	if !IsValidation(err) {
		t.Fatalf("expected validation error for dangling key, got %v", err)
	}

	overrides.bulkApplyFn = func(string, []repository.OverrideChange) ([]string, error) {
		return nil, errors.New("connection reset")
	}
	_, err = svc.BulkApplyOverrides(context.Background(), svcTestTenant, []OverrideUpdate{{FeatureKey: "a", IsEnabled: true}}, "")
	if !IsTransient(err) {
		t.Fatalf("expected transient error for backend failure, got %v", err)
	}
}

func TestBulkApplyOverridesInvalidatesCacheAndPublishes(t *testing.T) {
	flags := &stubFlagRepo{listFn: func() ([]domain.FeatureFlag, error) {
		return []domain.FeatureFlag{{Key: "job_search", IsActive: true, DefaultEnabled: true}}, nil
	}}
	overrides := &stubOverrideRepo{
		listByTenantFn: func(string) ([]domain.TenantOverride, error) { return nil, nil },
		bulkApplyFn: func(_ string, changes []repository.OverrideChange) ([]string, error) {
			keys := make([]string, 0, len(changes))
			for _, c := range changes {
				keys = append(keys, c.FeatureKey)
			}
			return keys, nil
		},
	}
	tenants := &stubTenantRepo{findByIDFn: func(id string) (*domain.Tenant, error) {
		return activeTenant(id), nil
	}}
	publisher := &stubPublisher{}
	svc := newServiceForTest(flags, overrides, tenants, publisher)
	ctx := context.Background()

	if _, err := svc.ResolveForTenant(ctx, svcTestTenant, domain.StudentCaller(nil)); err != nil {
		t.Fatalf("warm up: %v", err)
	}

	applied, err := svc.BulkApplyOverrides(ctx, svcTestTenant, []OverrideUpdate{{FeatureKey: "job_search", IsEnabled: false}}, "maintenance")
	if err != nil {
		t.Fatalf("bulk apply: %v", err)
	}
	if len(applied) != 1 || applied[0] != "job_search" {
		t.Fatalf("unexpected applied keys: %v", applied)
	}
	if got := publisher.published(); len(got) != 1 || got[0] != svcTestTenant {
		t.Fatalf("expected invalidation event, got %v", got)
	}

	// The save dropped the cache entry, so the next read refetches.
	if _, err := svc.ResolveForTenant(ctx, svcTestTenant, domain.StudentCaller(nil)); err != nil {
		t.Fatalf("resolve after save: %v", err)
	}
	if got := flags.listCalls.Load(); got != 2 {
		t.Fatalf("expected refetch after invalidation, got %d catalog reads", got)
	}
}

func TestUpsertOverrideRejectsRoleWidening(t *testing.T) {
	tenants := &stubTenantRepo{findByIDFn: func(id string) (*domain.Tenant, error) {
		return activeTenant(id), nil
	}}
	flags := &stubFlagRepo{findByKeyFn: func(string) (*domain.FeatureFlag, error) {
		return &domain.FeatureFlag{
			Key: "exam_portal", IsActive: true,
			AllowedUserTypes: domain.StringList{domain.UserTypeStudent},
		}, nil
	}}
	svc := newServiceForTest(flags, &stubOverrideRepo{}, tenants, nil)

	_, err := svc.UpsertOverride(context.Background(), svcTestTenant, OverrideInput{
		FeatureKey:       "exam_portal",
		Status:           domain.OverrideEnabled,
		AllowedUserTypes: []string{domain.UserTypeStudent, domain.UserTypeAdmin},
	})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for widened user types, got %v", err)
	}
}

func TestUpsertOverrideAcceptsNarrowingAndPublishes(t *testing.T) {
	tenants := &stubTenantRepo{findByIDFn: func(id string) (*domain.Tenant, error) {
		return activeTenant(id), nil
	}}
	flags := &stubFlagRepo{findByKeyFn: func(string) (*domain.FeatureFlag, error) {
		return &domain.FeatureFlag{
			Key: "exam_portal", IsActive: true,
			AllowedRoles: domain.StringList{"proctor", "registrar"},
		}, nil
	}}
	var stored *domain.TenantOverride
	overrides := &stubOverrideRepo{upsertFn: func(ov *domain.TenantOverride) error {
		stored = ov
		return nil
	}}
	publisher := &stubPublisher{}
	svc := newServiceForTest(flags, overrides, tenants, publisher)

	_, err := svc.UpsertOverride(context.Background(), svcTestTenant, OverrideInput{
		FeatureKey:   "exam_portal",
		Status:       domain.OverrideEnabled,
		AllowedRoles: []string{"proctor"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if stored == nil || stored.FeatureKey != "exam_portal" || stored.Status != domain.OverrideEnabled {
		t.Fatalf("unexpected stored override: %+v", stored)
	}
	if got := publisher.published(); len(got) != 1 {
		t.Fatalf("expected invalidation event, got %v", got)
	}
}

func TestToggleFlagBroadcastsGlobalInvalidation(t *testing.T) {
	flags := &stubFlagRepo{toggleFn: func(key string) (*domain.FeatureFlag, error) {
		return &domain.FeatureFlag{Key: key, DefaultEnabled: true}, nil
	}}
	publisher := &stubPublisher{}
	svc := newServiceForTest(flags, &stubOverrideRepo{}, &stubTenantRepo{}, publisher)

	flag, err := svc.ToggleFlag(context.Background(), "job_search")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !flag.DefaultEnabled {
		t.Fatalf("unexpected flag: %+v", flag)
	}
	if got := publisher.published(); len(got) != 1 || got[0] != InvalidateAllTenants {
		t.Fatalf("expected broadcast invalidation, got %v", got)
	}
}

func TestToggleFlagFlushesSharedViewStore(t *testing.T) {
	flags := &stubFlagRepo{toggleFn: func(key string) (*domain.FeatureFlag, error) {
		return &domain.FeatureFlag{Key: key, DefaultEnabled: true}, nil
	}}
	store := &stubViewStore{}
	cache := NewFeatureViewCache(FeatureViewCacheOptions{
		StaleAfter:   time.Minute,
		FetchTimeout: time.Second,
		Store:        store,
	})
	svc := NewFeatureAccessService(flags, &stubOverrideRepo{}, &stubTenantRepo{}, cache, nil, nil)

	if _, err := svc.ToggleFlag(context.Background(), "job_search"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := store.invalidateAllCalls(); got != 1 {
		t.Fatalf("expected one shared-store flush, got %d", got)
	}
}

func TestDashboardAggregatesSnapshots(t *testing.T) {
	flags := &stubFlagRepo{listFn: func() ([]domain.FeatureFlag, error) {
		return []domain.FeatureFlag{
			{Key: "job_search", Category: "careers", IsActive: true, DefaultEnabled: true},
			{Key: "practice_ide", Category: "learning", IsActive: true, DefaultEnabled: false},
		}, nil
	}}
	overrides := &stubOverrideRepo{listAllFn: func() ([]domain.TenantOverride, error) {
		return []domain.TenantOverride{
			{TenantID: svcTestTenant, FeatureKey: "practice_ide", Status: domain.OverrideEnabled},
		}, nil
	}}
	tenants := &stubTenantRepo{listFn: func() ([]domain.Tenant, error) {
		return []domain.Tenant{{ID: svcTestTenant, Name: "Demo University"}}, nil
	}}
	svc := newServiceForTest(flags, overrides, tenants, nil)

	stats, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if stats.TotalFlags != 2 || stats.ActiveFlags != 2 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if len(stats.Tenants) != 1 || stats.Tenants[0].EnabledCount != 2 || stats.Tenants[0].EnablementPercent != 100 {
		t.Fatalf("unexpected tenant row: %+v", stats.Tenants)
	}
}
