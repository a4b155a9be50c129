package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/observability"
	"github.com/hirekarma/feature-access-service/internal/repository"
)

// InvalidateAllTenants is the tenant token broadcast when a global flag
// mutation stales every tenant's views at once.
const InvalidateAllTenants = "all"

// InvalidationPublisher fans a cache-invalidation event out to the
// other service instances.
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, tenantID string) error
}

// OverrideInput is the full per-feature override payload. Role and
// user-type sets may only narrow the flag's global sets.
type OverrideInput struct {
	FeatureKey       string                `json:"feature_key"`
	Status           domain.OverrideStatus `json:"status"`
	CustomSettings   domain.SettingsMap    `json:"custom_settings,omitempty"`
	CustomMessage    string                `json:"custom_message,omitempty"`
	AllowedUserTypes []string              `json:"allowed_user_types,omitempty"`
	AllowedRoles     []string              `json:"allowed_roles,omitempty"`
}

// FeatureAccessService orchestrates catalog reads, server-side
// resolution, override mutations and the cache invalidation that
// follows every successful write.
type FeatureAccessService struct {
	flags     repository.FeatureFlagRepository
	overrides repository.TenantOverrideRepository
	tenants   repository.TenantRepository
	cache     *FeatureViewCache
	publisher InvalidationPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewFeatureAccessService(
	flags repository.FeatureFlagRepository,
	overrides repository.TenantOverrideRepository,
	tenants repository.TenantRepository,
	cache *FeatureViewCache,
	publisher InvalidationPublisher,
	logger *slog.Logger,
) *FeatureAccessService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeatureAccessService{
		flags:     flags,
		overrides: overrides,
		tenants:   tenants,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ListCatalog returns the paged admin catalog listing.
func (s *FeatureAccessService) ListCatalog(q repository.FlagListQuery) (repository.FlagPage, error) {
	return s.flags.ListPaged(q)
}

// ResolveForTenant returns the cached resolved views for the tenant and
// caller class, fetching through the resolution engine on a cold or
// stale entry.
func (s *FeatureAccessService) ResolveForTenant(ctx context.Context, tenantID string, caller domain.Caller) (domain.ResolvedFeatureSet, error) {
	tenant, err := s.tenants.FindByID(tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return domain.ResolvedFeatureSet{}, ErrTenantNotFound
		}
		return domain.ResolvedFeatureSet{}, &TransientError{Op: "tenant lookup", Err: err}
	}
	if !tenant.IsActive {
		return domain.ResolvedFeatureSet{}, ErrTenantNotFound
	}

	return s.cache.Get(ctx, tenantID, caller, func(fetchCtx context.Context) (domain.ResolvedFeatureSet, error) {
		return s.resolveFresh(fetchCtx, tenantID, caller)
	})
}

// ResolveStudentFeatures resolves the catalog for the student-facing
// consumer, applying the same rule order with caller type student.
func (s *FeatureAccessService) ResolveStudentFeatures(ctx context.Context, tenantID string, roles []string) (domain.ResolvedFeatureSet, error) {
	return s.ResolveForTenant(ctx, tenantID, domain.StudentCaller(roles))
}

func (s *FeatureAccessService) resolveFresh(ctx context.Context, tenantID string, caller domain.Caller) (domain.ResolvedFeatureSet, error) {
	flags, err := s.flags.List()
	if err != nil {
		return domain.ResolvedFeatureSet{}, err
	}
	overrides, err := s.overrides.ListByTenant(tenantID)
	if err != nil {
		return domain.ResolvedFeatureSet{}, err
	}

	views, diags := ResolveCatalog(flags, OverridesByKey(overrides), caller)
	for _, diag := range diags {
		observability.RecordResolutionSkip(ctx, diag.Cause)
		s.logger.WarnContext(ctx, "override skipped during resolution",
			"tenant_id", tenantID, "feature_key", diag.FeatureKey, "cause", diag.Cause)
	}
	return domain.ResolvedFeatureSet{Views: views, FetchedAt: s.now()}, nil
}

// BulkApplyOverrides validates the batch, applies it in one transaction
// and synchronously invalidates the tenant's cached views before
// returning the applied keys.
func (s *FeatureAccessService) BulkApplyOverrides(ctx context.Context, tenantID string, updates []OverrideUpdate, reason string) ([]string, error) {
	if _, err := s.tenants.FindByID(tenantID); err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, NewValidationError("tenant_id", "unknown tenant %q", tenantID)
		}
		return nil, &TransientError{Op: "tenant lookup", Err: err}
	}
	if len(updates) == 0 {
		return nil, NewValidationError("updates", "must not be empty")
	}
	changes := make([]repository.OverrideChange, 0, len(updates))
	seen := map[string]struct{}{}
	for i, u := range updates {
		if u.FeatureKey == "" {
			return nil, NewValidationError(fmt.Sprintf("updates[%d].feature_key", i), "must not be empty")
		}
		if _, dup := seen[u.FeatureKey]; dup {
			return nil, NewValidationError(fmt.Sprintf("updates[%d].feature_key", i), "duplicate key %q", u.FeatureKey)
		}
		seen[u.FeatureKey] = struct{}{}
		change := repository.OverrideChange{FeatureKey: u.FeatureKey, Enabled: u.IsEnabled, Reason: u.Reason}
		if change.Reason == "" {
			change.Reason = reason
		}
		changes = append(changes, change)
	}

	applied, err := s.overrides.BulkApply(tenantID, changes)
	if err != nil {
		observability.RecordBulkOverrideApply(ctx, "failure", len(changes))
		switch {
		case errors.Is(err, repository.ErrFeatureFlagNotFound):
			return nil, NewValidationError("updates", "%v", err)
		case errors.Is(err, repository.ErrGlobalFlagOverride):
			return nil, NewValidationError("updates", "%v", err)
		default:
			return nil, &TransientError{Op: "bulk override apply", Err: err}
		}
	}
	observability.RecordBulkOverrideApply(ctx, "success", len(applied))

	s.invalidate(ctx, tenantID)
	return applied, nil
}

// UpsertOverride replaces one tenant override wholesale, enforcing that
// role and user-type sets only narrow the flag's global sets.
func (s *FeatureAccessService) UpsertOverride(ctx context.Context, tenantID string, in OverrideInput) (*domain.TenantOverride, error) {
	if _, err := s.tenants.FindByID(tenantID); err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, NewValidationError("tenant_id", "unknown tenant %q", tenantID)
		}
		return nil, &TransientError{Op: "tenant lookup", Err: err}
	}
	if !in.Status.Valid() {
		return nil, NewValidationError("status", "must be %q or %q", domain.OverrideEnabled, domain.OverrideDisabled)
	}
	flag, err := s.flags.FindByKey(in.FeatureKey)
	if err != nil {
		if errors.Is(err, repository.ErrFeatureFlagNotFound) {
			return nil, NewValidationError("feature_key", "unknown feature %q", in.FeatureKey)
		}
		return nil, &TransientError{Op: "flag lookup", Err: err}
	}
	if len(flag.AllowedUserTypes) > 0 && !domain.StringList(in.AllowedUserTypes).IsSubsetOf(flag.AllowedUserTypes) {
		return nil, NewValidationError("allowed_user_types", "may only narrow the flag's user types")
	}
	if len(flag.AllowedRoles) > 0 && !domain.StringList(in.AllowedRoles).IsSubsetOf(flag.AllowedRoles) {
		return nil, NewValidationError("allowed_roles", "may only narrow the flag's roles")
	}

	override := &domain.TenantOverride{
		TenantID:         tenantID,
		FeatureKey:       in.FeatureKey,
		Status:           in.Status,
		CustomSettings:   in.CustomSettings,
		CustomMessage:    in.CustomMessage,
		AllowedUserTypes: in.AllowedUserTypes,
		AllowedRoles:     in.AllowedRoles,
	}
	if err := s.overrides.Upsert(override); err != nil {
		switch {
		case errors.Is(err, repository.ErrGlobalFlagOverride):
			return nil, NewValidationError("feature_key", "%v", err)
		case errors.Is(err, repository.ErrFeatureFlagNotFound):
			return nil, NewValidationError("feature_key", "unknown feature %q", in.FeatureKey)
		default:
			return nil, &TransientError{Op: "override upsert", Err: err}
		}
	}

	s.invalidate(ctx, tenantID)
	return override, nil
}

// RemoveOverride deletes one override so the tenant inherits the global
// default again.
func (s *FeatureAccessService) RemoveOverride(ctx context.Context, tenantID, featureKey string) error {
	if err := s.overrides.DeleteByTenantAndKey(tenantID, featureKey); err != nil {
		if errors.Is(err, repository.ErrOverrideNotFound) {
			return err
		}
		return &TransientError{Op: "override delete", Err: err}
	}
	s.invalidate(ctx, tenantID)
	return nil
}

// ToggleFlag flips a flag's global default. Every tenant's cached views
// are staled by a global default change.
func (s *FeatureAccessService) ToggleFlag(ctx context.Context, key string) (*domain.FeatureFlag, error) {
	flag, err := s.flags.ToggleDefault(key)
	if err != nil {
		if errors.Is(err, repository.ErrFeatureFlagNotFound) {
			return nil, err
		}
		return nil, &TransientError{Op: "flag toggle", Err: err}
	}
	s.invalidate(ctx, InvalidateAllTenants)
	return flag, nil
}

// Dashboard aggregates full snapshots into the read-only summary.
func (s *FeatureAccessService) Dashboard(ctx context.Context) (DashboardStats, error) {
	flags, err := s.flags.List()
	if err != nil {
		return DashboardStats{}, &TransientError{Op: "flag snapshot", Err: err}
	}
	overrides, err := s.overrides.ListAll()
	if err != nil {
		return DashboardStats{}, &TransientError{Op: "override snapshot", Err: err}
	}
	tenants, err := s.tenants.List()
	if err != nil {
		return DashboardStats{}, &TransientError{Op: "tenant snapshot", Err: err}
	}
	return ComputeDashboard(flags, overrides, tenants), nil
}

// HandleInvalidation maps an invalidation event from another instance
// into a cache trigger. Used by the event subscriber.
func (s *FeatureAccessService) HandleInvalidation(tenantID string) {
	if tenantID == InvalidateAllTenants {
		s.cache.TriggerRefreshAll(TriggerInvalidation)
		return
	}
	s.cache.TriggerRefresh(tenantID, TriggerInvalidation)
}

func (s *FeatureAccessService) invalidate(ctx context.Context, tenantID string) {
	if tenantID == InvalidateAllTenants {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			s.logger.WarnContext(ctx, "cache invalidation failed", "tenant_id", tenantID, "error", err)
		}
	} else if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidation failed", "tenant_id", tenantID, "error", err)
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishInvalidation(ctx, tenantID); err != nil {
		s.logger.WarnContext(ctx, "invalidation publish failed", "tenant_id", tenantID, "error", err)
	}
}
