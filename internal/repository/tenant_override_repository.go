package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/observability"
)

var (
	ErrOverrideNotFound   = errors.New("tenant override not found")
	ErrGlobalFlagOverride = errors.New("global flags cannot carry a tenant override")
)

// OverrideChange is one entry of a bulk mutation.
type OverrideChange struct {
	FeatureKey string
	Enabled    bool
	Reason     string
}

type TenantOverrideRepository interface {
	ListAll() ([]domain.TenantOverride, error)
	ListByTenant(tenantID string) ([]domain.TenantOverride, error)
	FindByTenantAndKey(tenantID, featureKey string) (*domain.TenantOverride, error)
	Upsert(override *domain.TenantOverride) error
	// BulkApply applies every change in one transaction; either all
	// listed keys are updated or none are.
	BulkApply(tenantID string, changes []OverrideChange) ([]string, error)
	DeleteByTenantAndKey(tenantID, featureKey string) error
}

type GormTenantOverrideRepository struct{ db *gorm.DB }

func NewTenantOverrideRepository(db *gorm.DB) TenantOverrideRepository {
	return &GormTenantOverrideRepository{db: db}
}

func (r *GormTenantOverrideRepository) ListAll() ([]domain.TenantOverride, error) {
	var overrides []domain.TenantOverride
	err := r.db.Order("tenant_id asc, feature_key asc").Find(&overrides).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "tenant_override", "list_all", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant_override", "list_all", "success")
	return overrides, nil
}

func (r *GormTenantOverrideRepository) ListByTenant(tenantID string) ([]domain.TenantOverride, error) {
	var overrides []domain.TenantOverride
	err := r.db.Where("tenant_id = ?", tenantID).Order("feature_key asc").Find(&overrides).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "tenant_override", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant_override", "list", "success")
	return overrides, nil
}

func (r *GormTenantOverrideRepository) FindByTenantAndKey(tenantID, featureKey string) (*domain.TenantOverride, error) {
	var override domain.TenantOverride
	err := r.db.Where("tenant_id = ? AND feature_key = ?", tenantID, normalizeKey(featureKey)).First(&override).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "tenant_override", "find", "not_found")
			return nil, ErrOverrideNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "tenant_override", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant_override", "find", "success")
	return &override, nil
}

// Upsert replaces the override row for (tenant, feature) wholesale.
// CustomSettings from the incoming row win as-is; merging with flag
// settings happens at resolution time, not at write time.
func (r *GormTenantOverrideRepository) Upsert(override *domain.TenantOverride) error {
	override.FeatureKey = normalizeKey(override.FeatureKey)
	err := r.db.Transaction(func(tx *gorm.DB) error {
		flag, err := flagForOverride(tx, override.FeatureKey)
		if err != nil {
			return err
		}
		override.FeatureFlagID = flag.ID
		stampTransition(override)

		var existing domain.TenantOverride
		err = tx.Where("tenant_id = ? AND feature_key = ?", override.TenantID, override.FeatureKey).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(override).Error
		case err != nil:
			return err
		default:
			override.ID = existing.ID
			override.CreatedAt = existing.CreatedAt
			return tx.Save(override).Error
		}
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "tenant_override", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant_override", "upsert", "success")
	return nil
}

func (r *GormTenantOverrideRepository) BulkApply(tenantID string, changes []OverrideChange) ([]string, error) {
	applied := make([]string, 0, len(changes))
	err := r.db.Transaction(func(tx *gorm.DB) error {
		for _, change := range changes {
			key := normalizeKey(change.FeatureKey)
			flag, err := flagForOverride(tx, key)
			if err != nil {
				return fmt.Errorf("apply %s: %w", key, err)
			}

			status := domain.OverrideDisabled
			if change.Enabled {
				status = domain.OverrideEnabled
			}
			override := domain.TenantOverride{
				TenantID:      tenantID,
				FeatureFlagID: flag.ID,
				FeatureKey:    key,
				Status:        status,
			}
			stampTransition(&override)

			var existing domain.TenantOverride
			err = tx.Where("tenant_id = ? AND feature_key = ?", tenantID, key).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&override).Error; err != nil {
					return fmt.Errorf("apply %s: %w", key, err)
				}
			case err != nil:
				return fmt.Errorf("apply %s: %w", key, err)
			default:
				override.ID = existing.ID
				override.CreatedAt = existing.CreatedAt
				// Custom settings and message survive a status flip;
				// the status transition itself is a full replace.
				override.CustomSettings = existing.CustomSettings
				override.CustomMessage = existing.CustomMessage
				override.AllowedUserTypes = existing.AllowedUserTypes
				override.AllowedRoles = existing.AllowedRoles
				if err := tx.Save(&override).Error; err != nil {
					return fmt.Errorf("apply %s: %w", key, err)
				}
			}
			applied = append(applied, key)
		}
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "tenant_override", "bulk_apply", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant_override", "bulk_apply", "success")
	return applied, nil
}

func (r *GormTenantOverrideRepository) DeleteByTenantAndKey(tenantID, featureKey string) error {
	res := r.db.Where("tenant_id = ? AND feature_key = ?", tenantID, normalizeKey(featureKey)).
		Delete(&domain.TenantOverride{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "tenant_override", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "tenant_override", "delete", "not_found")
		return ErrOverrideNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant_override", "delete", "success")
	return nil
}

// flagForOverride loads the referenced flag and rejects overrides on
// global flags at write time.
func flagForOverride(tx *gorm.DB, featureKey string) (*domain.FeatureFlag, error) {
	var flag domain.FeatureFlag
	if err := tx.Where("key = ?", featureKey).First(&flag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFeatureFlagNotFound
		}
		return nil, err
	}
	if flag.IsGlobal {
		return nil, ErrGlobalFlagOverride
	}
	return &flag, nil
}

func stampTransition(override *domain.TenantOverride) {
	now := time.Now().UTC()
	if override.Status == domain.OverrideEnabled {
		override.EnabledAt = &now
		override.DisabledAt = nil
	} else {
		override.DisabledAt = &now
		override.EnabledAt = nil
	}
}

func normalizeKey(key string) string {
	return strings.TrimSpace(strings.ToLower(key))
}
