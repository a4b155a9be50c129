package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/observability"
)

var (
	ErrFeatureFlagNotFound = errors.New("feature flag not found")
	ErrFeatureKeyImmutable = errors.New("feature flag key is immutable")
)

const (
	catalogDefaultPageSize = 20
	catalogMaxPageSize     = 100
)

// FlagListQuery filters and pages the admin catalog listing.
type FlagListQuery struct {
	Category string
	Page     int
	PageSize int
}

// normalize clamps out-of-range paging values instead of rejecting
// them; the catalog listing is a dashboard read, not a strict API.
func (q FlagListQuery) normalize() FlagListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize < 1:
		q.PageSize = catalogDefaultPageSize
	case q.PageSize > catalogMaxPageSize:
		q.PageSize = catalogMaxPageSize
	}
	return q
}

// FlagPage is one page of the catalog plus the paging totals the
// dashboard renders.
type FlagPage struct {
	Flags      []domain.FeatureFlag
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
}

func catalogPageCount(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

type FeatureFlagRepository interface {
	List() ([]domain.FeatureFlag, error)
	ListPaged(q FlagListQuery) (FlagPage, error)
	FindByKey(key string) (*domain.FeatureFlag, error)
	Create(flag *domain.FeatureFlag) error
	Update(flag *domain.FeatureFlag) error
	ToggleDefault(key string) (*domain.FeatureFlag, error)
	Delete(id uint) error
}

type GormFeatureFlagRepository struct{ db *gorm.DB }

func NewFeatureFlagRepository(db *gorm.DB) FeatureFlagRepository {
	return &GormFeatureFlagRepository{db: db}
}

func (r *GormFeatureFlagRepository) List() ([]domain.FeatureFlag, error) {
	var flags []domain.FeatureFlag
	if err := r.db.Order("key asc").Find(&flags).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "list", "success")
	return flags, nil
}

func (r *GormFeatureFlagRepository) ListPaged(q FlagListQuery) (FlagPage, error) {
	q = q.normalize()
	tx := r.db.Model(&domain.FeatureFlag{})
	if category := strings.TrimSpace(strings.ToLower(q.Category)); category != "" {
		tx = tx.Where("category = ?", category)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "list_paged", "error")
		return FlagPage{}, err
	}

	var flags []domain.FeatureFlag
	err := tx.Order("key asc").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&flags).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "list_paged", "error")
		return FlagPage{}, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "list_paged", "success")
	return FlagPage{
		Flags:      flags,
		Page:       q.Page,
		PageSize:   q.PageSize,
		Total:      total,
		TotalPages: catalogPageCount(total, q.PageSize),
	}, nil
}

func (r *GormFeatureFlagRepository) FindByKey(key string) (*domain.FeatureFlag, error) {
	var flag domain.FeatureFlag
	err := r.db.Where("key = ?", strings.TrimSpace(strings.ToLower(key))).First(&flag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_key", "not_found")
			return nil, ErrFeatureFlagNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_key", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_key", "success")
	return &flag, nil
}

func (r *GormFeatureFlagRepository) Create(flag *domain.FeatureFlag) error {
	flag.Key = strings.TrimSpace(strings.ToLower(flag.Key))
	if err := r.db.Create(flag).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "create", "success")
	return nil
}

// Update rewrites everything except the key, which is immutable.
func (r *GormFeatureFlagRepository) Update(flag *domain.FeatureFlag) error {
	var existing domain.FeatureFlag
	if err := r.db.First(&existing, flag.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "feature_flag", "update", "not_found")
			return ErrFeatureFlagNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "update", "error")
		return err
	}
	if flag.Key != "" && strings.TrimSpace(strings.ToLower(flag.Key)) != existing.Key {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "update", "immutable_key")
		return ErrFeatureKeyImmutable
	}

	res := r.db.Model(&domain.FeatureFlag{}).Where("id = ?", flag.ID).Updates(map[string]any{
		"category":            strings.TrimSpace(strings.ToLower(flag.Category)),
		"display_name":        strings.TrimSpace(flag.DisplayName),
		"description":         strings.TrimSpace(flag.Description),
		"is_global":           flag.IsGlobal,
		"is_active":           flag.IsActive,
		"default_enabled":     flag.DefaultEnabled,
		"requires_auth":       flag.RequiresAuth,
		"allowed_user_types":  flag.AllowedUserTypes,
		"allowed_roles":       flag.AllowedRoles,
		"settings":            flag.Settings,
		"maintenance_message": strings.TrimSpace(flag.MaintenanceMessage),
	})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "update", "error")
		return res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "update", "success")
	return nil
}

// ToggleDefault flips the global default inside one transaction and
// returns the stored row.
func (r *GormFeatureFlagRepository) ToggleDefault(key string) (*domain.FeatureFlag, error) {
	normalized := strings.TrimSpace(strings.ToLower(key))
	var flag domain.FeatureFlag
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", normalized).First(&flag).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFeatureFlagNotFound
			}
			return err
		}
		flag.DefaultEnabled = !flag.DefaultEnabled
		return tx.Model(&domain.FeatureFlag{}).
			Where("id = ?", flag.ID).
			Update("default_enabled", flag.DefaultEnabled).Error
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrFeatureFlagNotFound) {
			outcome = "not_found"
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "toggle_default", outcome)
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "toggle_default", "success")
	return &flag, nil
}

func (r *GormFeatureFlagRepository) Delete(id uint) error {
	res := r.db.Delete(&domain.FeatureFlag{}, id)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "delete", "not_found")
		return ErrFeatureFlagNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "delete", "success")
	return nil
}
