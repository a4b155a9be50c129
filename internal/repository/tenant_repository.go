package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/observability"
)

var ErrTenantNotFound = errors.New("tenant not found")

type TenantRepository interface {
	List() ([]domain.Tenant, error)
	FindByID(id string) (*domain.Tenant, error)
	FindBySlug(slug string) (*domain.Tenant, error)
	Create(tenant *domain.Tenant) error
}

type GormTenantRepository struct{ db *gorm.DB }

func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &GormTenantRepository{db: db}
}

func (r *GormTenantRepository) List() ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	if err := r.db.Order("slug asc").Find(&tenants).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "tenant", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant", "list", "success")
	return tenants, nil
}

func (r *GormTenantRepository) FindByID(id string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.Where("id = ?", strings.TrimSpace(id)).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "tenant", "find_by_id", "not_found")
			return nil, ErrTenantNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "tenant", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant", "find_by_id", "success")
	return &tenant, nil
}

func (r *GormTenantRepository) FindBySlug(slug string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.Where("slug = ?", strings.TrimSpace(strings.ToLower(slug))).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "tenant", "find_by_slug", "not_found")
			return nil, ErrTenantNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "tenant", "find_by_slug", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant", "find_by_slug", "success")
	return &tenant, nil
}

func (r *GormTenantRepository) Create(tenant *domain.Tenant) error {
	tenant.Slug = strings.TrimSpace(strings.ToLower(tenant.Slug))
	if err := r.db.Create(tenant).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "tenant", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "tenant", "create", "success")
	return nil
}
