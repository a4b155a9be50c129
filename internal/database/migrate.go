package database

import (
	"github.com/hirekarma/feature-access-service/internal/domain"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Tenant{},
		&domain.FeatureFlag{},
		&domain.TenantOverride{},
		&domain.IdempotencyRecord{},
	)
}
