package repository

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hirekarma/feature-access-service/internal/domain"
)

func newRepositoryDBForTest(t *testing.T) *gorm.DB {
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
	); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func mustCreateFlag(t *testing.T, db *gorm.DB, flag domain.FeatureFlag) domain.FeatureFlag {
	t.Helper()
	if err := db.Create(&flag).Error; err != nil {
		t.Fatalf("create flag %s: %v", flag.Key, err)
	}
	return flag
}
