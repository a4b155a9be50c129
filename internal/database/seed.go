package database

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hirekarma/feature-access-service/internal/domain"
)

// SeedReport summarizes what a seed run changed.
type SeedReport struct {
	Noop            bool
	CreatedFlags    int
	CreatedTenants  int
	ExistingFlags   int
	ExistingTenants int
}

// baselineFlags is the catalog every fresh environment starts with.
func baselineFlags() []domain.FeatureFlag {
	return []domain.FeatureFlag{
		{
			Key:            "job_search",
			Category:       "careers",
			DisplayName:    "Job Search",
			Description:    "Browse and apply to job postings",
			IsActive:       true,
			DefaultEnabled: true,
			RequiresAuth:   true,
			AllowedUserTypes: domain.StringList{
				domain.UserTypeStudent,
			},
		},
		{
			Key:            "practice_ide",
			Category:       "learning",
			DisplayName:    "Practice IDE",
			Description:    "In-browser coding sandbox",
			IsActive:       true,
			DefaultEnabled: false,
			RequiresAuth:   true,
			Settings:       domain.SettingsMap{"max_sessions": 3},
		},
		{
			Key:            "exam_portal",
			Category:       "assessment",
			DisplayName:    "Exam Portal",
			Description:    "Timed assessments and scoring",
			IsActive:       true,
			DefaultEnabled: true,
			RequiresAuth:   true,
		},
		{
			Key:            "platform_announcements",
			Category:       "core",
			DisplayName:    "Platform Announcements",
			Description:    "Global notice board",
			IsGlobal:       true,
			IsActive:       true,
			DefaultEnabled: true,
		},
	}
}

// SeedSync inserts the baseline catalog and a demo tenant when they are
// missing. Safe to run repeatedly.
func SeedSync(db *gorm.DB) (SeedReport, error) {
	var report SeedReport

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, flag := range baselineFlags() {
			var existing domain.FeatureFlag
			err := tx.Where("key = ?", flag.Key).First(&existing).Error
			switch {
			case err == nil:
				report.ExistingFlags++
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&flag).Error; err != nil {
					return fmt.Errorf("seed flag %s: %w", flag.Key, err)
				}
				report.CreatedFlags++
			default:
				return fmt.Errorf("query flag %s: %w", flag.Key, err)
			}
		}

		var existing domain.Tenant
		err := tx.Where("slug = ?", "demo-university").First(&existing).Error
		switch {
		case err == nil:
			report.ExistingTenants++
		case errors.Is(err, gorm.ErrRecordNotFound):
			tenant := domain.Tenant{
				ID:       uuid.NewString(),
				Name:     "Demo University",
				Slug:     "demo-university",
				IsActive: true,
			}
			if err := tx.Create(&tenant).Error; err != nil {
				return fmt.Errorf("seed demo tenant: %w", err)
			}
			report.CreatedTenants++
		default:
			return fmt.Errorf("query demo tenant: %w", err)
		}
		return nil
	})
	if err != nil {
		return SeedReport{}, err
	}

	report.Noop = report.CreatedFlags == 0 && report.CreatedTenants == 0
	return report, nil
}
