package domain

import "time"

type OverrideStatus string

const (
	OverrideEnabled  OverrideStatus = "enabled"
	OverrideDisabled OverrideStatus = "disabled"
)

func (s OverrideStatus) Valid() bool {
	return s == OverrideEnabled || s == OverrideDisabled
}

// TenantOverride supersedes a flag's global default for one tenant.
// At most one row exists per (tenant, flag); absence means "inherit
// default". Status is replaced wholesale on every transition, never
// merged field-by-field, except CustomSettings which layers on top of
// the flag's settings at resolution time.
type TenantOverride struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	TenantID         string         `gorm:"size:36;not null;uniqueIndex:idx_tenant_feature" json:"tenant_id"`
	FeatureFlagID    uint           `gorm:"not null;index" json:"feature_flag_id"`
	FeatureKey       string         `gorm:"size:128;not null;uniqueIndex:idx_tenant_feature" json:"feature_key"`
	Status           OverrideStatus `gorm:"size:16;not null" json:"status"`
	CustomSettings   SettingsMap    `gorm:"type:text" json:"custom_settings,omitempty"`
	CustomMessage    string         `gorm:"size:512" json:"custom_message,omitempty"`
	AllowedUserTypes StringList     `gorm:"type:text" json:"allowed_user_types,omitempty"`
	AllowedRoles     StringList     `gorm:"type:text" json:"allowed_roles,omitempty"`
	EnabledAt        *time.Time     `json:"enabled_at,omitempty"`
	DisabledAt       *time.Time     `json:"disabled_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
