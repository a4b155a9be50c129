package domain

import "time"

// AccessReason explains why a feature resolved available or unavailable.
type AccessReason string

const (
	ReasonInactive        AccessReason = "inactive"
	ReasonAuthRequired    AccessReason = "auth_required"
	ReasonRoleRestricted  AccessReason = "role_restricted"
	ReasonTenantEnabled   AccessReason = "tenant_enabled"
	ReasonTenantDisabled  AccessReason = "tenant_disabled"
	ReasonDefaultEnabled  AccessReason = "default_enabled"
	ReasonDefaultDisabled AccessReason = "default_disabled"
)

// ResolvedFeatureView is the computed availability of one flag for a
// specific tenant and caller. It is derived on every resolution request
// and replaced wholesale, never mutated in place.
type ResolvedFeatureView struct {
	FeatureKey        string       `json:"feature_key"`
	IsAvailable       bool         `json:"is_available"`
	AccessReason      AccessReason `json:"access_reason"`
	EffectiveSettings SettingsMap  `json:"effective_settings,omitempty"`
	Message           string       `json:"message,omitempty"`
}

// ResolvedFeatureSet is a cache-ready batch of views for one cache key.
type ResolvedFeatureSet struct {
	Views     []ResolvedFeatureView `json:"views"`
	FetchedAt time.Time             `json:"fetched_at"`
}
