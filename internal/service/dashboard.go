package service

import (
	"sort"

	"github.com/hirekarma/feature-access-service/internal/domain"
)

// DashboardStats is the read-only summary over catalog, overrides and
// tenants. Derived, never persisted.
type DashboardStats struct {
	TotalFlags       int                `json:"total_flags"`
	ActiveFlags      int                `json:"active_flags"`
	GlobalFlags      int                `json:"global_flags"`
	ActiveByCategory map[string]int     `json:"active_by_category"`
	Tenants          []TenantEnablement `json:"tenants"`
}

// TenantEnablement reports how much of the active catalog one tenant
// has enabled, either by override or by inherited default.
type TenantEnablement struct {
	TenantID          string  `json:"tenant_id"`
	TenantName        string  `json:"tenant_name"`
	EnabledCount      int     `json:"enabled_count"`
	ApplicableCount   int     `json:"applicable_count"`
	EnablementPercent float64 `json:"enablement_percent"`
}

// ComputeDashboard aggregates full snapshots of the catalog, the
// override store and the tenant list. Pure: inputs are never mutated. A
// tenant with zero applicable flags reports 0 percent, not NaN.
func ComputeDashboard(flags []domain.FeatureFlag, overrides []domain.TenantOverride, tenants []domain.Tenant) DashboardStats {
	stats := DashboardStats{
		TotalFlags:       len(flags),
		ActiveByCategory: map[string]int{},
	}

	activeFlags := make([]domain.FeatureFlag, 0, len(flags))
	for _, flag := range flags {
		if flag.IsGlobal {
			stats.GlobalFlags++
		}
		if !flag.IsActive {
			continue
		}
		stats.ActiveFlags++
		stats.ActiveByCategory[flag.Category]++
		activeFlags = append(activeFlags, flag)
	}

	overridesByTenant := map[string]map[string]domain.OverrideStatus{}
	for _, ov := range overrides {
		byKey := overridesByTenant[ov.TenantID]
		if byKey == nil {
			byKey = map[string]domain.OverrideStatus{}
			overridesByTenant[ov.TenantID] = byKey
		}
		byKey[ov.FeatureKey] = ov.Status
	}

	stats.Tenants = make([]TenantEnablement, 0, len(tenants))
	for _, tenant := range tenants {
		entry := TenantEnablement{
			TenantID:        tenant.ID,
			TenantName:      tenant.Name,
			ApplicableCount: len(activeFlags),
		}
		byKey := overridesByTenant[tenant.ID]
		for _, flag := range activeFlags {
			enabled := flag.DefaultEnabled
			switch byKey[flag.Key] {
			case domain.OverrideEnabled:
				enabled = true
			case domain.OverrideDisabled:
				enabled = false
			}
			if enabled {
				entry.EnabledCount++
			}
		}
		if entry.ApplicableCount > 0 {
			entry.EnablementPercent = 100 * float64(entry.EnabledCount) / float64(entry.ApplicableCount)
		}
		stats.Tenants = append(stats.Tenants, entry)
	}
	sort.Slice(stats.Tenants, func(i, j int) bool {
		return stats.Tenants[i].TenantName < stats.Tenants[j].TenantName
	})
	return stats
}
