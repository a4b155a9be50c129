package service

import (
	"github.com/hirekarma/feature-access-service/internal/domain"
)

// ResolutionDiagnostic reports one override entry dropped from a batch
// resolution. The batch itself still succeeds.
type ResolutionDiagnostic struct {
	FeatureKey string `json:"feature_key"`
	Cause      string `json:"cause"`
}

// ResolveFeature computes the availability of one flag for a caller.
// Pure and deterministic; the first matching rule wins:
//
//  1. inactive flag (hard kill switch)
//  2. authentication requirement
//  3. role / user-type restriction (an override's non-empty sets
//     narrow the flag's)
//  4. tenant override
//  5. global default
func ResolveFeature(flag domain.FeatureFlag, override *domain.TenantOverride, caller domain.Caller) domain.ResolvedFeatureView {
	view := domain.ResolvedFeatureView{
		FeatureKey: flag.Key,
		Message:    flag.MaintenanceMessage,
	}
	if override != nil {
		view.EffectiveSettings = flag.Settings.Merge(override.CustomSettings)
		if override.CustomMessage != "" {
			view.Message = override.CustomMessage
		}
	} else {
		view.EffectiveSettings = flag.Settings.Merge(nil)
	}

	switch {
	case !flag.IsActive:
		view.IsAvailable = false
		view.AccessReason = domain.ReasonInactive

	case flag.RequiresAuth && !caller.IsAuthenticated:
		view.IsAvailable = false
		view.AccessReason = domain.ReasonAuthRequired

	case restrictedForCaller(flag, override, caller):
		view.IsAvailable = false
		view.AccessReason = domain.ReasonRoleRestricted

	case override != nil && override.Status == domain.OverrideEnabled:
		view.IsAvailable = true
		view.AccessReason = domain.ReasonTenantEnabled

	case override != nil && override.Status == domain.OverrideDisabled:
		view.IsAvailable = false
		view.AccessReason = domain.ReasonTenantDisabled

	case flag.DefaultEnabled:
		view.IsAvailable = true
		view.AccessReason = domain.ReasonDefaultEnabled

	default:
		view.IsAvailable = false
		view.AccessReason = domain.ReasonDefaultDisabled
	}
	return view
}

// restrictedForCaller checks the flag's role and user-type sets. An
// override may carry narrowed sets (validated as subsets on write);
// when present they take the flag set's place.
func restrictedForCaller(flag domain.FeatureFlag, override *domain.TenantOverride, caller domain.Caller) bool {
	userTypes := flag.AllowedUserTypes
	roles := flag.AllowedRoles
	if override != nil {
		if len(override.AllowedUserTypes) > 0 {
			userTypes = override.AllowedUserTypes
		}
		if len(override.AllowedRoles) > 0 {
			roles = override.AllowedRoles
		}
	}
	if len(userTypes) > 0 && !userTypes.Contains(caller.UserType) {
		return true
	}
	if len(roles) > 0 && !roles.ContainsAny(caller.Roles) {
		return true
	}
	return false
}

// ResolveCatalog resolves every flag in catalog order. A malformed
// override (unknown status or a key no flag carries) never aborts the
// batch: the entry is skipped and reported as a diagnostic, and the
// affected flag falls back to its default resolution.
func ResolveCatalog(flags []domain.FeatureFlag, overridesByKey map[string]*domain.TenantOverride, caller domain.Caller) ([]domain.ResolvedFeatureView, []ResolutionDiagnostic) {
	views := make([]domain.ResolvedFeatureView, 0, len(flags))
	var diags []ResolutionDiagnostic

	known := make(map[string]struct{}, len(flags))
	for _, flag := range flags {
		known[flag.Key] = struct{}{}
	}
	for key, override := range overridesByKey {
		if override == nil {
			diags = append(diags, ResolutionDiagnostic{FeatureKey: key, Cause: "nil override entry"})
			continue
		}
		if _, ok := known[key]; !ok {
			diags = append(diags, ResolutionDiagnostic{FeatureKey: key, Cause: "override references unknown feature flag"})
		}
	}

	for _, flag := range flags {
		override := overridesByKey[flag.Key]
		if override != nil && !override.Status.Valid() {
			diags = append(diags, ResolutionDiagnostic{FeatureKey: flag.Key, Cause: "invalid override status " + string(override.Status)})
			override = nil
		}
		views = append(views, ResolveFeature(flag, override, caller))
	}
	return views, diags
}

// OverridesByKey indexes override rows by feature key for ResolveCatalog.
func OverridesByKey(overrides []domain.TenantOverride) map[string]*domain.TenantOverride {
	out := make(map[string]*domain.TenantOverride, len(overrides))
	for i := range overrides {
		out[overrides[i].FeatureKey] = &overrides[i]
	}
	return out
}
