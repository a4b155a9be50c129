package service

import (
	"testing"

	"github.com/hirekarma/feature-access-service/internal/domain"
)

func enabledOverride(key string) *domain.TenantOverride {
	return &domain.TenantOverride{TenantID: "t1", FeatureKey: key, Status: domain.OverrideEnabled}
}

func disabledOverride(key string) *domain.TenantOverride {
	return &domain.TenantOverride{TenantID: "t1", FeatureKey: key, Status: domain.OverrideDisabled}
}

func TestResolveFeatureRuleOrder(t *testing.T) {
	student := domain.StudentCaller(nil)

	tests := []struct {
		name       string
		flag       domain.FeatureFlag
		override   *domain.TenantOverride
		caller     domain.Caller
		wantAvail  bool
		wantReason domain.AccessReason
	}{
		{
			name:       "inactive beats enabled override",
			flag:       domain.FeatureFlag{Key: "dark_mode", IsActive: false, DefaultEnabled: true},
			override:   enabledOverride("dark_mode"),
			caller:     student,
			wantAvail:  false,
			wantReason: domain.ReasonInactive,
		},
		{
			name:       "auth required blocks anonymous before override",
			flag:       domain.FeatureFlag{Key: "exam_portal", IsActive: true, RequiresAuth: true},
			override:   enabledOverride("exam_portal"),
			caller:     domain.Anonymous(),
			wantAvail:  false,
			wantReason: domain.ReasonAuthRequired,
		},
		{
			name: "user type restriction blocks before override",
			flag: domain.FeatureFlag{
				Key: "job_search", IsActive: true,
				AllowedUserTypes: domain.StringList{domain.UserTypeUniversity},
			},
			override:   enabledOverride("job_search"),
			caller:     student,
			wantAvail:  false,
			wantReason: domain.ReasonRoleRestricted,
		},
		{
			name: "role restriction blocks caller without any allowed role",
			flag: domain.FeatureFlag{
				Key: "grade_export", IsActive: true, RequiresAuth: true,
				AllowedRoles: domain.StringList{"registrar", "dean"},
			},
			override:   nil,
			caller:     domain.StudentCaller([]string{"member"}),
			wantAvail:  false,
			wantReason: domain.ReasonRoleRestricted,
		},
		{
			name: "any matching role passes the restriction",
			flag: domain.FeatureFlag{
				Key: "grade_export", IsActive: true, RequiresAuth: true,
				AllowedRoles: domain.StringList{"registrar", "dean"}, DefaultEnabled: true,
			},
			override:   nil,
			caller:     domain.StudentCaller([]string{"member", "dean"}),
			wantAvail:  true,
			wantReason: domain.ReasonDefaultEnabled,
		},
		{
			name:       "tenant enabled beats default disabled",
			flag:       domain.FeatureFlag{Key: "dark_mode", IsActive: true, DefaultEnabled: false},
			override:   enabledOverride("dark_mode"),
			caller:     student,
			wantAvail:  true,
			wantReason: domain.ReasonTenantEnabled,
		},
		{
			name:       "tenant disabled beats default enabled",
			flag:       domain.FeatureFlag{Key: "dark_mode", IsActive: true, DefaultEnabled: true},
			override:   disabledOverride("dark_mode"),
			caller:     student,
			wantAvail:  false,
			wantReason: domain.ReasonTenantDisabled,
		},
		{
			name:       "default enabled without override",
			flag:       domain.FeatureFlag{Key: "dark_mode", IsActive: true, DefaultEnabled: true},
			override:   nil,
			caller:     student,
			wantAvail:  true,
			wantReason: domain.ReasonDefaultEnabled,
		},
		{
			name:       "default disabled without override",
			flag:       domain.FeatureFlag{Key: "dark_mode", IsActive: true, DefaultEnabled: false},
			override:   nil,
			caller:     student,
			wantAvail:  false,
			wantReason: domain.ReasonDefaultDisabled,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			view := ResolveFeature(tc.flag, tc.override, tc.caller)
			if view.IsAvailable != tc.wantAvail {
				t.Fatalf("is_available = %v, want %v", view.IsAvailable, tc.wantAvail)
			}
			if view.AccessReason != tc.wantReason {
				t.Fatalf("access_reason = %s, want %s", view.AccessReason, tc.wantReason)
			}
		})
	}
}

func TestResolveFeatureOverrideNarrowsRoleSets(t *testing.T) {
	flag := domain.FeatureFlag{
		Key: "mentorship", IsActive: true, RequiresAuth: true, DefaultEnabled: true,
		AllowedRoles: domain.StringList{"mentor", "mentee"},
	}
	override := enabledOverride("mentorship")
	override.AllowedRoles = domain.StringList{"mentor"}

	view := ResolveFeature(flag, override, domain.StudentCaller([]string{"mentee"}))
	if view.IsAvailable || view.AccessReason != domain.ReasonRoleRestricted {
		t.Fatalf("expected narrowed roles to block mentee, got %+v", view)
	}

	view = ResolveFeature(flag, override, domain.StudentCaller([]string{"mentor"}))
	if !view.IsAvailable || view.AccessReason != domain.ReasonTenantEnabled {
		t.Fatalf("expected mentor to pass narrowed roles, got %+v", view)
	}

	// An override without sets of its own leaves the flag's in force.
	plain := enabledOverride("mentorship")
	view = ResolveFeature(flag, plain, domain.StudentCaller([]string{"mentee"}))
	if !view.IsAvailable {
		t.Fatalf("expected flag roles to govern without narrowed sets, got %+v", view)
	}
}

func TestResolveFeatureMergesSettingsAndMessage(t *testing.T) {
	flag := domain.FeatureFlag{
		Key: "practice_ide", IsActive: true, DefaultEnabled: true,
		Settings:           domain.SettingsMap{"max_sessions": 3, "theme": "light"},
		MaintenanceMessage: "scheduled downtime sunday",
	}
	override := &domain.TenantOverride{
		TenantID:       "t1",
		FeatureKey:     "practice_ide",
		Status:         domain.OverrideEnabled,
		CustomSettings: domain.SettingsMap{"max_sessions": 10},
		CustomMessage:  "campus pilot",
	}

	view := ResolveFeature(flag, override, domain.StudentCaller(nil))
	if view.EffectiveSettings["max_sessions"] != 10 {
		t.Fatalf("expected override to win for max_sessions, got %+v", view.EffectiveSettings)
	}
	if view.EffectiveSettings["theme"] != "light" {
		t.Fatalf("expected base setting to survive, got %+v", view.EffectiveSettings)
	}
	if view.Message != "campus pilot" {
		t.Fatalf("expected custom message, got %q", view.Message)
	}
	// The flag's own settings map must not be mutated by the merge.
	if flag.Settings["max_sessions"] != 3 {
		t.Fatalf("base settings mutated: %+v", flag.Settings)
	}

	bare := ResolveFeature(flag, nil, domain.StudentCaller(nil))
	if bare.Message != "scheduled downtime sunday" {
		t.Fatalf("expected maintenance message without override, got %q", bare.Message)
	}
}

func TestResolveCatalogPreservesOrderAndReportsDiagnostics(t *testing.T) {
	flags := []domain.FeatureFlag{
		{Key: "alpha", IsActive: true, DefaultEnabled: true},
		{Key: "beta", IsActive: true, DefaultEnabled: false},
		{Key: "gamma", IsActive: true, DefaultEnabled: true},
	}
	overrides := map[string]*domain.TenantOverride{
		"beta":  {TenantID: "t1", FeatureKey: "beta", Status: domain.OverrideEnabled},
		"gamma": {TenantID: "t1", FeatureKey: "gamma", Status: domain.OverrideStatus("corrupt")},
		"ghost": {TenantID: "t1", FeatureKey: "ghost", Status: domain.OverrideEnabled},
	}

	views, diags := ResolveCatalog(flags, overrides, domain.StudentCaller(nil))
	if len(views) != 3 {
		t.Fatalf("expected a view per catalog flag, got %d", len(views))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if views[i].FeatureKey != want {
			t.Fatalf("catalog order broken at %d: %+v", i, views)
		}
	}
	if !views[1].IsAvailable || views[1].AccessReason != domain.ReasonTenantEnabled {
		t.Fatalf("expected beta tenant_enabled, got %+v", views[1])
	}
	// The corrupt override falls back to the default resolution.
	if !views[2].IsAvailable || views[2].AccessReason != domain.ReasonDefaultEnabled {
		t.Fatalf("expected gamma to fall back to default, got %+v", views[2])
	}
	if len(diags) != 2 {
		t.Fatalf("expected diagnostics for ghost and gamma, got %+v", diags)
	}
}

func TestOverridesByKey(t *testing.T) {
	rows := []domain.TenantOverride{
		{TenantID: "t1", FeatureKey: "alpha", Status: domain.OverrideEnabled},
		{TenantID: "t1", FeatureKey: "beta", Status: domain.OverrideDisabled},
	}
	byKey := OverridesByKey(rows)
	if len(byKey) != 2 || byKey["alpha"].Status != domain.OverrideEnabled || byKey["beta"].Status != domain.OverrideDisabled {
		t.Fatalf("unexpected index: %+v", byKey)
	}
}
