package service

import (
	"context"
	"sort"
	"sync"

	"github.com/hirekarma/feature-access-service/internal/domain"
)

// OverrideUpdate is one entry of a bulk override mutation.
type OverrideUpdate struct {
	FeatureKey string `json:"feature_key"`
	IsEnabled  bool   `json:"is_enabled"`
	Reason     string `json:"reason,omitempty"`
}

// BulkOverrideSaver applies a bulk override mutation atomically for one
// tenant and returns the applied feature keys.
type BulkOverrideSaver interface {
	BulkApplyOverrides(ctx context.Context, tenantID string, updates []OverrideUpdate, reason string) ([]string, error)
}

// OverrideDraftManager holds one tenant's draft override values against
// the last committed baseline and submits the minimal changed set as a
// single atomic save. One instance per tenant; Save calls are strictly
// serialized.
type OverrideDraftManager struct {
	tenantID string
	saver    BulkOverrideSaver

	mu        sync.Mutex
	draft     map[string]bool
	committed map[string]bool
	saving    bool
}

func NewOverrideDraftManager(tenantID string, saver BulkOverrideSaver) *OverrideDraftManager {
	return &OverrideDraftManager{
		tenantID:  tenantID,
		saver:     saver,
		draft:     map[string]bool{},
		committed: map[string]bool{},
	}
}

// Load initializes the draft from the resolved availability of each
// flag, then records the same values as the committed baseline.
func (m *OverrideDraftManager) Load(flags []domain.FeatureFlag, overrides []domain.TenantOverride, caller domain.Caller) {
	views, _ := ResolveCatalog(flags, OverridesByKey(overrides), caller)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = make(map[string]bool, len(views))
	m.committed = make(map[string]bool, len(views))
	for _, view := range views {
		m.draft[view.FeatureKey] = view.IsAvailable
		m.committed[view.FeatureKey] = view.IsAvailable
	}
}

// SetDraft records the editor's intended value for one flag. Unknown
// keys are rejected so a typo cannot silently grow the draft.
func (m *OverrideDraftManager) SetDraft(featureKey string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.committed[featureKey]; !ok {
		return NewValidationError("feature_key", "unknown feature %q", featureKey)
	}
	m.draft[featureKey] = enabled
	return nil
}

// ChangedKeys returns the sorted set of keys whose draft value differs
// from the committed baseline. Comparison is by value only: re-selecting
// the value an override used to express counts as unchanged.
func (m *OverrideDraftManager) ChangedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedKeysLocked()
}

func (m *OverrideDraftManager) changedKeysLocked() []string {
	var keys []string
	for key, want := range m.draft {
		if want != m.committed[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Save submits the changed subset as one atomic bulk request. An empty
// diff is a no-op and never reaches the saver. A save issued while one
// is pending fails with ErrSaveInFlight. On failure the draft and
// committed baseline are left exactly as they were, so retrying Save
// resubmits the same diff.
func (m *OverrideDraftManager) Save(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.saving {
		m.mu.Unlock()
		return ErrSaveInFlight
	}
	changed := m.changedKeysLocked()
	if len(changed) == 0 {
		m.mu.Unlock()
		return nil
	}
	updates := make([]OverrideUpdate, 0, len(changed))
	for _, key := range changed {
		updates = append(updates, OverrideUpdate{FeatureKey: key, IsEnabled: m.draft[key], Reason: reason})
	}
	m.saving = true
	m.mu.Unlock()

	_, err := m.saver.BulkApplyOverrides(ctx, m.tenantID, updates, reason)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saving = false
	if err != nil {
		return err
	}
	for _, u := range updates {
		m.committed[u.FeatureKey] = u.IsEnabled
	}
	return nil
}

// Reset discards the draft and reverts to the committed baseline.
func (m *OverrideDraftManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = make(map[string]bool, len(m.committed))
	for key, value := range m.committed {
		m.draft[key] = value
	}
}

// TenantID returns the tenant this manager edits.
func (m *OverrideDraftManager) TenantID() string { return m.tenantID }
