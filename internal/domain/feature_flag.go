package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SettingsMap is an opaque feature-specific configuration blob stored as JSON.
type SettingsMap map[string]any

func (m SettingsMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *SettingsMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported settings column type %T", value)
	}
}

// Merge returns a shallow merge of m and overlay; overlay keys win.
// Neither input is mutated.
func (m SettingsMap) Merge(overlay SettingsMap) SettingsMap {
	if len(m) == 0 && len(overlay) == 0 {
		return nil
	}
	out := make(SettingsMap, len(m)+len(overlay))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// StringList is a JSON-encoded list column used for role and user-type sets.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported list column type %T", value)
	}
}

func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

// ContainsAny reports whether any candidate is a member of the list.
func (l StringList) ContainsAny(candidates []string) bool {
	for _, c := range candidates {
		if l.Contains(c) {
			return true
		}
	}
	return false
}

// IsSubsetOf reports whether every member of l appears in other.
func (l StringList) IsSubsetOf(other StringList) bool {
	for _, item := range l {
		if !other.Contains(item) {
			return false
		}
	}
	return true
}

// FeatureFlag is a globally defined capability switch. Key is the stable,
// human-readable identity used as the join key everywhere instead of ID,
// and is immutable once created.
type FeatureFlag struct {
	ID                 uint        `gorm:"primaryKey" json:"id"`
	Key                string      `gorm:"uniqueIndex;size:128;not null" json:"key"`
	Category           string      `gorm:"size:64;index" json:"category"`
	DisplayName        string      `gorm:"size:255" json:"display_name"`
	Description        string      `gorm:"size:512" json:"description"`
	IsGlobal           bool        `gorm:"not null;default:false" json:"is_global"`
	IsActive           bool        `gorm:"not null;default:true" json:"is_active"`
	DefaultEnabled     bool        `gorm:"not null;default:false" json:"default_enabled"`
	RequiresAuth       bool        `gorm:"not null;default:false" json:"requires_auth"`
	AllowedUserTypes   StringList  `gorm:"type:text" json:"allowed_user_types,omitempty"`
	AllowedRoles       StringList  `gorm:"type:text" json:"allowed_roles,omitempty"`
	Settings           SettingsMap `gorm:"type:text" json:"settings,omitempty"`
	MaintenanceMessage string      `gorm:"size:512" json:"maintenance_message,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}
