package domain

import "time"

// IdempotencyRecord backs the DB idempotency store used by the bulk
// override endpoint for replay protection.
type IdempotencyRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Scope           string    `gorm:"size:64;not null;uniqueIndex:idx_idem_scope_key" json:"scope"`
	IdempotencyKey  string    `gorm:"size:128;not null;uniqueIndex:idx_idem_scope_key" json:"idempotency_key"`
	FingerprintHash string    `gorm:"size:128;not null" json:"fingerprint_hash"`
	Status          string    `gorm:"size:16;not null" json:"status"`
	ResponseStatus  int       `json:"response_status"`
	ContentType     string    `gorm:"size:128" json:"content_type"`
	ResponseBody    []byte    `json:"response_body"`
	ExpiresAt       time.Time `gorm:"index" json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
