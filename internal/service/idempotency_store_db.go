package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/hirekarma/feature-access-service/internal/domain"
)

// DBIdempotencyStore is the fallback replay guard when Redis is not
// configured. Uniqueness of (scope, key) rests on the table's unique
// index, so two racing first requests cannot both claim the key.
type DBIdempotencyStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDBIdempotencyStore(db *gorm.DB) *DBIdempotencyStore {
	return &DBIdempotencyStore{db: db, now: time.Now}
}

func (s *DBIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	now := s.now().UTC()
	record := domain.IdempotencyRecord{
		Scope:           scope,
		IdempotencyKey:  key,
		FingerprintHash: fingerprint,
		Status:          string(IdempotencyStateNew),
		ExpiresAt:       now.Add(ttl),
	}
	err := s.db.WithContext(ctx).Create(&record).Error
	if err == nil {
		return IdempotencyBeginResult{State: IdempotencyStateNew}, nil
	}

	var existing domain.IdempotencyRecord
	findErr := s.db.WithContext(ctx).
		Where("scope = ? AND idempotency_key = ?", scope, key).
		First(&existing).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return IdempotencyBeginResult{}, err
		}
		return IdempotencyBeginResult{}, findErr
	}

	if existing.ExpiresAt.Before(now) {
		// Expired claim: take it over for the new request.
		updates := map[string]any{
			"fingerprint_hash": fingerprint,
			"status":           string(IdempotencyStateNew),
			"response_status":  0,
			"content_type":     "",
			"response_body":    []byte(nil),
			"expires_at":       now.Add(ttl),
		}
		if err := s.db.WithContext(ctx).Model(&domain.IdempotencyRecord{}).
			Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return IdempotencyBeginResult{}, err
		}
		return IdempotencyBeginResult{State: IdempotencyStateNew}, nil
	}
	if existing.FingerprintHash != fingerprint {
		return IdempotencyBeginResult{State: IdempotencyStateConflict}, nil
	}
	if existing.Status == "completed" {
		return IdempotencyBeginResult{
			State: IdempotencyStateReplay,
			Cached: &CachedHTTPResponse{
				StatusCode:  existing.ResponseStatus,
				ContentType: existing.ContentType,
				Body:        existing.ResponseBody,
			},
		}, nil
	}
	return IdempotencyBeginResult{State: IdempotencyStateInProgress}, nil
}

func (s *DBIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error {
	return s.db.WithContext(ctx).Model(&domain.IdempotencyRecord{}).
		Where("scope = ? AND idempotency_key = ? AND fingerprint_hash = ?", scope, key, fingerprint).
		Updates(map[string]any{
			"status":          "completed",
			"response_status": response.StatusCode,
			"content_type":    response.ContentType,
			"response_body":   response.Body,
			"expires_at":      s.now().UTC().Add(ttl),
		}).Error
}

// Release deletes an unfinished claim so an identical retry starts
// fresh. A completed row is kept for replay.
func (s *DBIdempotencyStore) Release(ctx context.Context, scope, key, fingerprint string) error {
	return s.db.WithContext(ctx).
		Where("scope = ? AND idempotency_key = ? AND fingerprint_hash = ? AND status <> ?",
			scope, key, fingerprint, "completed").
		Delete(&domain.IdempotencyRecord{}).Error
}

// CleanupExpired deletes up to batchSize expired rows and returns how
// many were removed. Run periodically by the app.
func (s *DBIdempotencyStore) CleanupExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var ids []uint
	err := s.db.WithContext(ctx).Model(&domain.IdempotencyRecord{}).
		Where("expires_at <= ?", now).
		Order("id asc").
		Limit(batchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Delete(&domain.IdempotencyRecord{}, ids)
	return res.RowsAffected, res.Error
}
