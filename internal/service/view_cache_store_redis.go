package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hirekarma/feature-access-service/internal/domain"
)

// RedisViewCacheStore shares resolved view sets across instances. Each
// tenant keeps a set of its cache keys so a bulk save can drop every
// caller-class variant at once.
type RedisViewCacheStore struct {
	client *redis.Client
}

func NewRedisViewCacheStore(client *redis.Client) *RedisViewCacheStore {
	return &RedisViewCacheStore{client: client}
}

func viewIndexKey(tenantID string) string {
	return "views:index:" + tenantID
}

func (s *RedisViewCacheStore) Get(ctx context.Context, key string) (domain.ResolvedFeatureSet, bool, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ResolvedFeatureSet{}, false, nil
	}
	if err != nil {
		return domain.ResolvedFeatureSet{}, false, err
	}
	var set domain.ResolvedFeatureSet
	if err := json.Unmarshal(payload, &set); err != nil {
		// A payload this instance cannot read is a miss, not a failure.
		s.client.Del(ctx, key)
		return domain.ResolvedFeatureSet{}, false, nil
	}
	return set, true, nil
}

func (s *RedisViewCacheStore) Set(ctx context.Context, tenantID, key string, set domain.ResolvedFeatureSet, ttl time.Duration) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.SAdd(ctx, viewIndexKey(tenantID), key)
	pipe.Expire(ctx, viewIndexKey(tenantID), ttl+time.Minute)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisViewCacheStore) InvalidateTenant(ctx context.Context, tenantID string) error {
	index := viewIndexKey(tenantID)
	keys, err := s.client.SMembers(ctx, index).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys = append(keys, index)
	return s.client.Del(ctx, keys...).Err()
}

// InvalidateAll drops every tenant's views and index sets. Used when a
// global flag mutation stales all tenants at once.
func (s *RedisViewCacheStore) InvalidateAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, "views:*", 256).Iterator()
	batch := make([]string, 0, 256)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.client.Del(ctx, batch...).Err()
	}
	return nil
}
