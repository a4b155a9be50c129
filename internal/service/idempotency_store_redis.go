package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claims live under featureaccess:idem:<scope>:<key> as a hash with the
// request fingerprint (fp), the claim state (claimed|done) and, once
// done, the response to replay (code, ctype, body).
const redisClaimKeyPrefix = "featureaccess:idem:"

var redisClaimBeginScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  redis.call("HSET", KEYS[1], "fp", ARGV[1], "state", "claimed")
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {"new"}
end
if redis.call("HGET", KEYS[1], "fp") ~= ARGV[1] then
  return {"conflict"}
end
if state == "done" then
  local resp = redis.call("HMGET", KEYS[1], "code", "ctype", "body")
  return {"replay", resp[1] or "", resp[2] or "", resp[3] or ""}
end
return {"in_progress"}
`)

var redisClaimCompleteScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "fp") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "state", "done", "code", ARGV[3], "ctype", ARGV[4], "body", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

var redisClaimReleaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "fp") ~= ARGV[1] then
  return 0
end
if redis.call("HGET", KEYS[1], "state") == "done" then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

// RedisIdempotencyStore guards the bulk override endpoint across
// replicas. Claim, completion and release are each a single Lua script
// so two racing requests can never both win a key.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
}

func NewRedisIdempotencyStore(client redis.UniversalClient) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func claimKey(scope, key string) string {
	return redisClaimKeyPrefix + scope + ":" + key
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	raw, err := redisClaimBeginScript.Run(ctx, s.client,
		[]string{claimKey(scope, key)}, fingerprint, ttl.Milliseconds()).Slice()
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: %w", err)
	}
	if len(raw) == 0 {
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: empty script reply")
	}

	state := IdempotencyState(scriptString(raw[0]))
	if state != IdempotencyStateReplay {
		switch state {
		case IdempotencyStateNew, IdempotencyStateConflict, IdempotencyStateInProgress:
			return IdempotencyBeginResult{State: state}, nil
		}
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: unknown state %q", state)
	}

	if len(raw) < 4 {
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: short replay reply")
	}
	code, err := strconv.Atoi(scriptString(raw[1]))
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: replay status: %w", err)
	}
	return IdempotencyBeginResult{
		State: IdempotencyStateReplay,
		Cached: &CachedHTTPResponse{
			StatusCode:  code,
			ContentType: scriptString(raw[2]),
			Body:        []byte(scriptString(raw[3])),
		},
	}, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error {
	return redisClaimCompleteScript.Run(ctx, s.client,
		[]string{claimKey(scope, key)},
		fingerprint,
		ttl.Milliseconds(),
		response.StatusCode,
		response.ContentType,
		string(response.Body),
	).Err()
}

// Release frees a claim whose request failed, so an identical retry can
// run again instead of seeing in_progress until the TTL passes. A claim
// already completed stays put for replay.
func (s *RedisIdempotencyStore) Release(ctx context.Context, scope, key, fingerprint string) error {
	return redisClaimReleaseScript.Run(ctx, s.client,
		[]string{claimKey(scope, key)}, fingerprint).Err()
}

func scriptString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
