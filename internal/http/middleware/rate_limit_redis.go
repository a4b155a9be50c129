package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript counts requests in a fixed window keyed by the caller.
// The first hit sets the window expiry; the reply is {allowed, retry_ms}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = redis.call('INCR', key)
if count == 1 then
  redis.call('PEXPIRE', key, window_ms)
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
  redis.call('PEXPIRE', key, window_ms)
  ttl = window_ms
end

if count > limit then
  return {0, ttl}
end
return {1, 0}
`)

// RedisFixedWindowLimiter enforces a shared fixed-window limit across
// replicas. Backend errors surface to the caller so the middleware can
// apply its failure mode.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient) *RedisFixedWindowLimiter {
	return &RedisFixedWindowLimiter{client: client, prefix: "ratelimit"}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if l.client == nil {
		return false, window, fmt.Errorf("redis rate limiter: nil client")
	}
	if limit <= 0 || window <= 0 {
		return true, 0, nil
	}

	res, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		limit,
		window.Milliseconds(),
	).Result()
	if err != nil {
		return false, window, fmt.Errorf("redis rate limiter: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, window, fmt.Errorf("redis rate limiter: unexpected reply %T", res)
	}
	allowed, err := parseScriptInt(values[0])
	if err != nil {
		return false, window, fmt.Errorf("redis rate limiter: %w", err)
	}
	retryMs, err := parseScriptInt(values[1])
	if err != nil {
		return false, window, fmt.Errorf("redis rate limiter: %w", err)
	}
	if allowed == 1 {
		return true, 0, nil
	}
	retryAfter := time.Duration(retryMs) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = window
	}
	return false, retryAfter, nil
}

func parseScriptInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected script value %T", v)
	}
}
