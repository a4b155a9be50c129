package observability

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	redisMetricsOnce sync.Once
	redisCmdCounter  metric.Int64Counter
	redisHitCounter  metric.Int64Counter
	redisMissCounter metric.Int64Counter
	redisErrCounter  metric.Int64Counter
)

func initRedisMetrics() {
	meter := otel.Meter(meterName)
	redisCmdCounter, _ = meter.Int64Counter("redis_commands_total")
	redisHitCounter, _ = meter.Int64Counter("redis_keyspace_hits_total")
	redisMissCounter, _ = meter.Int64Counter("redis_keyspace_misses_total")
	redisErrCounter, _ = meter.Int64Counter("redis_errors_total")
}

// InstrumentRedisClient attaches command/keyspace metrics to the client.
func InstrumentRedisClient(client redis.UniversalClient) {
	redisMetricsOnce.Do(initRedisMetrics)
	client.AddHook(redisMetricsHook{})
}

type redisMetricsHook struct{}

func (redisMetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (redisMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		recordRedisCommand(ctx, cmd)
		return err
	}
}

func (redisMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		for _, cmd := range cmds {
			recordRedisCommand(ctx, cmd)
		}
		return err
	}
}

func recordRedisCommand(ctx context.Context, cmd redis.Cmder) {
	name := strings.ToLower(cmd.Name())
	redisCmdCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("command", name)))

	if hits, misses, ok := classifyKeyspaceOutcome(cmd); ok {
		if hits > 0 {
			redisHitCounter.Add(ctx, int64(hits))
		}
		if misses > 0 {
			redisMissCounter.Add(ctx, int64(misses))
		}
	}
	if err := cmd.Err(); err != nil && err != redis.Nil {
		redisErrCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", name),
			attribute.String("class", classifyRedisError(err)),
		))
	}
}

// classifyKeyspaceOutcome derives hit/miss counts for read commands.
// ok is false for commands that carry no keyspace signal.
func classifyKeyspaceOutcome(cmd redis.Cmder) (hits, misses int, ok bool) {
	switch strings.ToLower(cmd.Name()) {
	case "get":
		if cmd.Err() == redis.Nil {
			return 0, 1, true
		}
		if cmd.Err() == nil {
			return 1, 0, true
		}
		return 0, 0, false
	case "mget":
		slice, isSlice := cmd.(*redis.SliceCmd)
		if !isSlice || slice.Err() != nil {
			return 0, 0, false
		}
		for _, v := range slice.Val() {
			if v == nil {
				misses++
			} else {
				hits++
			}
		}
		return hits, misses, true
	default:
		return 0, 0, false
	}
}

func classifyRedisError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") || strings.Contains(msg, "reset"):
		return "connection"
	default:
		return "other"
	}
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
