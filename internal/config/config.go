package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string

	DatabaseURL string

	RedisURL         string
	RedisKeyPrefix   string
	RedisCacheTTL    time.Duration
	RedisFailureMode string

	NATSURL string

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string

	CORSAllowedOrigins []string

	ViewCacheStaleAfter  time.Duration
	ViewRefreshInterval  time.Duration
	ViewFetchTimeout     time.Duration
	BulkIdempotencyTTL   time.Duration
	AdminRateLimitPerMin int
	APIRateLimitPerMin   int

	LogLevel  string
	LogFormat string

	OTELLogsEnabled          bool
	OTELMetricsEnabled       bool
	OTELTracingEnabled       bool
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELServiceName          string
	OTELEnvironment          string
	OTELTraceSamplingRatio   float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPPort:                 getEnv("HTTP_PORT", "8080"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisURL:                 os.Getenv("REDIS_URL"),
		RedisKeyPrefix:           getEnv("REDIS_KEY_PREFIX", "feature_access"),
		RedisFailureMode:         strings.ToLower(getEnv("REDIS_FAILURE_MODE", "fail_open")),
		NATSURL:                  os.Getenv("NATS_URL"),
		JWTIssuer:                getEnv("JWT_ISSUER", "feature-access-service"),
		JWTAudience:              getEnv("JWT_AUDIENCE", "feature-access-service-api"),
		JWTAccessSecret:          os.Getenv("JWT_ACCESS_SECRET"),
		CORSAllowedOrigins:       splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		AdminRateLimitPerMin:     getEnvInt("ADMIN_RATE_LIMIT_PER_MIN", 60),
		APIRateLimitPerMin:       getEnvInt("API_RATE_LIMIT_PER_MIN", 240),
		LogLevel:                 strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(getEnv("LOG_FORMAT", "json")),
		OTELLogsEnabled:          getEnvBool("OTEL_LOGS_ENABLED", false),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "feature-access-service"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "development"),
	}

	for _, d := range []struct {
		dst *time.Duration
		env string
		def string
	}{
		{&cfg.RedisCacheTTL, "REDIS_CACHE_TTL", "60s"},
		{&cfg.ViewCacheStaleAfter, "VIEW_CACHE_STALE_AFTER", "30s"},
		{&cfg.ViewRefreshInterval, "VIEW_REFRESH_INTERVAL", "60s"},
		{&cfg.ViewFetchTimeout, "VIEW_FETCH_TIMEOUT", "10s"},
		{&cfg.BulkIdempotencyTTL, "BULK_IDEMPOTENCY_TTL", "24h"},
	} {
		v, err := time.ParseDuration(getEnv(d.env, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = v
	}

	ratio, err := strconv.ParseFloat(getEnv("OTEL_TRACE_SAMPLING_RATIO", "1.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("parse OTEL_TRACE_SAMPLING_RATIO: %w", err)
	}
	cfg.OTELTraceSamplingRatio = ratio

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 chars")
	}
	if c.ViewCacheStaleAfter <= 0 {
		errs = append(errs, "VIEW_CACHE_STALE_AFTER must be > 0")
	}
	if c.ViewRefreshInterval <= 0 {
		errs = append(errs, "VIEW_REFRESH_INTERVAL must be > 0")
	}
	if c.ViewFetchTimeout <= 0 || c.ViewFetchTimeout > time.Minute {
		errs = append(errs, "VIEW_FETCH_TIMEOUT must be between 1ns and 1m")
	}
	if c.AdminRateLimitPerMin <= 0 {
		errs = append(errs, "ADMIN_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RedisFailureMode != "fail_open" && c.RedisFailureMode != "fail_closed" {
		errs = append(errs, "REDIS_FAILURE_MODE must be fail_open or fail_closed")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be within [0,1]")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
