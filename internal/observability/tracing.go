package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hirekarma/feature-access-service/internal/config"
)

// InitTracing builds the tracer provider. When tracing is disabled the
// provider carries no exporter, so spans are created but dropped.
func InitTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	if !cfg.OTELTracingEnabled {
		return sdktrace.NewTracerProvider(sdktrace.WithResource(newResource(cfg))), nil
	}

	if err := validateOTLPEndpoint(cfg.OTELExporterOTLPEndpoint); err != nil {
		return nil, fmt.Errorf("init trace exporter: %w", err)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init trace exporter: %w", err)
	}

	logger.Info("tracing exporter initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(newResource(cfg)),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.OTELTraceSamplingRatio)))),
	), nil
}
