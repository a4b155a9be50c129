package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/hirekarma/feature-access-service/internal/config"
)

// Runtime owns the telemetry providers for the process lifetime.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.TracerProvider != nil {
		if err := r.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if r.MeterProvider != nil {
		if err := r.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// InitRuntime wires metrics and tracing. Disabled signals still produce
// working providers so instrumented code needs no nil checks.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	res := newResource(cfg)

	var meterOpts []sdkmetric.Option
	meterOpts = append(meterOpts, sdkmetric.WithResource(res))
	if cfg.OTELMetricsEnabled {
		exporter, err := newMetricExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init metrics exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(meterProvider)

	tracerProvider, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}
	otel.SetTracerProvider(tracerProvider)

	logger.Info("telemetry runtime initialized",
		"metrics_enabled", cfg.OTELMetricsEnabled,
		"tracing_enabled", cfg.OTELTracingEnabled,
	)
	return &Runtime{MeterProvider: meterProvider, TracerProvider: tracerProvider}, nil
}

func newMetricExporter(ctx context.Context, cfg *config.Config) (sdkmetric.Exporter, error) {
	if err := validateOTLPEndpoint(cfg.OTELExporterOTLPEndpoint); err != nil {
		return nil, err
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

func newResource(cfg *config.Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.OTELServiceName),
		attribute.String("deployment.environment", cfg.OTELEnvironment),
	)
}

func validateOTLPEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("otlp endpoint is empty")
	}
	if _, err := url.Parse("http://" + endpoint); err != nil {
		return fmt.Errorf("invalid otlp endpoint %q: %w", endpoint, err)
	}
	return nil
}
