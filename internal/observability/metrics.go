package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hirekarma/feature-access-service"

var (
	metricsOnce      sync.Once
	repoOpsCounter   metric.Int64Counter
	cacheRefreshCtr  metric.Int64Counter
	bulkApplyCounter metric.Int64Counter
	resolveSkipCtr   metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter(meterName)
	repoOpsCounter, _ = meter.Int64Counter("repository_operations_total",
		metric.WithDescription("Repository operations by entity, operation and outcome"))
	cacheRefreshCtr, _ = meter.Int64Counter("feature_view_cache_refresh_total",
		metric.WithDescription("Resolved-view cache refreshes by trigger and outcome"))
	bulkApplyCounter, _ = meter.Int64Counter("override_bulk_apply_total",
		metric.WithDescription("Bulk override applications by outcome"))
	resolveSkipCtr, _ = meter.Int64Counter("resolution_entries_skipped_total",
		metric.WithDescription("Override entries skipped during batch resolution"))
}

// RecordRepositoryOperation counts a single repository call outcome.
func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	metricsOnce.Do(initMetrics)
	repoOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordCacheRefresh counts one resolved-view refresh attempt.
func RecordCacheRefresh(ctx context.Context, trigger, outcome string) {
	metricsOnce.Do(initMetrics)
	cacheRefreshCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	))
}

// RecordBulkOverrideApply counts one bulk mutation with its diff size.
func RecordBulkOverrideApply(ctx context.Context, outcome string, size int) {
	metricsOnce.Do(initMetrics)
	bulkApplyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("size", size),
	))
}

// RecordResolutionSkip counts an override entry dropped from a batch.
func RecordResolutionSkip(ctx context.Context, cause string) {
	metricsOnce.Do(initMetrics)
	resolveSkipCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}
