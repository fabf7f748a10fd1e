package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/promptsync/sync"
)

// SyncMetrics holds the OpenTelemetry instruments for sync runs
type SyncMetrics struct {
	syncDuration metric.Float64Histogram
	runsTotal    metric.Int64Counter
	itemsTotal   metric.Int64Counter
	conflicts    metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"promptsync_sync_duration_seconds",
		metric.WithDescription("Duration of sync runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	runsTotal, err := meter.Int64Counter(
		"promptsync_sync_runs_total",
		metric.WithDescription("Number of sync runs by trigger and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	itemsTotal, err := meter.Int64Counter(
		"promptsync_sync_items_total",
		metric.WithDescription("Number of items handled by sync runs, by action"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	conflicts, err := meter.Int64Counter(
		"promptsync_sync_conflicts_total",
		metric.WithDescription("Number of conflicts resolved by strategy"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration: syncDuration,
		runsTotal:    runsTotal,
		itemsTotal:   itemsTotal,
		conflicts:    conflicts,
	}, nil
}

// RecordRun records the duration and outcome of a sync run
func (m *SyncMetrics) RecordRun(ctx context.Context, trigger, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)
	m.syncDuration.Record(ctx, duration.Seconds(), attrs)
	m.runsTotal.Add(ctx, 1, attrs)
}

// RecordItems adds count items handled with action
func (m *SyncMetrics) RecordItems(ctx context.Context, action string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsTotal.Add(ctx, int64(count), metric.WithAttributes(attribute.String("action", action)))
}

// RecordConflict counts one resolved conflict
func (m *SyncMetrics) RecordConflict(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}
