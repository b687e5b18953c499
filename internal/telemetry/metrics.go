// Package telemetry provides OpenTelemetry instrumentation for the sync engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/bimsync/sync"

	// HTTPMetricsMeterName is the name used for the status API meter
	HTTPMetricsMeterName = "github.com/stacklok/bimsync/http"
)

// SyncMetrics holds the OpenTelemetry instruments for the sync engine
type SyncMetrics struct {
	syncDuration        metric.Float64Histogram
	translationPolls    metric.Int64Counter
	activeSubscriptions metric.Int64UpDownCounter
	runtimeFetches      metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"bimsync_sync_duration_seconds",
		metric.WithDescription("Duration of sync sessions from begin to terminal outcome in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 30, 60, 120, 300, 900, 1800),
	)
	if err != nil {
		return nil, err
	}

	translationPolls, err := meter.Int64Counter(
		"bimsync_translation_polls_total",
		metric.WithDescription("Number of translation status polls by resulting job state"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	activeSubscriptions, err := meter.Int64UpDownCounter(
		"bimsync_active_subscriptions",
		metric.WithDescription("Number of live upstream push subscriptions"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return nil, err
	}

	runtimeFetches, err := meter.Int64Counter(
		"bimsync_runtime_fetches_total",
		metric.WithDescription("Number of parser runtime fetch attempts by result"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:        syncDuration,
		translationPolls:    translationPolls,
		activeSubscriptions: activeSubscriptions,
		runtimeFetches:      runtimeFetches,
	}, nil
}

// RecordSyncDuration records the duration of a sync session for a source kind
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, sourceKind, outcome string, duration time.Duration) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("source_kind", sourceKind),
		attribute.String("outcome", outcome),
	}

	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordPoll counts one translation poll and the state it left the job in
func (m *SyncMetrics) RecordPoll(ctx context.Context, state string) {
	if m == nil || m.translationPolls == nil {
		return
	}
	m.translationPolls.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// SubscriptionOpened increments the live subscription count
func (m *SyncMetrics) SubscriptionOpened(ctx context.Context, sourceKind string) {
	if m == nil || m.activeSubscriptions == nil {
		return
	}
	m.activeSubscriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("source_kind", sourceKind)))
}

// SubscriptionClosed decrements the live subscription count
func (m *SyncMetrics) SubscriptionClosed(ctx context.Context, sourceKind string) {
	if m == nil || m.activeSubscriptions == nil {
		return
	}
	m.activeSubscriptions.Add(ctx, -1, metric.WithAttributes(attribute.String("source_kind", sourceKind)))
}

// RecordRuntimeFetch counts one runtime fetch attempt
func (m *SyncMetrics) RecordRuntimeFetch(ctx context.Context, success bool) {
	if m == nil || m.runtimeFetches == nil {
		return
	}
	m.runtimeFetches.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
