package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Metric names recorded by the engine facade.
const (
	MetricOperationCount   = "strata.operations"
	MetricOperationLatency = "strata.operation.latency"
	MetricBytesWritten     = "strata.bytes.written"
	MetricBytesRead        = "strata.bytes.read"
	MetricFlushCount       = "strata.flush.count"
	MetricFlushDuration    = "strata.flush.duration"
	MetricCompactionCount  = "strata.compaction.count"
)

// EngineMetrics bundles the instruments the facade updates on every
// public operation. All methods are safe with a no-op backend.
type EngineMetrics struct {
	tel Telemetry
}

// NewEngineMetrics wraps a telemetry backend.
func NewEngineMetrics(tel Telemetry) *EngineMetrics {
	if tel == nil {
		tel = NewNoop()
	}
	return &EngineMetrics{tel: tel}
}

// RecordOperation tracks one public operation with its latency and
// outcome.
func (m *EngineMetrics) RecordOperation(ctx context.Context, opType string, start time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrOperationType, opType),
		attribute.String(AttrStatus, status),
	}
	m.tel.RecordCounter(ctx, MetricOperationCount, 1, attrs...)
	m.tel.RecordHistogram(ctx, MetricOperationLatency, time.Since(start).Seconds(), attrs...)
}

// RecordWrite tracks bytes accepted by the write path.
func (m *EngineMetrics) RecordWrite(ctx context.Context, bytes int64) {
	m.tel.RecordCounter(ctx, MetricBytesWritten, bytes,
		attribute.String(AttrComponent, ComponentEngine))
}

// RecordRead tracks bytes returned by the read path.
func (m *EngineMetrics) RecordRead(ctx context.Context, bytes int64) {
	m.tel.RecordCounter(ctx, MetricBytesRead, bytes,
		attribute.String(AttrComponent, ComponentEngine))
}

// RecordFlush tracks one buffer flush and its duration.
func (m *EngineMetrics) RecordFlush(ctx context.Context, start time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrComponent, ComponentMemTable),
		attribute.String(AttrStatus, status),
	}
	m.tel.RecordCounter(ctx, MetricFlushCount, 1, attrs...)
	m.tel.RecordHistogram(ctx, MetricFlushDuration, time.Since(start).Seconds(), attrs...)
}

// RecordCompaction tracks one applied compaction.
func (m *EngineMetrics) RecordCompaction(ctx context.Context, sourceLevel int) {
	m.tel.RecordCounter(ctx, MetricCompactionCount, 1,
		attribute.String(AttrComponent, ComponentCompaction),
		attribute.Int(AttrLevel, sourceLevel))
}

// Shutdown flushes the backend.
func (m *EngineMetrics) Shutdown(ctx context.Context) error {
	return m.tel.Shutdown(ctx)
}
