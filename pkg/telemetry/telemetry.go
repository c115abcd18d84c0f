// Package telemetry wires optional OpenTelemetry instrumentation for the
// storage engine. When disabled it degrades to a no-op implementation;
// the engine never fails because telemetry fails.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the abstraction engine components record through without
// depending on OpenTelemetry directly.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan creates a new tracing span with the given name and attributes.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown flushes and stops all providers.
	Shutdown(ctx context.Context) error
}

// NoopTelemetry discards everything. It backs disabled configurations.
type NoopTelemetry struct{}

// NewNoop creates a no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

func (n *NoopTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// RecordDuration records the elapsed time since start in seconds.
func RecordDuration(ctx context.Context, tel Telemetry, name string, start time.Time, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, time.Since(start).Seconds(), attrs...)
}

// Attribute keys shared across components for consistent naming.
const (
	AttrOperationType = "operation.type"
	AttrComponent     = "component"
	AttrStatus        = "status"
	AttrLevel         = "level"
	AttrFileID        = "file.id"
)

// Attribute values.
const (
	OpTypePut    = "put"
	OpTypeGet    = "get"
	OpTypeDelete = "delete"
	OpTypeScan   = "scan"
	OpTypeBatch  = "batch"
	OpTypeFlush  = "flush"

	StatusSuccess = "success"
	StatusError   = "error"

	ComponentWAL        = "wal"
	ComponentMemTable   = "memtable"
	ComponentSSTable    = "sstable"
	ComponentCompaction = "compaction"
	ComponentEngine     = "engine"
)
