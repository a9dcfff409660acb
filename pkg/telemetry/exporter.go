// Package telemetry wires a real OpenTelemetry SDK TracerProvider and a
// package-level Meter into the orchestration core's process-wide spans
// (pkg/orchestrator, pkg/tool, pkg/provider already start spans against
// the global otel.Tracer; this package is what actually backs that
// global with an exporter instead of the no-op default).
package telemetry

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/revkit/rev/pkg/debuglog"
)

// logExporter is a minimal sdktrace.SpanExporter that forwards finished
// spans into the debug/transcript log rather than an external collector:
// it converts each ReadOnlySpan and sends it through debuglog.Logger.Log
// instead of keeping it in an in-memory, queryable map.
type logExporter struct {
	mu  sync.Mutex
	log *debuglog.Logger
}

func newLogExporter(log *debuglog.Logger) *logExporter {
	return &logExporter{log: log}
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.log == nil {
		return nil
	}
	for _, span := range spans {
		data := map[string]any{
			"trace_id":    span.SpanContext().TraceID().String(),
			"span_id":     span.SpanContext().SpanID().String(),
			"duration_ms": float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000,
			"status":      span.Status().Code.String(),
		}
		for _, attr := range span.Attributes() {
			data[string(attr.Key)] = attr.Value.AsInterface()
		}
		e.log.Log("telemetry", span.Name(), data, debuglog.LevelDebug)
	}
	return nil
}

func (e *logExporter) Shutdown(ctx context.Context) error { return nil }

var _ sdktrace.SpanExporter = (*logExporter)(nil)
