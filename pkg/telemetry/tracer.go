package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/revkit/rev/pkg/debuglog"
)

// InitTracerProvider installs a real SDK TracerProvider as the OTel
// global, backing every otel.Tracer(...) span already started across
// pkg/orchestrator, pkg/tool, and pkg/provider with a log-backed
// exporter. When enabled is false the global stays the default no-op
// provider: tracing is a no-op until wired, so spans are free but
// discarded.
func InitTracerProvider(enabled bool, log *debuglog.Logger) func(context.Context) error {
	if !enabled {
		return func(context.Context) error { return nil }
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(newLogExporter(log)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
