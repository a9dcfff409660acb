package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records counters and histograms for three surfaces: tool
// execution, provider (LLM) calls, and orchestrator iterations. Built
// directly against the global MeterProvider rather than threading an
// explicit one through — when no SDK MeterProvider is installed,
// otel.Meter returns the no-op implementation and these calls are inert.
type Metrics struct {
	toolCalls       metric.Int64Counter
	toolDuration    metric.Float64Histogram
	providerCalls   metric.Int64Counter
	providerTokens  metric.Int64Counter
	iterationsTotal metric.Int64Counter
}

// NewMetrics instantiates every instrument against the global Meter
// named "rev". Instrument-creation errors are treated as non-fatal (the
// resulting nil instrument fields are safe no-ops via the nil checks in
// Record*) since a metrics backend must never block the orchestration
// loop.
func NewMetrics() *Metrics {
	meter := otel.Meter("rev")
	m := &Metrics{}
	m.toolCalls, _ = meter.Int64Counter("rev.tool.calls_total")
	m.toolDuration, _ = meter.Float64Histogram("rev.tool.duration_seconds")
	m.providerCalls, _ = meter.Int64Counter("rev.provider.calls_total")
	m.providerTokens, _ = meter.Int64Counter("rev.provider.tokens_total")
	m.iterationsTotal, _ = meter.Int64Counter("rev.orchestrator.iterations_total")
	return m
}

func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, success bool) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool), attribute.Bool("success", success))
	m.toolCalls.Add(ctx, 1, attrs)
	if m.toolDuration != nil {
		m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func (m *Metrics) RecordProviderCall(ctx context.Context, model string, promptTokens, completionTokens int) {
	if m == nil || m.providerCalls == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.providerCalls.Add(ctx, 1, attrs)
	if m.providerTokens != nil {
		m.providerTokens.Add(ctx, int64(promptTokens+completionTokens), attrs)
	}
}

func (m *Metrics) RecordIteration(ctx context.Context, runID string) {
	if m == nil || m.iterationsTotal == nil {
		return
	}
	m.iterationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("run_id", runID)))
}
