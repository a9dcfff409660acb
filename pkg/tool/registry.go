package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/revkit/rev/pkg/artifact"
	"github.com/revkit/rev/pkg/ledger"
	"github.com/revkit/rev/pkg/registry"
	"github.com/revkit/rev/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for tool-execution spans.
const tracerName = "rev/pkg/tool"

// Checker is the subset of the permission manager the registry needs. It is
// an interface here (rather than a direct pkg/permission import) to avoid a
// dependency cycle, since pkg/permission references Call/Action.
type Checker interface {
	Check(agentName, toolName string, args map[string]any) error
}

// Entry pairs a registered Tool with its declared internal visibility.
type Entry struct {
	Tool     Tool
	Internal bool
}

// Registry is the catalog of executable tools, wrapping the generic
// registry.Base and adding permission, ledger, and artifact-compression
// enforcement around every call.
type Registry struct {
	base      *registry.Base[Entry]
	artifacts *artifact.Store
	ledger    *ledger.Ledger
	checker   Checker
	metrics   *telemetry.Metrics
}

// SetMetrics attaches a metrics recorder for tool.execute spans. Optional: Execute is a safe no-op
// against a nil *telemetry.Metrics, so callers that never call this keep
// the registry's behavior unchanged.
func (r *Registry) SetMetrics(m *telemetry.Metrics) *Registry {
	r.metrics = m
	return r
}

// New creates a Registry. artifacts and ledgr may be nil to disable
// compression/recording (used by tests that only exercise dispatch).
func New(artifacts *artifact.Store, ledgr *ledger.Ledger, checker Checker) *Registry {
	return &Registry{
		base:      registry.New[Entry](),
		artifacts: artifacts,
		ledger:    ledgr,
		checker:   checker,
	}
}

// Register adds a tool under its own name.
func (r *Registry) Register(t Tool, internal bool) error {
	return r.base.Register(t.Name(), Entry{Tool: t, Internal: internal})
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.base.Get(name)
	if !ok {
		return nil, false
	}
	return e.Tool, true
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string { return r.base.Names() }

// Info lists ToolInfo for every non-internal registered tool.
func (r *Registry) Info() []ToolInfo {
	var out []ToolInfo
	for _, name := range r.base.Names() {
		e, _ := r.base.Get(name)
		if e.Internal {
			continue
		}
		out = append(out, e.Tool.Info())
	}
	return out
}

// Execute runs toolName under permission check, tracing, ledger recording,
// and artifact-threshold compression, returning a Result whose Output has
// been replaced by a short evidence summary when it exceeded the
// artifact-byte threshold.
func (r *Registry) Execute(ctx context.Context, agentName, sessionID, taskID, stepID, toolName string, args map[string]any) (Result, error) {
	start := time.Now()

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("agent.name", agentName),
	))
	defer span.End()

	if r.checker != nil {
		if err := r.checker.Check(agentName, toolName, args); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "permission denied")
			r.record(agentName, toolName, args, ledger.StatusBlocked, time.Since(start), "")
			return Result{Success: false, ToolName: toolName, Error: err.Error()}, nil
		}
	}

	t, ok := r.Get(toolName)
	if !ok {
		err := fmt.Errorf("tool: %q not registered", toolName)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		r.record(agentName, toolName, args, ledger.StatusError, time.Since(start), "")
		return Result{Success: false, ToolName: toolName, Error: err.Error()}, err
	}

	result, err := t.Execute(ctx, args)
	result.ToolName = toolName
	result.ExecutionTime = time.Since(start)

	status := ledger.StatusSuccess
	if err != nil || !result.Success {
		status = ledger.StatusError
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, result.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.Int64("tool.duration_ms", result.ExecutionTime.Milliseconds()))

	digest := ""
	if r.artifacts != nil && result.Output != "" && r.artifacts.ShouldPersist(toolName, len(result.Output)) {
		ref, meta, werr := r.artifacts.Write(toolName, args, result.Output, sessionID, taskID, stepID, agentName, false)
		if werr == nil {
			result.ArtifactRef = ref.AsPosix()
			result.Output = fmt.Sprintf("[output compressed to artifact %s: %d bytes, %d lines, redacted=%v]",
				ref.AsPosix(), meta.ByteLen, meta.LineCount, meta.Redacted)
			digest = meta.Digest
		}
	}

	r.record(agentName, toolName, args, status, result.ExecutionTime, digest)
	r.metrics.RecordToolExecution(ctx, toolName, result.ExecutionTime, status == ledger.StatusSuccess)
	return result, err
}

func (r *Registry) record(agentName, toolName string, args map[string]any, status ledger.Status, dur time.Duration, digest string) {
	if r.ledger == nil {
		return
	}
	r.ledger.Append(ledger.Event{
		Timestamp:    time.Now(),
		Tool:         toolName,
		Arguments:    args,
		ResultDigest: digest,
		DurationMS:   dur.Milliseconds(),
		AgentName:    agentName,
		Status:       status,
	})
}
