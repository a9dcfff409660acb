package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/revkit/rev/pkg/contextbuilder"
	"github.com/revkit/rev/pkg/provider"
	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/sessiontracker"
	"github.com/revkit/rev/pkg/task"
	"github.com/revkit/rev/pkg/telemetry"
	"github.com/revkit/rev/pkg/tool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// goalAchievedSentinel and stopSentinel are the action-grammar
// sentinels: a GOAL_ACHIEVED line on its own terminates the sub-agent
// loop with success; STOP terminates it with failure.
const (
	goalAchievedSentinel = "GOAL_ACHIEVED"
	stopSentinel         = "STOP"
)

// ConfirmFunc is the injected confirmation prompt for scary operations
//. It receives the tool name and the reason the
// call was flagged, and returns whether the operation should proceed.
type ConfirmFunc func(toolName, reason string) bool

// GenericAgentRole is the default LLM-driven AgentRole: it runs zero or
// more provider chat rounds, dispatching any emitted tool_calls through
// the Tool Registry, until the model emits GOAL_ACHIEVED, STOP, a plain
// text answer, or the round budget is exhausted — chat, inspect
// tool_calls, execute, append results, repeat.
type GenericAgentRole struct {
	Provider       provider.Provider
	Tools          *tool.Registry
	ContextBuilder contextbuilder.Builder
	Tracker        *sessiontracker.Tracker
	Metrics        *telemetry.Metrics
	MaxRounds      int
	MaxTools       int
	Confirm        ConfirmFunc
	SessionID      string

	mu           sync.Mutex
	confirmMemo  map[string]bool
	thoughtLoops map[string]*ThoughtLoopDetector
}

// NewGenericAgentRole creates a role with sane defaults for MaxRounds and
// MaxTools when zero is supplied.
func NewGenericAgentRole(p provider.Provider, tools *tool.Registry, cb contextbuilder.Builder, tracker *sessiontracker.Tracker) *GenericAgentRole {
	return &GenericAgentRole{
		Provider:       p,
		Tools:          tools,
		ContextBuilder: cb,
		Tracker:        tracker,
		MaxRounds:      8,
		MaxTools:       12,
		confirmMemo:    map[string]bool{},
		thoughtLoops:   map[string]*ThoughtLoopDetector{},
	}
}

func (g *GenericAgentRole) detectorFor(taskID string) *ThoughtLoopDetector {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.thoughtLoops[taskID]
	if !ok {
		d = NewThoughtLoopDetector()
		g.thoughtLoops[taskID] = d
	}
	return d
}

func (g *GenericAgentRole) memoizedConfirm(toolName, reason string) bool {
	key := ConfirmationKey(toolName, reason)
	g.mu.Lock()
	defer g.mu.Unlock()
	if decision, ok := g.confirmMemo[key]; ok {
		return decision
	}
	decision := true
	if g.Confirm != nil {
		decision = g.Confirm(toolName, reason)
	}
	g.confirmMemo[key] = decision
	return decision
}

// providerTracerName is the instrumentation scope for provider-call
// spans, alongside pkg/tool's tool-execution spans and pkg/orchestrator's
// per-iteration spans.
const providerTracerName = "rev/pkg/orchestrator/provider"

// chat wraps one Provider.Chat round in a span carrying the task and
// round so a trace backend can line up LLM latency against tool-call
// latency for the same task.
func (g *GenericAgentRole) chat(ctx context.Context, taskID string, round int, messages []provider.Message, tools []provider.ToolDefinition) (provider.Response, error) {
	ctx, span := otel.Tracer(providerTracerName).Start(ctx, "provider.chat", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.Int("round", round),
	))
	defer span.End()

	opts := provider.ChatOptions{Tools: tools, SupportsTools: true}
	resp, err := g.Provider.Chat(ctx, messages, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	g.Metrics.RecordProviderCall(ctx, opts.Model, resp.Usage.Prompt, resp.Usage.Completion)
	return resp, err
}

func toolDefinitions(infos []tool.ToolInfo) []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		props := make(map[string]any, len(info.Parameters))
		var required []string
		for _, p := range info.Parameters {
			prop := map[string]any{"type": p.Type, "description": p.Description}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			if p.Default != nil {
				prop["default"] = p.Default
			}
			props[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}
		schema := map[string]any{"type": "object", "properties": props, "required": required}
		defs = append(defs, provider.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  provider.SanitizeSchema(schema),
		})
	}
	return defs
}

// Execute runs the agent loop for t, returning a task.Outcome.
func (g *GenericAgentRole) Execute(ctx context.Context, rc *runctx.RevContext, t *runctx.Task) task.Outcome {
	fullUniverse := toolDefinitions(g.Tools.Info())
	cbResult, err := g.ContextBuilder.Build(ctx, contextbuilder.Request{
		Task:             t.Description,
		Context:          rc.UserRequest,
		FullToolUniverse: fullUniverse,
		MaxTools:         g.MaxTools,
	})
	if err != nil {
		return task.Fatal(fmt.Errorf("building tool context: %w", err))
	}

	messages := []provider.Message{
		{Role: "system", Content: cbResult.RenderedContext},
		{Role: "user", Content: t.Description},
	}

	detector := g.detectorFor(t.TaskID)

	for round := 0; round < g.MaxRounds; round++ {
		resp, err := g.chat(ctx, t.TaskID, round, messages, cbResult.SelectedTools)
		if err != nil {
			return task.Fatal(fmt.Errorf("provider chat: %w", err))
		}

		if g.Tracker != nil {
			g.Tracker.RecordMessage(provider.EstimateTokens(provider.Message{Content: resp.Message.Content}))
		}

		trimmed := strings.TrimSpace(resp.Message.Content)
		if trimmed == stopSentinel {
			return task.Fatal(fmt.Errorf("agent emitted STOP"))
		}
		if strings.Contains(trimmed, goalAchievedSentinel) {
			return task.Success(trimmed)
		}

		if len(resp.Message.ToolCalls) == 0 {
			if shimCall, ok := g.recoverTextShimCall(resp.Message.Content, t.ActionType); ok {
				messages = append(messages, provider.Message{Role: "assistant", Content: resp.Message.Content})
				result := g.dispatchToolCall(ctx, rc, t, provider.ToolCall{
					ID:       fmt.Sprintf("shim-%d", round),
					Function: provider.FunctionCall{Name: shimCall.Name, Arguments: shimCall.Arguments},
				})
				messages = append(messages, provider.Message{Role: "tool", Content: result.Output, Name: shimCall.Name})
				continue
			}
			if detector.Observe(resp.Message.Content) {
				forced := g.forceBreakout(t)
				messages = append(messages, provider.Message{Role: "assistant", Content: resp.Message.Content})
				messages = append(messages, forced)
				detector.Reset()
				continue
			}
			if trimmed == "" {
				return task.NeedsGuidance("agent produced no content and no tool calls")
			}
			return task.Success(trimmed)
		}

		messages = append(messages, provider.Message{Role: "assistant", Content: resp.Message.Content, ToolCalls: resp.Message.ToolCalls})

		for _, tc := range resp.Message.ToolCalls {
			result := g.dispatchToolCall(ctx, rc, t, tc)
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    result.Output,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
			})
		}
	}

	return task.NeedsGuidance("exceeded max agent rounds without reaching a conclusion")
}

// recoverTextShimCall applies the text-tool shim when a
// response carried no structured tool_calls: it first tries a recovered
// diff/patch body, then a recovered {"tool_name",...} object, gated by a
// PolicyScope that only ever allows the write-tool subset for write
// actions. A read tool is never recovered for a write task, and a diff is
// never recovered outside a write action.
func (g *GenericAgentRole) recoverTextShimCall(content string, actionType tool.Action) (tool.Call, bool) {
	allowed := tool.AllowedToolsForAction(actionType)
	if allowed == nil {
		allowed = g.Tools.Names()
	}
	scope := tool.PolicyScope{AllowedTools: allowed, ActionType: actionType}
	if call, ok := tool.RecoverPatchCall(content, scope); ok {
		return call, true
	}
	return tool.RecoverCall(content, scope)
}

func (g *GenericAgentRole) forceBreakout(t *runctx.Task) provider.Message {
	if !tool.IsWriteAction(t.ActionType) {
		return provider.Message{Role: "user", Content: "Call tree_view to orient yourself before continuing."}
	}
	return provider.Message{Role: "user", Content: "You appear stuck. State the single next concrete action you will take."}
}

func (g *GenericAgentRole) dispatchToolCall(ctx context.Context, rc *runctx.RevContext, t *runctx.Task, tc provider.ToolCall) tool.Result {
	name := tc.Function.Name
	args := tc.Function.Arguments

	if scary, reason := IsScaryOperation(t.ActionType, name, args); scary {
		if !g.memoizedConfirm(name, reason) {
			t.RecordToolEvent(name, "denied:"+reason)
			return tool.Result{Success: false, ToolName: name, Error: "User cancelled destructive operation"}
		}
	}

	result, execErr := g.Tools.Execute(ctx, "agent", g.SessionID, t.TaskID, fmt.Sprintf("r%d", len(t.ToolEvents)), name, args)
	digest := result.Output
	if len(digest) > 64 {
		digest = digest[:64]
	}
	t.RecordToolEvent(name, digest)

	if g.Tracker != nil {
		g.Tracker.RecordToolUsed(name)
		if execErr != nil || !result.Success {
			g.Tracker.RecordError(result.Error)
		}
	}

	if execErr != nil && result.Error == "" {
		result.Error = execErr.Error()
	}
	return result
}
