// Package task implements the Task Runner: the
// per-task dispatch algorithm that normalizes a task's action type,
// enforces read-only-system and .py-filename coercion rules, and hands
// the task to the agent-role implementation registered for its
// (possibly rewritten) action type. Each agent role implements a
// single-method interface execute(task, context) -> result_string; a
// tagged-union AgentOutcome avoids exception-driven control flow, and
// dispatch is a name->implementation registry keyed by action type.
package task

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/tool"
)

// OutcomeKind is AgentOutcome's tag.
type OutcomeKind string

const (
	OutcomeSuccess       OutcomeKind = "success"
	OutcomeNeedsGuidance OutcomeKind = "needs_guidance"
	OutcomeFatal         OutcomeKind = "fatal"
)

// Outcome is the tagged-union result an AgentRole returns, replacing
// exception-driven control flow across the role boundary.
type Outcome struct {
	Kind     OutcomeKind
	Result   string
	Guidance string
	Err      error
}

// Success builds a successful Outcome.
func Success(result string) Outcome { return Outcome{Kind: OutcomeSuccess, Result: result} }

// NeedsGuidance builds an Outcome asking the orchestrator to request
// user guidance before continuing.
func NeedsGuidance(reason string) Outcome {
	return Outcome{Kind: OutcomeNeedsGuidance, Guidance: reason}
}

// Fatal builds an Outcome carrying an unrecoverable error.
func Fatal(err error) Outcome { return Outcome{Kind: OutcomeFatal, Err: err} }

// AgentRole is the single-method external-collaborator interface every
// pluggable role implements: it accepts (ctx, context, task) and returns
// a textual outcome, driving the Provider and Tool Registry itself.
type AgentRole interface {
	Execute(ctx context.Context, rc *runctx.RevContext, t *runctx.Task) Outcome
}

// Registry maps a canonical Action to the AgentRole responsible for it.
type Registry struct {
	roles       map[tool.Action]AgentRole
	defaultRole AgentRole
}

// NewRegistry creates an empty role registry.
func NewRegistry() *Registry {
	return &Registry{roles: make(map[tool.Action]AgentRole)}
}

// Register assigns role to actionType.
func (r *Registry) Register(actionType tool.Action, role AgentRole) {
	r.roles[actionType] = role
}

// SetDefault assigns the fallback role used for any action type with no
// explicit registration.
func (r *Registry) SetDefault(role AgentRole) {
	r.defaultRole = role
}

func (r *Registry) roleFor(actionType tool.Action) (AgentRole, bool) {
	if role, ok := r.roles[actionType]; ok {
		return role, true
	}
	if r.defaultRole != nil {
		return r.defaultRole, true
	}
	return nil, false
}

// Runner dispatches a single Task through a 7-step algorithm: skip if
// already complete, apply read-only constraints, coerce directory-vs-file
// actions, normalize the action type, stop write actions when read-only,
// mark in-progress, dispatch, then finalize status.
type Runner struct {
	Roles    *Registry
	ReadOnly bool
}

// NewRunner creates a Runner bound to a role registry.
func NewRunner(roles *Registry, readOnly bool) *Runner {
	return &Runner{Roles: roles, ReadOnly: readOnly}
}

var pyFilenamePattern = regexp.MustCompile(`[\w./-]+\.py\b`)

// Run executes the Task Runner algorithm for t against rc, mutating t's
// status in place. It never panics outward: any panic from the
// dispatched agent role is recovered and converted into a Failed status
// with the traceback appended to rc.Errors.
func (r *Runner) Run(ctx context.Context, rc *runctx.RevContext, t *runctx.Task) {
	// 1. Already-completed short circuit.
	if t.Status == runctx.StatusCompleted {
		return
	}

	// 2. Read-only constraints: a task explicitly marked for review-only
	// dispatch (a planner convention: the raw action token is exactly
	// "review_only") is rewritten to a plain read action even in a
	// writable system; read-only-system enforcement against write
	// actions themselves happens in step 5 below.
	if string(t.ActionType) == "review_only" {
		t.ActionType = tool.ActionRead
	}

	// 3. Coerce create_directory with a .py filename in the description
	// to add — a directory-creation proposal that actually names a
	// Python file is almost always a misclassified file-write.
	if t.ActionType == tool.ActionCreateDirectory && pyFilenamePattern.MatchString(t.Description) {
		t.ActionType = tool.ActionAdd
	}

	// 4. Normalize action_type through the action normalizer.
	t.ActionType = tool.NormalizeAction(string(t.ActionType))

	// 5. Write action against a read-only system: stop, never dispatch.
	if r.ReadOnly && tool.IsWriteAction(t.ActionType) {
		_ = rc.MarkTaskStopped(t.TaskID, "write action proposed against a read-only system")
		return
	}

	// 6. Mark InProgress; dispatch to the agent role for this action.
	if err := rc.MarkTaskInProgress(t.TaskID); err != nil {
		_ = rc.MarkTaskFailed(t.TaskID, err.Error())
		return
	}

	role, ok := r.Roles.roleFor(t.ActionType)
	if !ok {
		_ = rc.MarkTaskFailed(t.TaskID, fmt.Sprintf("no agent role registered for action %q", t.ActionType))
		return
	}

	outcome := r.dispatch(ctx, rc, t, role)

	// 7. On return, set Completed or Failed with error.
	switch outcome.Kind {
	case OutcomeSuccess:
		if err := rc.MarkTaskCompleted(t.TaskID); err != nil {
			// MarkTaskCompleted itself enforces the write-tool invariant
			// and has already recorded Failed with the matching error.
			rc.AddError(err.Error())
		}
	case OutcomeNeedsGuidance:
		_ = rc.MarkTaskFailed(t.TaskID, "needs guidance: "+outcome.Guidance)
	case OutcomeFatal:
		msg := "unknown error"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		_ = rc.MarkTaskFailed(t.TaskID, msg)
		rc.AddError(msg)
	}
}

// dispatch invokes role.Execute, converting any panic into a Fatal
// outcome carrying the recovered value and a stack trace, appended to
// rc.Errors.
func (r *Runner) dispatch(ctx context.Context, rc *runctx.RevContext, t *runctx.Task, role AgentRole) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			trace := string(debug.Stack())
			msg := fmt.Sprintf("panic in agent role for task %s: %v\n%s", t.TaskID, p, trace)
			rc.AddError(msg)
			outcome = Fatal(fmt.Errorf("panic in agent role: %v", p))
		}
	}()
	return role.Execute(ctx, rc, t)
}

// PlausibleFilePaths extracts distinct-looking file path tokens from a
// description, used by the Uncertainty Detector's multiple_files signal
// and exposed here since the Task Runner's .py coercion (step 3) already
// needs comparable path-sniffing.
func PlausibleFilePaths(description string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, field := range strings.Fields(description) {
		field = strings.Trim(field, ",.;:()[]\"'")
		if strings.Contains(field, "/") || filepath.Ext(field) != "" {
			if !seen[field] {
				seen[field] = true
				out = append(out, field)
			}
		}
	}
	return out
}
