package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/revkit/rev/pkg/checkpoint"
	"github.com/revkit/rev/pkg/debuglog"
	"github.com/revkit/rev/pkg/recovery"
	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/sessiontracker"
	"github.com/revkit/rev/pkg/task"
	"github.com/revkit/rev/pkg/telemetry"
	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/uncertainty"
	"github.com/revkit/rev/pkg/verify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for per-iteration spans,
// mirroring pkg/tool's tool-execution spans.
const tracerName = "rev/pkg/orchestrator"

// ErrInterrupted is returned from RunIteration when the caller-supplied
// interrupt check trips mid-iteration.
var ErrInterrupted = errors.New("orchestrator: interrupted")

// GuidanceRequest is surfaced to the caller whenever a task's outcome or
// uncertainty score asks for user input before continuing.
type GuidanceRequest struct {
	TaskID string
	Reason string
}

// Orchestrator drives the central loop: task selection,
// Task Runner dispatch, write-constraint enforcement, verification,
// recovery budget bookkeeping, and uncertainty scoring, dispatching each
// task through a pluggable AgentRole rather than a single hardcoded agent
// type. When Parallel is 1 (the default) tasks run one per iteration in
// plan order; when Parallel > 1, Run instead dispatches every
// dependency-satisfied task through a bounded worker pool, so two
// independent tasks can be InProgress at once.
type Orchestrator struct {
	Runner      *task.Runner
	Verify      *verify.Coordinator
	Recovery    *recovery.Manager
	Uncertainty func(uncertainty.Input) uncertainty.Score
	Tracker     *sessiontracker.Tracker
	Checkpoints *checkpoint.Manager
	Log         *debuglog.Logger
	Metrics     *telemetry.Metrics

	// Interrupted is polled at the top of every iteration; a true return aborts the run.
	Interrupted func() bool

	// Parallel bounds the concurrent execution worker pool. 0 or 1 keeps
	// the sequential one-task-per-iteration path.
	Parallel int

	WorkspaceRoot string
}

// New creates an Orchestrator with the supplied collaborators. Uncertainty
// defaults to uncertainty.Compute when nil. Parallel defaults to 1
// (sequential); set it directly to enable the concurrent worker pool.
func New(runner *task.Runner, vc *verify.Coordinator, rm *recovery.Manager, tracker *sessiontracker.Tracker, cp *checkpoint.Manager, log *debuglog.Logger, workspaceRoot string) *Orchestrator {
	return &Orchestrator{
		Runner:        runner,
		Verify:        vc,
		Recovery:      rm,
		Uncertainty:   uncertainty.Compute,
		Tracker:       tracker,
		Checkpoints:   cp,
		Log:           log,
		Parallel:      1,
		WorkspaceRoot: workspaceRoot,
	}
}

// RunIteration executes one full pass of the central loop over the
// current task. It returns (nil, nil) when the
// run should continue to the next task, a non-nil GuidanceRequest when
// user input is needed, and a non-nil error only for terminal
// conditions (interruption or budget exhaustion).
func (o *Orchestrator) RunIteration(ctx context.Context, rc *runctx.RevContext) (*GuidanceRequest, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.iteration", trace.WithAttributes(
		attribute.String("run.id", rc.RunID),
		attribute.Int("iteration", rc.CurrentIteration()),
	))
	defer span.End()
	o.Metrics.RecordIteration(ctx, rc.RunID)

	// 1. Interrupt / budget check.
	if o.Interrupted != nil && o.Interrupted() {
		o.failRun(rc, "interrupted")
		return nil, ErrInterrupted
	}
	if rc.ResourceBudget.Exceeded() {
		o.failRun(rc, "resource budget exceeded")
		return nil, fmt.Errorf("orchestrator: resource budget exceeded")
	}

	// 2. Select next task from the plan.
	t := rc.Plan.Current()
	if t == nil {
		rc.CurrentPhase = runctx.PhaseComplete
		return nil, nil
	}

	rc.CurrentPhase = runctx.PhaseExecution
	guidance := o.processTask(ctx, rc, t)

	// 8. Advance iteration/plan.
	rc.AdvanceIteration()
	rc.Plan.Advance()

	if rc.Plan.IsComplete() {
		rc.CurrentPhase = runctx.PhaseComplete
	}

	return guidance, nil
}

// processTask runs steps 3 through 7 of the central loop against a single
// task: Task Runner dispatch, verification, recovery bookkeeping on
// failure, and uncertainty scoring. It is shared by the sequential
// RunIteration path and the concurrent worker pool, since both select a
// task through different means but process it identically once selected.
func (o *Orchestrator) processTask(ctx context.Context, rc *runctx.RevContext, t *runctx.Task) *GuidanceRequest {
	if o.Log != nil {
		o.Log.LogWorkflowPhase("orchestrator", string(runctx.PhaseExecution))
	}

	// 3. Route through the Task Runner (the agent role itself performs
	// zero or more LLM rounds and tool dispatch; every tool call already
	// flows through the Permission Manager and Tool Registry inside it).
	o.Runner.Run(ctx, rc, t)

	// 4. Write-constraint enforcement already happened inside
	// RevContext.MarkTaskCompleted, called by the Task Runner.

	// 5. Verification.
	vr := o.Verify.Verify(t, lastToolOutput(t))
	if o.Tracker != nil {
		recordVerification(o.Tracker, t, vr)
	}
	if !vr.Passed && !vr.Inconclusive {
		o.handleVerificationFailure(rc, t, vr)
	}

	// 6. Recovery bookkeeping on failure.
	var guidance *GuidanceRequest
	if t.Status == runctx.StatusFailed {
		class := recovery.ClassifyError(vr)
		budget := o.Recovery.IncrementRecoveryBudget(rc, t.TaskID, class)
		if budget.Exhausted() {
			summary := recovery.BuildFailureSummary(t, vr, t.TaskID, budget.Used)
			rc.AddError(summary)
			guidance = &GuidanceRequest{TaskID: t.TaskID, Reason: summary}
		}
	}

	// 7. Uncertainty scoring.
	if guidance == nil {
		score := o.Uncertainty(uncertainty.Input{
			Task:               t,
			WorkspaceRoot:      o.WorkspaceRoot,
			VerificationResult: vr,
			PriorErrors:        rc.ErrorsSnapshot(),
		})
		if score.AutoSkip() {
			_ = rc.MarkTaskStopped(t.TaskID, "auto-skipped: uncertainty score exceeded auto-skip threshold")
		} else if score.NeedsGuidance() {
			guidance = &GuidanceRequest{TaskID: t.TaskID, Reason: "uncertainty score requested guidance"}
		}
	}

	return guidance
}

func lastToolOutput(t *runctx.Task) string {
	if len(t.ToolEvents) == 0 {
		return t.Error
	}
	return t.ToolEvents[len(t.ToolEvents)-1].ArgsDigest
}

func (o *Orchestrator) handleVerificationFailure(rc *runctx.RevContext, t *runctx.Task, vr verify.Result) {
	if t.Status != runctx.StatusFailed {
		_ = rc.MarkTaskFailed(t.TaskID, vr.Message)
	}
	if vr.ShouldReplan {
		rc.AddError(fmt.Sprintf("task %s: verification requested replan: %s", t.TaskID, vr.Message))
	}
}

func recordVerification(tracker *sessiontracker.Tracker, t *runctx.Task, vr verify.Result) {
	if t.ActionType != tool.ActionTest {
		return
	}
	tracker.RecordTestRun(vr.Passed)
}

func (o *Orchestrator) failRun(rc *runctx.RevContext, reason string) {
	rc.CurrentPhase = runctx.PhaseFailed
	rc.AddError(reason)
	if rc.Plan != nil {
		for _, t := range rc.Plan.Tasks {
			if t.Status == runctx.StatusInProgress {
				_ = rc.MarkTaskStopped(t.TaskID, reason)
			}
		}
	}
	if o.Checkpoints != nil && rc.Plan != nil {
		_, _ = o.Checkpoints.SaveCheckpoint(rc.Plan, rc.AgentState, reason)
	}
}

// Run drives the central loop to completion, invoking onGuidance for every
// GuidanceRequest raised; a false return from onGuidance stops the run.
// With Parallel <= 1 it drives RunIteration one task at a time in plan
// order; with Parallel > 1 it dispatches every dependency-satisfied task
// through a bounded worker pool instead.
func (o *Orchestrator) Run(ctx context.Context, rc *runctx.RevContext, onGuidance func(GuidanceRequest) bool) error {
	rc.StartClock()
	if o.Parallel <= 1 {
		for !rc.Plan.IsComplete() {
			guidance, err := o.RunIteration(ctx, rc)
			if err != nil {
				return err
			}
			if guidance != nil {
				if !onGuidance(*guidance) {
					rc.CurrentPhase = runctx.PhaseFailed
					return fmt.Errorf("orchestrator: run stopped pending guidance on task %s", guidance.TaskID)
				}
			}
		}
		return nil
	}
	return o.runConcurrent(ctx, rc, onGuidance)
}

// runConcurrent drives rounds of the worker pool until the plan is
// complete: each round dispatches up to Parallel dependency-satisfied
// tasks concurrently, waits for all of them, surfaces any guidance
// requests to onGuidance in task order, then re-selects. A round with
// nothing ready and nothing in flight means the remaining tasks can never
// become ready (a broken dependency graph or all blocked by a prior
// failure); those are stopped and the run ends.
func (o *Orchestrator) runConcurrent(ctx context.Context, rc *runctx.RevContext, onGuidance func(GuidanceRequest) bool) error {
	for !rc.Plan.IsComplete() {
		roundCtx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.round", trace.WithAttributes(
			attribute.String("run.id", rc.RunID),
			attribute.Int("iteration", rc.CurrentIteration()),
		))
		o.Metrics.RecordIteration(roundCtx, rc.RunID)

		if o.Interrupted != nil && o.Interrupted() {
			span.End()
			o.failRun(rc, "interrupted")
			return ErrInterrupted
		}
		if rc.ResourceBudget.Exceeded() {
			span.End()
			o.failRun(rc, "resource budget exceeded")
			return fmt.Errorf("orchestrator: resource budget exceeded")
		}

		ready := rc.Plan.ReadyTasks()
		if len(ready) == 0 {
			// Every round dispatches synchronously and waits for the whole
			// batch before looping, so no task is ever left InProgress
			// here: an empty ready set means the rest of the plan can
			// never become ready (a dependency cycle or a dependency on a
			// non-Completed terminal task).
			o.stopUnreachableTasks(rc)
			span.End()
			break
		}
		if len(ready) > o.Parallel {
			ready = ready[:o.Parallel]
		}

		for _, t := range ready {
			if err := rc.MarkTaskInProgress(t.TaskID); err != nil {
				rc.AddError(err.Error())
			}
		}

		guidances := make([]*GuidanceRequest, len(ready))
		var wg sync.WaitGroup
		for i, t := range ready {
			wg.Add(1)
			go func(i int, t *runctx.Task) {
				defer wg.Done()
				guidances[i] = o.processTask(roundCtx, rc, t)
			}(i, t)
		}
		wg.Wait()
		rc.AdvanceIteration()
		span.End()

		for _, g := range guidances {
			if g == nil {
				continue
			}
			if !onGuidance(*g) {
				rc.CurrentPhase = runctx.PhaseFailed
				return fmt.Errorf("orchestrator: run stopped pending guidance on task %s", g.TaskID)
			}
		}
	}

	if rc.Plan.IsComplete() {
		rc.CurrentPhase = runctx.PhaseComplete
	}
	return nil
}

// stopUnreachableTasks marks every remaining non-terminal task Stopped:
// reached only when a round finds nothing ready and nothing in flight,
// meaning a dependency cycle or an unlisted dependency is blocking them
// forever.
func (o *Orchestrator) stopUnreachableTasks(rc *runctx.RevContext) {
	for _, t := range rc.Plan.Tasks {
		if !t.IsTerminal() {
			_ = rc.MarkTaskStopped(t.TaskID, "unreachable: dependencies never satisfied")
		}
	}
	rc.AddError("concurrent execution stalled: remaining tasks had unsatisfiable dependencies")
}
