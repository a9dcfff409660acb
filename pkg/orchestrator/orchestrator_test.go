package orchestrator

import (
	"context"
	"testing"

	"github.com/revkit/rev/pkg/config"
	"github.com/revkit/rev/pkg/recovery"
	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/task"
	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/uncertainty"
	"github.com/revkit/rev/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRole struct {
	outcome task.Outcome
}

func (s *stubRole) Execute(ctx context.Context, rc *runctx.RevContext, t *runctx.Task) task.Outcome {
	return s.outcome
}

func newOrchestrator(roles *task.Registry, workspaceRoot string) *Orchestrator {
	runner := task.NewRunner(roles, false)
	vc := verify.New(workspaceRoot)
	rm := recovery.New()
	return New(runner, vc, rm, nil, nil, nil, workspaceRoot)
}

func newPlanRC(tasks []*runctx.Task) *runctx.RevContext {
	return runctx.New("do the thing", config.ResourceBudget{}, runctx.NewExecutionPlan(tasks))
}

func TestRunIteration_InterruptedFailsRunAndReturnsErr(t *testing.T) {
	tk := &runctx.Task{TaskID: "t1", ActionType: tool.ActionRead, Status: runctx.StatusInProgress}
	rc := newPlanRC([]*runctx.Task{tk})
	reg := task.NewRegistry()
	o := newOrchestrator(reg, ".")
	o.Interrupted = func() bool { return true }

	guidance, err := o.RunIteration(context.Background(), rc)
	assert.Nil(t, guidance)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, runctx.PhaseFailed, rc.CurrentPhase)
	assert.Equal(t, runctx.StatusStopped, tk.Status)
	require.NotEmpty(t, rc.Errors)
}

func TestRunIteration_ResourceBudgetExceededFailsRun(t *testing.T) {
	tk := &runctx.Task{TaskID: "t1", ActionType: tool.ActionRead}
	rc := newPlanRC([]*runctx.Task{tk})
	rc.ResourceBudget = config.ResourceBudget{MaxSteps: 1, UsedSteps: 1}
	reg := task.NewRegistry()
	o := newOrchestrator(reg, ".")

	guidance, err := o.RunIteration(context.Background(), rc)
	assert.Nil(t, guidance)
	require.Error(t, err)
	assert.Equal(t, runctx.PhaseFailed, rc.CurrentPhase)
}

func TestRunIteration_EmptyPlanMarksComplete(t *testing.T) {
	rc := newPlanRC(nil)
	reg := task.NewRegistry()
	o := newOrchestrator(reg, ".")

	guidance, err := o.RunIteration(context.Background(), rc)
	assert.Nil(t, guidance)
	assert.NoError(t, err)
	assert.Equal(t, runctx.PhaseComplete, rc.CurrentPhase)
}

func TestRunIteration_SuccessWithInconclusiveVerifyAdvancesPlanNoGuidance(t *testing.T) {
	tk := &runctx.Task{TaskID: "t1", ActionType: tool.ActionRead}
	rc := newPlanRC([]*runctx.Task{tk})
	reg := task.NewRegistry()
	reg.Register(tool.ActionRead, &stubRole{outcome: task.Success("inspected the file")})
	o := newOrchestrator(reg, ".")

	guidance, err := o.RunIteration(context.Background(), rc)
	require.NoError(t, err)
	assert.Nil(t, guidance)
	assert.Equal(t, runctx.StatusCompleted, tk.Status)
	assert.Equal(t, 1, rc.Plan.CurrentIndex)
	assert.Equal(t, 1, rc.CurrentIteration())
}

func TestRunIteration_VerificationFailureExhaustsRecoveryBudgetAndAsksGuidance(t *testing.T) {
	tk := &runctx.Task{TaskID: "t1", ActionType: tool.ActionRead}
	tk.RecordToolEvent("run_cmd", "fatal error: permission denied contacting service")
	rc := newPlanRC([]*runctx.Task{tk})
	reg := task.NewRegistry()
	reg.Register(tool.ActionRead, &stubRole{outcome: task.Success("tried the thing")})
	o := newOrchestrator(reg, ".")

	guidance, err := o.RunIteration(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, guidance)
	assert.Equal(t, "t1", guidance.TaskID)
	assert.Equal(t, runctx.StatusFailed, tk.Status)
	require.NotEmpty(t, rc.Errors)
}

func TestRunIteration_UncertaintyAutoSkipStopsTaskWithoutGuidance(t *testing.T) {
	tk := &runctx.Task{TaskID: "t1", ActionType: tool.ActionRead}
	rc := newPlanRC([]*runctx.Task{tk})
	reg := task.NewRegistry()
	reg.Register(tool.ActionRead, &stubRole{outcome: task.Success("done")})
	o := newOrchestrator(reg, ".")
	o.Uncertainty = func(uncertainty.Input) uncertainty.Score {
		return uncertainty.Score{Total: 99}
	}

	guidance, err := o.RunIteration(context.Background(), rc)
	require.NoError(t, err)
	assert.Nil(t, guidance)
	assert.Equal(t, runctx.StatusStopped, tk.Status)
}

func TestRunIteration_UncertaintyNeedsGuidance(t *testing.T) {
	tk := &runctx.Task{TaskID: "t1", ActionType: tool.ActionRead}
	rc := newPlanRC([]*runctx.Task{tk})
	reg := task.NewRegistry()
	reg.Register(tool.ActionRead, &stubRole{outcome: task.Success("done")})
	o := newOrchestrator(reg, ".")
	o.Uncertainty = func(uncertainty.Input) uncertainty.Score {
		return uncertainty.Score{Total: 6}
	}

	guidance, err := o.RunIteration(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, guidance)
	assert.Equal(t, "t1", guidance.TaskID)
}

func TestRun_CompletesAllTasksWithoutGuidance(t *testing.T) {
	tasks := []*runctx.Task{
		{TaskID: "t1", ActionType: tool.ActionRead},
		{TaskID: "t2", ActionType: tool.ActionRead},
	}
	rc := newPlanRC(tasks)
	reg := task.NewRegistry()
	reg.Register(tool.ActionRead, &stubRole{outcome: task.Success("done")})
	o := newOrchestrator(reg, ".")

	err := o.Run(context.Background(), rc, func(GuidanceRequest) bool {
		t.Fatal("no guidance should have been requested")
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, runctx.PhaseComplete, rc.CurrentPhase)
	for _, tk := range tasks {
		assert.Equal(t, runctx.StatusCompleted, tk.Status)
	}
}

func TestRun_StopsWhenGuidanceDeclined(t *testing.T) {
	tk := &runctx.Task{TaskID: "t1", ActionType: tool.ActionRead}
	tk.RecordToolEvent("run_cmd", "fatal error: permission denied contacting service")
	rc := newPlanRC([]*runctx.Task{tk})
	reg := task.NewRegistry()
	reg.Register(tool.ActionRead, &stubRole{outcome: task.Success("tried the thing")})
	o := newOrchestrator(reg, ".")

	err := o.Run(context.Background(), rc, func(GuidanceRequest) bool { return false })
	require.Error(t, err)
	assert.Equal(t, runctx.PhaseFailed, rc.CurrentPhase)
}
