package uncertainty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_PlannerHesitationSignal(t *testing.T) {
	in := Input{Task: &runctx.Task{ActionType: tool.ActionEdit, Description: "not sure, could try refactoring this"}}
	s := Compute(in)
	assert.True(t, s.Signals[SignalPlannerHesitation])
	assert.GreaterOrEqual(t, s.Total, weights[SignalPlannerHesitation])
}

func TestCompute_MultipleFilesOnlyForEligibleActions(t *testing.T) {
	in := Input{Task: &runctx.Task{ActionType: tool.ActionEdit, Description: "update a.go and b.go together"}}
	s := Compute(in)
	assert.True(t, s.Signals[SignalMultipleFiles])

	in2 := Input{Task: &runctx.Task{ActionType: tool.ActionRead, Description: "update a.go and b.go together"}}
	s2 := Compute(in2)
	assert.False(t, s2.Signals[SignalMultipleFiles])
}

func TestCompute_RepeatedFailureNeedsThreeRetriesAndTwoIdenticalErrors(t *testing.T) {
	in := Input{
		Task:        &runctx.Task{ActionType: tool.ActionEdit, Description: "x"},
		RetryCount:  3,
		PriorErrors: []string{"boom", "other", "boom"},
	}
	s := Compute(in)
	assert.True(t, s.Signals[SignalRepeatedFailure])
}

func TestCompute_NoToolCallsOnRetryWithEmptyEvents(t *testing.T) {
	in := Input{
		Task:       &runctx.Task{ActionType: tool.ActionEdit},
		RetryCount: 1,
	}
	s := Compute(in)
	assert.True(t, s.Signals[SignalNoToolCalls])
}

func TestCompute_VerificationInconclusive(t *testing.T) {
	in := Input{
		Task:               &runctx.Task{ActionType: tool.ActionEdit},
		VerificationResult: verify.Result{Inconclusive: true},
	}
	s := Compute(in)
	assert.True(t, s.Signals[SignalVerificationInconclusive])
}

func TestCompute_MissingFilesSignal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exists.go"), []byte("package x"), 0o644))
	in := Input{
		Task:          &runctx.Task{ActionType: tool.ActionEdit, Description: "edit exists.go and missing.go"},
		WorkspaceRoot: dir,
	}
	s := Compute(in)
	assert.True(t, s.Signals[SignalMissingFiles])
}

func TestCompute_TimeoutUnclearOnlyWithoutHint(t *testing.T) {
	in := Input{Task: &runctx.Task{ActionType: tool.ActionRun}, TimedOut: true}
	s := Compute(in)
	assert.True(t, s.Signals[SignalTimeoutUnclear])

	in2 := Input{Task: &runctx.Task{ActionType: tool.ActionRun}, TimedOut: true, TimeoutHint: "likely a slow network call"}
	s2 := Compute(in2)
	assert.False(t, s2.Signals[SignalTimeoutUnclear])
}

func TestCompute_ConflictingSignals(t *testing.T) {
	in := Input{
		Task:               &runctx.Task{ActionType: tool.ActionEdit},
		VerificationResult: verify.Result{Passed: true},
		ValidationRC:       1,
	}
	s := Compute(in)
	assert.True(t, s.Signals[SignalConflictingSignals])
}

func TestCompute_NoProgressWhenAllPriorErrorsIdentical(t *testing.T) {
	in := Input{
		Task:        &runctx.Task{ActionType: tool.ActionEdit},
		PriorErrors: []string{"same error", "same error"},
	}
	s := Compute(in)
	assert.True(t, s.Signals[SignalNoProgress])
}

func TestCompute_ResearchActionsScoreDampened(t *testing.T) {
	in := Input{Task: &runctx.Task{ActionType: tool.ActionRead, Description: "not sure, could try this approach"}}
	s := Compute(in)
	assert.Equal(t, weights[SignalPlannerHesitation]*researchMultiplier, s.Total)
}

func TestScore_ThresholdDecisions(t *testing.T) {
	assert.True(t, Score{Total: 10}.AutoSkip())
	assert.False(t, Score{Total: 9.9}.AutoSkip())
	assert.True(t, Score{Total: 5}.NeedsGuidance())
	assert.False(t, Score{Total: 4.9}.NeedsGuidance())
}
