package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/revkit/rev/pkg/config"
	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() *runctx.ExecutionPlan {
	t1 := &runctx.Task{TaskID: "t1", ActionType: tool.ActionRead, Status: runctx.StatusCompleted}
	t2 := &runctx.Task{TaskID: "t2", ActionType: tool.ActionAdd, Status: runctx.StatusInProgress}
	p := runctx.NewExecutionPlan([]*runctx.Task{t1, t2})
	p.CurrentIndex = 1
	return p
}

func TestSaveAndLoadCheckpoint_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	plan := samplePlan()
	state := map[string]any{"current_iteration": float64(3)}
	path, err := m.SaveCheckpoint(plan, state, "halfway done")
	require.NoError(t, err)

	loadedPlan, loadedState, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Len(t, loadedPlan.Tasks, 2)
	assert.Equal(t, 1, loadedPlan.CurrentIndex)
	assert.Equal(t, float64(3), loadedState["current_iteration"])
}

func TestFindLatestCheckpoint_ReturnsMostRecentlySaved(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	_, err = m.SaveCheckpoint(samplePlan(), nil, "first")
	require.NoError(t, err)
	second, err := m.SaveCheckpoint(samplePlan(), nil, "second")
	require.NoError(t, err)

	latest, ok := m.FindLatestCheckpoint()
	require.True(t, ok)
	assert.Equal(t, second, latest)
}

func TestFindLatestCheckpoint_NoMarkerReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)
	_, ok := m.FindLatestCheckpoint()
	assert.False(t, ok)
}

func TestListCheckpoints_ExcludesLatestMarkerAndSortsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	_, err = m.SaveCheckpoint(samplePlan(), nil, "first")
	require.NoError(t, err)
	_, err = m.SaveCheckpoint(samplePlan(), nil, "second")
	require.NoError(t, err)

	entries, err := m.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEqual(t, "latest.json", e.Filename)
		assert.Equal(t, 2, e.TasksTotal)
	}
}

func TestAtomicity_PriorCheckpointSurvivesSimulatedCrash(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	first, err := m.SaveCheckpoint(samplePlan(), nil, "first")
	require.NoError(t, err)

	// Simulate a crash between tmp-write and rename: leave a stray .tmp
	// file for the second checkpoint without completing its rename.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "would-be-next.json.tmp"), []byte("{incomplete"), 0o644))

	latest, ok := m.FindLatestCheckpoint()
	require.True(t, ok)
	assert.Equal(t, first, latest)
}

func TestApplyResumeMode_ContinueResetsStoppedToPending(t *testing.T) {
	t1 := &runctx.Task{TaskID: "t1", Status: runctx.StatusStopped, Error: "interrupted"}
	plan := runctx.NewExecutionPlan([]*runctx.Task{t1})

	ApplyResumeMode(plan, ResumeContinue)
	assert.Equal(t, runctx.StatusPending, t1.Status)
	assert.Empty(t, t1.Error)
}

func TestApplyResumeMode_LoadOnlyLeavesStoppedUntouched(t *testing.T) {
	t1 := &runctx.Task{TaskID: "t1", Status: runctx.StatusStopped, Error: "interrupted"}
	plan := runctx.NewExecutionPlan([]*runctx.Task{t1})

	ApplyResumeMode(plan, ResumeLoadOnly)
	assert.Equal(t, runctx.StatusStopped, t1.Status)
}

func TestOnInterrupt_MarksInProgressStoppedAndSavesCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	plan := samplePlan()
	rc := runctx.New("do thing", config.ResourceBudget{}, plan)

	hint, err := m.OnInterrupt("rev", rc)
	require.NoError(t, err)
	assert.Equal(t, runctx.StatusStopped, plan.Tasks[1].Status)
	assert.Equal(t, "interrupted", plan.Tasks[1].Error)
	assert.Contains(t, hint, "rev --resume")

	_, ok := m.FindLatestCheckpoint()
	assert.True(t, ok)
}
