package recovery

import (
	"testing"

	"github.com/revkit/rev/pkg/config"
	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/tool"
	"github.com/revkit/rev/pkg/verify"
	"github.com/stretchr/testify/assert"
)

func newRC() *runctx.RevContext {
	return runctx.New("req", config.ResourceBudget{}, runctx.NewExecutionPlan(nil))
}

func TestClassifyError_Http404WithRouteIsSyntaxError(t *testing.T) {
	vr := verify.Result{Message: "404 on route /users/:id"}
	assert.Equal(t, SyntaxError, ClassifyError(vr))
}

func TestClassifyError_Http404WithEndpointIsSyntaxError(t *testing.T) {
	vr := verify.Result{Details: "received 404 calling endpoint /health"}
	assert.Equal(t, SyntaxError, ClassifyError(vr))
}

func TestClassifyError_PlainNotFoundWithout404RouteHint(t *testing.T) {
	vr := verify.Result{Message: "file not found: config.yaml"}
	assert.Equal(t, NotFound, ClassifyError(vr))
}

func TestClassifyError_PermissionDenied(t *testing.T) {
	vr := verify.Result{Message: "permission denied writing to /etc/hosts"}
	assert.Equal(t, PermissionDenied, ClassifyError(vr))
}

func TestClassifyError_TimeoutOverNetworkPrecedence(t *testing.T) {
	vr := verify.Result{Message: "request timed out while connecting"}
	assert.Equal(t, Timeout, ClassifyError(vr))
}

func TestClassifyError_FallsBackToDetailsWhenMessageUnclassified(t *testing.T) {
	vr := verify.Result{Message: "task did not complete", Details: "connection refused by remote host"}
	assert.Equal(t, Network, ClassifyError(vr))
}

func TestClassifyError_UnknownWhenNoKeywordMatches(t *testing.T) {
	vr := verify.Result{Message: "something odd happened", Details: "no clue"}
	assert.Equal(t, Unknown, ClassifyError(vr))
}

func TestRecoveryBudget_PermissionDeniedTripsAfterOneFailure(t *testing.T) {
	m := New()
	rc := newRC()
	b := m.IncrementRecoveryBudget(rc, "task-1", PermissionDenied)
	assert.True(t, b.Exhausted())
}

func TestRecoveryBudget_TransientTripsAtEighth(t *testing.T) {
	m := New()
	rc := newRC()
	var b Budget
	for i := 0; i < 7; i++ {
		b = m.IncrementRecoveryBudget(rc, "task-1", Transient)
		assert.False(t, b.Exhausted(), "should not trip before the 8th failure")
	}
	b = m.IncrementRecoveryBudget(rc, "task-1", Transient)
	assert.True(t, b.Exhausted())
}

func TestRecoveryBudget_DistinctKeysAreIndependent(t *testing.T) {
	m := New()
	rc := newRC()
	m.IncrementRecoveryBudget(rc, "task-1", PermissionDenied)
	b := m.GetRecoveryBudget(rc, "task-2", PermissionDenied)
	assert.Equal(t, 0, b.Used)
	assert.False(t, b.Exhausted())
}

func TestBuildFailureSummary_TruncatesLongFields(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	tsk := &runctx.Task{Description: string(long), ActionType: tool.ActionEdit}
	vr := verify.Result{Message: string(long)}
	summary := BuildFailureSummary(tsk, vr, "sig", 3)
	assert.Contains(t, summary, "Task: "+string(long[:200])+"...")
	assert.Contains(t, summary, "Message: "+string(long[:200])+"...")
	assert.Contains(t, summary, "Attempts: 3")
}

func TestBuildFailureSummary_ShortFieldsUntouched(t *testing.T) {
	tsk := &runctx.Task{Description: "short task", ActionType: tool.ActionRead}
	vr := verify.Result{Message: "ok"}
	summary := BuildFailureSummary(tsk, vr, "sig-1", 1)
	assert.Contains(t, summary, "Task: short task\n")
	assert.Contains(t, summary, "Signature: sig-1\n")
}
