// Package runctx defines the per-run data model: the Task
// and ExecutionPlan entities, the RevContext that owns them for the
// lifetime of one run, and the reserved agent_state keys the
// Verification Coordinator and Recovery Manager read and write. It is a
// single run's owned, non-thread-safe context, not a persisted
// multi-session event log.
package runctx

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/revkit/rev/pkg/config"
	"github.com/revkit/rev/pkg/tool"
)

// Phase is RevContext's current_phase enum.
type Phase string

const (
	PhaseLearning   Phase = "Learning"
	PhaseResearch   Phase = "Research"
	PhasePlanning   Phase = "Planning"
	PhaseReview     Phase = "Review"
	PhaseExecution  Phase = "Execution"
	PhaseValidation Phase = "Validation"
	PhaseComplete   Phase = "Complete"
	PhaseFailed     Phase = "Failed"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusStopped    Status = "Stopped"
)

// ToolEvent is one append-only entry in a Task's tool_events list.
type ToolEvent struct {
	Tool      string
	ArgsDigest string
}

// Task is a unit of work proposed by the planner or decomposed from user
// intent.
type Task struct {
	TaskID       string
	Description  string
	ActionType   tool.Action
	Status       Status
	Error        string
	Dependencies []string
	ToolEvents   []ToolEvent
}

// RecordToolEvent appends a tool_events entry; the core never removes or
// reorders entries once appended.
func (t *Task) RecordToolEvent(toolName, argsDigest string) {
	t.ToolEvents = append(t.ToolEvents, ToolEvent{Tool: toolName, ArgsDigest: argsDigest})
}

// HasWriteToolEvent reports whether any recorded tool event used a
// write-capable tool, the fact the Completed-status invariant depends on.
func (t *Task) HasWriteToolEvent() bool {
	for _, e := range t.ToolEvents {
		if tool.IsWriteTool(e.Tool) {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status is one the orchestrator treats as
// final for this task (Completed, Failed, or Stopped).
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// ExecutionPlan is an ordered sequence of Tasks with a current_index
//. Monotonic progression: once current_index advances past
// a task it is not revisited except by explicit replan.
type ExecutionPlan struct {
	Tasks        []*Task
	CurrentIndex int
}

// NewExecutionPlan creates a plan over the given tasks, starting at
// index 0.
func NewExecutionPlan(tasks []*Task) *ExecutionPlan {
	return &ExecutionPlan{Tasks: tasks}
}

// Current returns the task at current_index, or nil if the plan is
// empty or already past its last task.
func (p *ExecutionPlan) Current() *Task {
	if p.CurrentIndex < 0 || p.CurrentIndex >= len(p.Tasks) {
		return nil
	}
	return p.Tasks[p.CurrentIndex]
}

// Advance moves current_index forward by one. Explicit replans should
// mutate Tasks/CurrentIndex directly rather than calling Advance, which
// only ever moves forward.
func (p *ExecutionPlan) Advance() {
	p.CurrentIndex++
}

// IsComplete reports whether every task in the plan is terminal.
func (p *ExecutionPlan) IsComplete() bool {
	for _, t := range p.Tasks {
		if !t.IsTerminal() {
			return false
		}
	}
	return true
}

// ReadyTasks returns every Pending task whose Dependencies are all
// Completed, the selection the concurrent execution worker pool dispatches
// from each round instead of walking CurrentIndex.
func (p *ExecutionPlan) ReadyTasks() []*Task {
	completed := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.Status == StatusCompleted {
			completed[t.TaskID] = true
		}
	}
	var ready []*Task
	for _, t := range p.Tasks {
		if t.Status != StatusPending {
			continue
		}
		satisfied := true
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}
	return ready
}

// Reserved agent_state keys.
const (
	StateKeyRecoveryBudgets        = "recovery_budgets"
	StateKeySeenTestSignatures     = "seen_test_signatures"
	StateKeyBlockedTestSignatures  = "blocked_test_signatures"
	StateKeyLastCodeChangeIteration = "last_code_change_iteration"
	StateKeyCurrentIteration       = "current_iteration"
)

// RevContext is the per-run state the orchestrator and its collaborators
// share. In concurrent execution mode each worker mutates only its own
// task through the coordinating methods below, which serialize plan
// updates via planMu; the shared error log, insights map, and
// current-iteration counter are serialized separately via stateMu so
// concurrent workers can safely call AddError/AddInsight/AdvanceIteration.
type RevContext struct {
	RunID          string
	UserRequest    string
	Plan           *ExecutionPlan
	ResourceBudget config.ResourceBudget
	CurrentPhase   Phase

	AgentInsights map[string]map[string]any
	AgentRequests []string
	Errors        []string
	AgentState    map[string]any

	planMu  sync.Mutex
	stateMu sync.Mutex
}

// New creates a RevContext for a fresh run, generating a run_id and
// seeding the reserved agent_state keys.
func New(userRequest string, budget config.ResourceBudget, plan *ExecutionPlan) *RevContext {
	return &RevContext{
		RunID:          uuid.NewString(),
		UserRequest:    userRequest,
		Plan:           plan,
		ResourceBudget: budget,
		CurrentPhase:   PhasePlanning,
		AgentInsights:  make(map[string]map[string]any),
		AgentState: map[string]any{
			StateKeyRecoveryBudgets:         map[string]any{},
			StateKeySeenTestSignatures:      map[string]any{},
			StateKeyBlockedTestSignatures:   map[string]any{},
			StateKeyLastCodeChangeIteration: 0,
			StateKeyCurrentIteration:        0,
		},
	}
}

// AddInsight records agent_name -> key -> value.
func (c *RevContext) AddInsight(agentName, key string, value any) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.AgentInsights[agentName] == nil {
		c.AgentInsights[agentName] = make(map[string]any)
	}
	c.AgentInsights[agentName][key] = value
}

// AddError appends a diagnostic to the ordered error log.
func (c *RevContext) AddError(msg string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.Errors = append(c.Errors, msg)
}

// ErrorsSnapshot returns a copy of the error log as of the call, safe to
// read while another goroutine may be calling AddError concurrently.
func (c *RevContext) ErrorsSnapshot() []string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make([]string, len(c.Errors))
	copy(out, c.Errors)
	return out
}

// CurrentIteration reads agent_state["current_iteration"].
func (c *RevContext) CurrentIteration() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	v, _ := c.AgentState[StateKeyCurrentIteration].(int)
	return v
}

// AdvanceIteration increments agent_state["current_iteration"].
func (c *RevContext) AdvanceIteration() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	v, _ := c.AgentState[StateKeyCurrentIteration].(int)
	c.AgentState[StateKeyCurrentIteration] = v + 1
}

// MarkTaskInProgress, MarkTaskCompleted, and MarkTaskFailed are the
// coordinating API for concurrent execution mode: each worker mutates
// only its own task through these methods, which
// serialize updates to the plan via planMu so concurrent workers never
// race on CurrentIndex bookkeeping or shared plan state.
func (c *RevContext) MarkTaskInProgress(taskID string) error {
	c.planMu.Lock()
	defer c.planMu.Unlock()
	t, err := c.findTask(taskID)
	if err != nil {
		return err
	}
	t.Status = StatusInProgress
	return nil
}

// MarkTaskCompleted marks the task Completed, enforcing the
// write-action/write-tool invariant: Completed requires at least one
// write-capable tool event when action_type is a write action.
func (c *RevContext) MarkTaskCompleted(taskID string) error {
	c.planMu.Lock()
	defer c.planMu.Unlock()
	t, err := c.findTask(taskID)
	if err != nil {
		return err
	}
	if tool.IsWriteAction(t.ActionType) && !t.HasWriteToolEvent() {
		t.Status = StatusFailed
		t.Error = "write action completed without write tool"
		return fmt.Errorf("task %s: write action completed without write tool", taskID)
	}
	t.Status = StatusCompleted
	return nil
}

// MarkTaskFailed marks the task Failed with the given error message.
func (c *RevContext) MarkTaskFailed(taskID, errMsg string) error {
	c.planMu.Lock()
	defer c.planMu.Unlock()
	t, err := c.findTask(taskID)
	if err != nil {
		return err
	}
	t.Status = StatusFailed
	t.Error = errMsg
	return nil
}

// MarkTaskStopped marks the task Stopped with the given reason, used by
// the read-only-system short circuit and SIGINT handling.
func (c *RevContext) MarkTaskStopped(taskID, reason string) error {
	c.planMu.Lock()
	defer c.planMu.Unlock()
	t, err := c.findTask(taskID)
	if err != nil {
		return err
	}
	t.Status = StatusStopped
	t.Error = reason
	return nil
}

func (c *RevContext) findTask(taskID string) (*Task, error) {
	if c.Plan == nil {
		return nil, fmt.Errorf("no plan loaded")
	}
	for _, t := range c.Plan.Tasks {
		if t.TaskID == taskID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("task %s not found in plan", taskID)
}

// StartClock seeds ResourceBudget.StartedAt, called once at run start so
// the max_seconds ceiling measures wall-clock run duration.
func (c *RevContext) StartClock() {
	c.ResourceBudget.StartedAt = time.Now()
}
