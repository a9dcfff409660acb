// Package recovery implements the Recovery Manager: error
// classification over a verification result, a per-class recovery budget
// with a circuit breaker, and a truncated multi-line failure summary.
// The classifier is an ordered, keyword-driven match feeding a budgeted
// retry loop, the same shape a provider-exception classifier uses, but
// over a verification result instead of an exception, with its own
// disjoint closed set (ToolErrorType) since the two classifiers answer
// different questions.
package recovery

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/revkit/rev/pkg/runctx"
	"github.com/revkit/rev/pkg/verify"
)

// ToolErrorType is the closed set classify_error resolves a verification
// failure into.
type ToolErrorType string

const (
	Transient         ToolErrorType = "TRANSIENT"
	Timeout           ToolErrorType = "TIMEOUT"
	Network           ToolErrorType = "NETWORK"
	NotFound          ToolErrorType = "NOT_FOUND"
	SyntaxError       ToolErrorType = "SYNTAX_ERROR"
	ValidationError   ToolErrorType = "VALIDATION_ERROR"
	PermissionDenied  ToolErrorType = "PERMISSION_DENIED"
	Conflict          ToolErrorType = "CONFLICT"
	Unknown           ToolErrorType = "UNKNOWN"
)

// budgets is the fixed per-class recovery budget table.
var budgets = map[ToolErrorType]int{
	Transient:        8,
	Timeout:          5,
	Network:          5,
	NotFound:         3,
	SyntaxError:      3,
	ValidationError:  3,
	PermissionDenied: 1,
	Conflict:         2,
	Unknown:          5,
}

// classOrder is the ordered keyword table classify_error scans, first
// match wins. The 404+route/endpoint special case is checked ahead of
// this table.
var classOrder = []struct {
	class    ToolErrorType
	keywords []string
}{
	{PermissionDenied, []string{"permission denied", "403", "forbidden", "access denied"}},
	{Conflict, []string{"409", "conflict", "already exists"}},
	{NotFound, []string{"404", "not found", "no such file", "no such directory"}},
	{SyntaxError, []string{"syntax error", "syntaxerror", "parse error", "unexpected token", "invalid syntax"}},
	{ValidationError, []string{"validation", "invalid argument", "schema", "required field"}},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{Network, []string{"connection refused", "network", "dns", "unreachable", "connection reset"}},
	{Transient, []string{"temporarily unavailable", "try again", "503", "rate limit", "too many requests"}},
}

// ClassifyError classifies a verification result's message and details by
// ordered keyword match, message first, then details. The 404-plus-route
// special case is checked first: an HTTP 404 combined with "route" or
// "endpoint" indicates a routing bug, classified SyntaxError rather than
// NotFound.
func ClassifyError(vr verify.Result) ToolErrorType {
	message := strings.ToLower(vr.Message)
	details := strings.ToLower(vr.Details)

	if (strings.Contains(message, "404") || strings.Contains(details, "404")) &&
		(strings.Contains(message, "route") || strings.Contains(details, "route") ||
			strings.Contains(message, "endpoint") || strings.Contains(details, "endpoint")) {
		return SyntaxError
	}

	for _, text := range []string{message, details} {
		for _, entry := range classOrder {
			for _, kw := range entry.keywords {
				if strings.Contains(text, kw) {
					return entry.class
				}
			}
		}
	}
	return Unknown
}

// Budget tracks a single (key, class) pair's consumption against its
// ceiling.
type Budget struct {
	Class     ToolErrorType `json:"class"`
	Used      int           `json:"used"`
	Max       int           `json:"max"`
}

// Exhausted reports whether the budget has reached its ceiling, tripping
// the circuit breaker.
func (b Budget) Exhausted() bool { return b.Used >= b.Max }

// Manager reads and writes agent_state["recovery_budgets"] and exposes
// the circuit-breaker decision plus the failure-summary formatter.
type Manager struct {
	mu sync.Mutex
}

// New creates a recovery Manager.
func New() *Manager { return &Manager{} }

func budgetKey(key string, class ToolErrorType) string {
	return key + "\x00" + string(class)
}

// GetRecoveryBudget reads agent_state["recovery_budgets"][key] for class,
// creating a fresh zero-used budget at the class's ceiling if absent.
func (m *Manager) GetRecoveryBudget(rc *runctx.RevContext, key string, class ToolErrorType) Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := recoveryBudgetsMap(rc)
	if raw, ok := table[budgetKey(key, class)]; ok {
		if b, ok := raw.(Budget); ok {
			return b
		}
	}
	return Budget{Class: class, Used: 0, Max: budgets[class]}
}

// IncrementRecoveryBudget increments the (key, class) budget's used count
// and writes it back, returning the updated budget.
func (m *Manager) IncrementRecoveryBudget(rc *runctx.RevContext, key string, class ToolErrorType) Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := recoveryBudgetsMap(rc)
	b := Budget{Class: class, Used: 0, Max: budgets[class]}
	if raw, ok := table[budgetKey(key, class)]; ok {
		if existing, ok := raw.(Budget); ok {
			b = existing
		}
	}
	b.Used++
	table[budgetKey(key, class)] = b
	rc.AgentState[runctx.StateKeyRecoveryBudgets] = table
	return b
}

func recoveryBudgetsMap(rc *runctx.RevContext) map[string]any {
	if m, ok := rc.AgentState[runctx.StateKeyRecoveryBudgets].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	rc.AgentState[runctx.StateKeyRecoveryBudgets] = m
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BuildFailureSummary produces a multi-line failure summary covering task
// description, action type, error signature and message, each field
// truncated to 200 characters.
func BuildFailureSummary(t *runctx.Task, vr verify.Result, signature string, count int) string {
	const fieldLimit = 200
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", truncate(t.Description, fieldLimit))
	fmt.Fprintf(&sb, "Action: %s\n", truncate(string(t.ActionType), fieldLimit))
	fmt.Fprintf(&sb, "Signature: %s\n", truncate(signature, fieldLimit))
	fmt.Fprintf(&sb, "Message: %s\n", truncate(vr.Message, fieldLimit))
	fmt.Fprintf(&sb, "Attempts: %s\n", strconv.Itoa(count))
	return sb.String()
}
