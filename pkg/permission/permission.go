// Package permission enforces the PermissionPolicy against tool-call
// attempts: allow/deny list matching with glob support,
// dangerous-argument substring matching, per-session call budgets, and an
// in-memory denial log. Checking and recording are split into separate
// steps (verify without mutating, then record actual usage), the same
// pattern a request-rate limiter uses for token/request windows, adapted
// here to a per-(agent,tool) session call counter.
package permission

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/revkit/rev/pkg/config"
)

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	Reason  string
	Risk    config.RiskLevel
	// RequiresConfirmation is set when the policy marks this tool (or this
	// call's risk tier) as requiring interactive confirmation before
	// execution, independent of whether it is Allowed.
	RequiresConfirmation bool
}

// Denial is one recorded refusal, kept for the in-memory denial log.
type Denial struct {
	Time      time.Time `json:"time"`
	AgentName string    `json:"agent_name"`
	ToolName  string    `json:"tool_name"`
	Reason    string    `json:"reason"`
}

// Manager is the Permission Manager. It satisfies pkg/tool.Checker.
type Manager struct {
	mu     sync.Mutex
	policy *config.PermissionPolicy

	// calls counts calls per "agent\x00tool" for the current session.
	calls map[string]int

	denials []Denial
}

// New creates a Manager. A nil policy fails open: every Check is allowed,
// matching the permissive default a missing policy file produces; callers
// that failed to *load* an existing policy file should surface that as an
// error before ever reaching New, since that case fails closed instead.
func New(policy *config.PermissionPolicy) *Manager {
	return &Manager{
		policy: policy,
		calls:  make(map[string]int),
	}
}

// SetPolicy atomically swaps the active policy, used by the config
// loader's hot-reload callback.
func (m *Manager) SetPolicy(policy *config.PermissionPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
}

// Check verifies whether agentName may invoke toolName with args, without
// mutating call counts — use Record after a successful dispatch decision.
// Satisfies the tool.Checker interface (tool.Checker.Check has the
// same signature but returns only error; Check wraps this via Err()).
func (m *Manager) Check(agentName, toolName string, args map[string]any) error {
	d := m.Decide(agentName, toolName, args)
	if !d.Allowed {
		m.mu.Lock()
		m.denials = append(m.denials, Denial{
			Time:      time.Now(),
			AgentName: agentName,
			ToolName:  toolName,
			Reason:    d.Reason,
		})
		m.mu.Unlock()
		return fmt.Errorf("permission denied: %s", d.Reason)
	}
	m.mu.Lock()
	key := sessionKey(agentName, toolName)
	m.calls[key]++
	m.mu.Unlock()
	return nil
}

// Decide computes the allow/deny decision without recording it, useful for
// UIs that want to preview a decision (e.g. to ask for confirmation)
// before committing a call.
func (m *Manager) Decide(agentName, toolName string, args map[string]any) Decision {
	m.mu.Lock()
	policy := m.policy
	m.mu.Unlock()

	if policy == nil {
		slog.Warn("no permission policy loaded, allowing tool call by default", "agent", agentName, "tool", toolName)
		return Decision{Allowed: true, Reason: "no permission policy loaded, allowing by default"}
	}

	risk := policy.ToolRiskLevels[toolName]
	requiresConfirmation := containsString(policy.ConfirmationRequired, toolName)

	role, hasRole := policy.Agents[agentName]
	if hasRole {
		if matchesAny(role.DeniedTools, toolName) {
			return Decision{Allowed: false, Reason: fmt.Sprintf("tool %q is denied for agent %q", toolName, agentName), Risk: risk, RequiresConfirmation: requiresConfirmation}
		}
		if len(role.AllowedTools) > 0 && !matchesAny(role.AllowedTools, toolName) {
			return Decision{Allowed: false, Reason: fmt.Sprintf("tool %q is not in agent %q's allowed_tools", toolName, agentName), Risk: risk, RequiresConfirmation: requiresConfirmation}
		}
		if role.MaxCallsPerSession > 0 {
			m.mu.Lock()
			used := m.calls[sessionKey(agentName, toolName)]
			m.mu.Unlock()
			if used >= role.MaxCallsPerSession {
				return Decision{Allowed: false, Reason: fmt.Sprintf("agent %q exceeded max_calls_per_session (%d) for tool %q", agentName, role.MaxCallsPerSession, toolName), Risk: risk, RequiresConfirmation: requiresConfirmation}
			}
		}
	} else if policy.DefaultPolicy != config.DefaultAllow {
		return Decision{Allowed: false, Reason: fmt.Sprintf("agent %q has no role and default_policy is %q", agentName, policy.DefaultPolicy), Risk: risk, RequiresConfirmation: requiresConfirmation}
	}

	if reason, blocked := matchesDangerousArgs(toolName, args, dangerousArgPatterns); blocked {
		return Decision{Allowed: false, Reason: reason, Risk: risk, RequiresConfirmation: requiresConfirmation}
	}

	return Decision{Allowed: true, Risk: risk, RequiresConfirmation: requiresConfirmation}
}

// Denials returns a snapshot of every recorded denial.
func (m *Manager) Denials() []Denial {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Denial, len(m.denials))
	copy(out, m.denials)
	return out
}

// ExportDenials renders the denial log as indented JSON.
func (m *Manager) ExportDenials() ([]byte, error) {
	return json.MarshalIndent(m.Denials(), "", "  ")
}

func sessionKey(agentName, toolName string) string {
	return agentName + "\x00" + toolName
}

// matchesAny reports whether name matches any pattern in patterns, where a
// pattern of exactly "*" matches everything and any other pattern is
// matched via path.Match (supporting globs like "analyze_*").
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// dangerousArgPatterns maps a tool name to substrings (case-insensitive)
// that, if found in any string-valued argument, block the call outright
// regardless of allow-list membership.
var dangerousArgPatterns = map[string][]string{
	"run_cmd": {
		"rm -rf /", ":(){ :|:& };:", "mkfs", "dd if=", "> /dev/sda",
	},
}

func matchesDangerousArgs(toolName string, args map[string]any, table map[string][]string) (string, bool) {
	patterns, ok := table[toolName]
	if !ok {
		return "", false
	}
	for key, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		for _, pat := range patterns {
			if strings.Contains(lower, strings.ToLower(pat)) {
				return fmt.Sprintf("argument %q to tool %q matches a denied dangerous pattern %q", key, toolName, pat), true
			}
		}
	}
	return "", false
}
