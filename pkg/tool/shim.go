package tool

import (
	"encoding/json"
	"regexp"
	"strings"
)

// PolicyScope controls which tools the text-tool shim is allowed to
// recover a call for: one small-step parser plus an explicit allowlist
// every caller must supply, rather than scattering ad-hoc regex
// extraction across every call site.
type PolicyScope struct {
	AllowedTools []string
	ActionType   Action
}

func (p PolicyScope) allows(name string) bool {
	for _, t := range p.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{[^{}]*"tool_name"\s*:\s*"[^"]+"[^{}]*\}`)

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseToolCallFromText scans raw LLM text for a `{"tool_name": ..., "arguments": ...}`
// object, fenced or inline, and returns a typed Call. It does not check
// policy; callers must gate the result through PolicyScope before executing
// it.
func ParseToolCallFromText(text string) (Call, bool) {
	candidates := make([]string, 0, 2)
	if m := fencedBlockPattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := jsonObjectPattern.FindString(text); m != "" {
		candidates = append(candidates, m)
	}

	for _, c := range candidates {
		var parsed struct {
			ToolName  string         `json:"tool_name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(c), &parsed); err != nil || parsed.ToolName == "" {
			continue
		}
		return Call{Name: parsed.ToolName, Arguments: parsed.Arguments}, true
	}
	return Call{}, false
}

// RecoverCall parses text for a tool call and returns it only if its name
// is within scope's AllowedTools; a recovered call for a tool outside the
// caller-supplied allowlist is rejected.
func RecoverCall(text string, scope PolicyScope) (Call, bool) {
	call, ok := ParseToolCallFromText(text)
	if !ok {
		return Call{}, false
	}
	if !scope.allows(call.Name) {
		return Call{}, false
	}
	return call, true
}

var unifiedDiffFence = regexp.MustCompile("(?s)```(?:diff|patch)?\\s*((?:---|\\*\\*\\* Begin Patch).*?)\\s*```")

// RecoverPatchCall converts a unified-diff or `*** Begin Patch` fenced body
// into an apply_patch Call, but only when scope.ActionType is a write
// action — never for review or read.
func RecoverPatchCall(text string, scope PolicyScope) (Call, bool) {
	if scope.ActionType == ActionRead || scope.ActionType == "review" {
		return Call{}, false
	}
	if !IsWriteAction(scope.ActionType) {
		return Call{}, false
	}
	m := unifiedDiffFence.FindStringSubmatch(text)
	if m == nil {
		return Call{}, false
	}
	body := strings.TrimSpace(m[1])
	if body == "" {
		return Call{}, false
	}
	if !scope.allows("apply_patch") {
		return Call{}, false
	}
	return Call{
		Name:      "apply_patch",
		Arguments: map[string]any{"patch": body, "dry_run": false},
	}, true
}
