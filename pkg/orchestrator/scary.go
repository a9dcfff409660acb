// Package orchestrator implements the central loop: the
// state machine driving Task selection, Task Runner dispatch, the
// write-constraint check, Verification Coordinator, Recovery Manager,
// and Uncertainty Detector each iteration, plus thought-loop detection,
// context-window trimming, and "scary operation" confirmation.
package orchestrator

import (
	"strings"

	"github.com/revkit/rev/pkg/tool"
)

// destructiveRunCmdKeywords is the run_cmd keyword list the "scary
// operation" rules check. Each is matched as a literal substring,
// case-insensitively; "rm " carries a trailing space deliberately so it
// does not match inside unrelated words like "form".
var destructiveRunCmdKeywords = []string{
	"delete", "remove", "rm ", "clean", "reset", "force", "destroy", "drop", "truncate",
}

var destructiveGitCommands = []string{
	"reset --hard", "clean -f", "clean -fd", "push --force", "push -f",
}

// IsScaryOperation reports whether a proposed tool call is a "scary
// operation": a delete action, a run_cmd whose command contains a
// destructive keyword or git subcommand, or an apply_patch with
// dry_run=false. Returns a human-readable reason alongside true.
func IsScaryOperation(actionType tool.Action, toolName string, args map[string]any) (bool, string) {
	if actionType == tool.ActionDelete {
		return true, "action type is delete"
	}

	if toolName == "run_cmd" {
		cmd, _ := args["cmd"].(string)
		lower := strings.ToLower(cmd)
		for _, kw := range destructiveRunCmdKeywords {
			if strings.Contains(lower, kw) {
				return true, "command contains destructive keyword: " + strings.TrimSpace(kw)
			}
		}
		for _, g := range destructiveGitCommands {
			if strings.Contains(lower, g) {
				return true, "command runs a destructive git operation: " + g
			}
		}
	}

	if toolName == "apply_patch" {
		if dryRun, ok := args["dry_run"].(bool); ok && !dryRun {
			return true, "apply_patch with dry_run=false"
		}
	}

	return false, ""
}

// ConfirmationKey is the memoization key for a confirmed/denied scary
// operation decision.
func ConfirmationKey(toolName, reason string) string {
	return toolName + "\x00" + reason
}
