package orchestrator

import (
	"testing"

	"github.com/revkit/rev/pkg/tool"
	"github.com/stretchr/testify/assert"
)

func TestIsScaryOperation_DeleteActionAlwaysScary(t *testing.T) {
	scary, reason := IsScaryOperation(tool.ActionDelete, "delete_file", nil)
	assert.True(t, scary)
	assert.Contains(t, reason, "delete")
}

func TestIsScaryOperation_RunCmdDestructiveKeyword(t *testing.T) {
	scary, reason := IsScaryOperation(tool.ActionExecute, "run_cmd", map[string]any{"cmd": "rm -rf build/"})
	assert.True(t, scary)
	assert.Contains(t, reason, "destructive keyword")
}

func TestIsScaryOperation_RunCmdBenignCommandNotScary(t *testing.T) {
	scary, _ := IsScaryOperation(tool.ActionExecute, "run_cmd", map[string]any{"cmd": "go test ./..."})
	assert.False(t, scary)
}

func TestIsScaryOperation_RunCmdDoesNotMatchSubstringInsideWord(t *testing.T) {
	scary, _ := IsScaryOperation(tool.ActionExecute, "run_cmd", map[string]any{"cmd": "go vet ./form/..."})
	assert.False(t, scary)
}

func TestIsScaryOperation_GitForcePush(t *testing.T) {
	scary, reason := IsScaryOperation(tool.ActionExecute, "run_cmd", map[string]any{"cmd": "git push --force origin main"})
	assert.True(t, scary)
	assert.Contains(t, reason, "destructive git operation")
}

func TestIsScaryOperation_ApplyPatchDryRunFalse(t *testing.T) {
	scary, reason := IsScaryOperation(tool.ActionEdit, "apply_patch", map[string]any{"dry_run": false})
	assert.True(t, scary)
	assert.Contains(t, reason, "dry_run=false")
}

func TestIsScaryOperation_ApplyPatchDryRunTrueNotScary(t *testing.T) {
	scary, _ := IsScaryOperation(tool.ActionEdit, "apply_patch", map[string]any{"dry_run": true})
	assert.False(t, scary)
}

func TestIsScaryOperation_ReadToolNeverScary(t *testing.T) {
	scary, _ := IsScaryOperation(tool.ActionRead, "read_file", map[string]any{"path": "main.go"})
	assert.False(t, scary)
}

func TestConfirmationKey_DistinguishesToolAndReason(t *testing.T) {
	a := ConfirmationKey("run_cmd", "command contains destructive keyword: rm")
	b := ConfirmationKey("run_cmd", "command contains destructive keyword: drop")
	c := ConfirmationKey("delete_file", "command contains destructive keyword: rm")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, ConfirmationKey("run_cmd", "command contains destructive keyword: rm"))
}
