package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverCall_RejectsOutOfScopeTool(t *testing.T) {
	text := `I'll read that file now. {"tool_name":"read_file","arguments":{"path":"x"}}`
	_, ok := RecoverCall(text, PolicyScope{AllowedTools: []string{"write_file"}})
	assert.False(t, ok, "a recovered read_file call for a write-only scope must not execute")
}

func TestRecoverCall_AllowsInScopeTool(t *testing.T) {
	text := "```json\n{\"tool_name\": \"write_file\", \"arguments\": {\"path\": \"a.go\", \"content\": \"x\"}}\n```"
	call, ok := RecoverCall(text, PolicyScope{AllowedTools: []string{"write_file"}})
	require.True(t, ok)
	assert.Equal(t, "write_file", call.Name)
	assert.Equal(t, "a.go", call.Arguments["path"])
}

func TestRecoverPatchCall_ReviewNeverProducesApplyPatch(t *testing.T) {
	text := "```diff\n--- a/f.go\n+++ b/f.go\n@@\n-old\n+new\n```"
	_, ok := RecoverPatchCall(text, PolicyScope{ActionType: "review", AllowedTools: []string{"apply_patch"}})
	assert.False(t, ok)
}

func TestRecoverPatchCall_EditProducesApplyPatch(t *testing.T) {
	text := "```diff\n--- a/f.go\n+++ b/f.go\n@@\n-old\n+new\n```"
	call, ok := RecoverPatchCall(text, PolicyScope{ActionType: ActionEdit, AllowedTools: []string{"apply_patch"}})
	require.True(t, ok)
	assert.Equal(t, "apply_patch", call.Name)
	assert.Equal(t, false, call.Arguments["dry_run"])
}

func TestRecoverPatchCall_ReadNeverProducesApplyPatch(t *testing.T) {
	text := "```diff\n--- a/f.go\n+++ b/f.go\n-old\n+new\n```"
	_, ok := RecoverPatchCall(text, PolicyScope{ActionType: ActionRead, AllowedTools: []string{"apply_patch"}})
	assert.False(t, ok)
}
