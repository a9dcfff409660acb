package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAction_Idempotent(t *testing.T) {
	for _, a := range canonicalActions {
		assert.Equal(t, a, NormalizeAction(string(a)))
	}
}

func TestNormalizeAction_AliasTable(t *testing.T) {
	for alias, want := range aliasTable {
		assert.Equal(t, want, NormalizeAction(alias))
	}
}

func TestNormalizeAction_Typo(t *testing.T) {
	assert.Equal(t, ActionRefactor, NormalizeAction("REFRACTO"))
}

func TestNormalizeAction_UnknownPassesThrough(t *testing.T) {
	assert.Equal(t, Action("zzz_totally_unrelated_token_xyz"), NormalizeAction("zzz_totally_unrelated_token_xyz"))
}

func TestIsWriteAction(t *testing.T) {
	assert.True(t, IsWriteAction(ActionAdd))
	assert.True(t, IsWriteAction(ActionDelete))
	assert.False(t, IsWriteAction(ActionRead))
	assert.False(t, IsWriteAction(ActionTest))
}

func TestHasWriteTool(t *testing.T) {
	assert.True(t, HasWriteTool([]string{"read_file", "write_file"}))
	assert.False(t, HasWriteTool([]string{"read_file", "tree_view"}))
}

func TestAllowedToolsForAction(t *testing.T) {
	assert.Nil(t, AllowedToolsForAction(ActionRead))
	allowed := AllowedToolsForAction(ActionEdit)
	assert.NotEmpty(t, allowed)
	assert.Contains(t, allowed, "apply_patch")
}
