package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPatch_ContextualReplace(t *testing.T) {
	o := newOracle(t)
	require.NoError(t, os.WriteFile(filepath.Join(o.Root(), "a.go"), []byte("func foo() int {\n\treturn 1\n}\n"), 0o644))

	p := &ApplyPatch{Oracle: o}
	res, err := p.Execute(context.Background(), map[string]any{
		"path":       "a.go",
		"old_string": "return 1",
		"new_string": "return 2",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(o.Root(), "a.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "return 2")
}

func TestApplyPatch_DryRunDoesNotWrite(t *testing.T) {
	o := newOracle(t)
	require.NoError(t, os.WriteFile(filepath.Join(o.Root(), "a.go"), []byte("return 1"), 0o644))

	p := &ApplyPatch{Oracle: o}
	res, err := p.Execute(context.Background(), map[string]any{
		"path": "a.go", "old_string": "return 1", "new_string": "return 2", "dry_run": true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(o.Root(), "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "return 1", string(data))
}

func TestApplyPatch_UnifiedDiffForm(t *testing.T) {
	o := newOracle(t)
	require.NoError(t, os.WriteFile(filepath.Join(o.Root(), "a.go"), []byte("line one\nold line\nline three\n"), 0o644))

	diff := "--- a/a.go\n+++ b/a.go\n@@\n line one\n-old line\n+new line\n line three\n"
	p := &ApplyPatch{Oracle: o}
	res, err := p.Execute(context.Background(), map[string]any{"patch": diff})
	require.NoError(t, err)
	assert.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(o.Root(), "a.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "new line")
}
