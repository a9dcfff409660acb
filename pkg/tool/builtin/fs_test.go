package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/revkit/rev/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOracle(t *testing.T) *workspace.Oracle {
	t.Helper()
	o, err := workspace.New(t.TempDir(), false)
	require.NoError(t, err)
	return o
}

func TestWriteFile_CreatesAndBacksUp(t *testing.T) {
	o := newOracle(t)
	w := &WriteFile{Oracle: o}

	res, err := w.Execute(context.Background(), map[string]any{"path": "a.txt", "content": "v1"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = w.Execute(context.Background(), map[string]any{"path": "a.txt", "content": "v2"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(o.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	backup, err := os.ReadFile(filepath.Join(o.Root(), "a.txt.bak"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(backup))
}

func TestWriteFile_RejectsEscape(t *testing.T) {
	o := newOracle(t)
	w := &WriteFile{Oracle: o}
	res, err := w.Execute(context.Background(), map[string]any{"path": "../outside.txt", "content": "x"})
	assert.Error(t, err)
	assert.False(t, res.Success)
}

func TestReplaceInFile_RejectsAmbiguousMatch(t *testing.T) {
	o := newOracle(t)
	require.NoError(t, os.WriteFile(filepath.Join(o.Root(), "a.txt"), []byte("foo foo"), 0o644))

	r := &ReplaceInFile{Oracle: o}
	res, err := r.Execute(context.Background(), map[string]any{"path": "a.txt", "old_text": "foo", "new_text": "bar"})
	assert.Error(t, err)
	assert.False(t, res.Success)
}

func TestReplaceInFile_ReplaceAll(t *testing.T) {
	o := newOracle(t)
	require.NoError(t, os.WriteFile(filepath.Join(o.Root(), "a.txt"), []byte("foo foo"), 0o644))

	r := &ReplaceInFile{Oracle: o}
	res, err := r.Execute(context.Background(), map[string]any{"path": "a.txt", "old_text": "foo", "new_text": "bar", "replace_all": true})
	require.NoError(t, err)
	assert.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(o.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bar bar", string(data))
}

func TestDeleteFile(t *testing.T) {
	o := newOracle(t)
	require.NoError(t, os.WriteFile(filepath.Join(o.Root(), "a.txt"), []byte("x"), 0o644))

	d := &DeleteFile{Oracle: o}
	res, err := d.Execute(context.Background(), map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	_, statErr := os.Stat(filepath.Join(o.Root(), "a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTreeView_RespectsDepth(t *testing.T) {
	o := newOracle(t)
	require.NoError(t, os.MkdirAll(filepath.Join(o.Root(), "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(o.Root(), "a", "b", "deep.txt"), []byte("x"), 0o644))

	tv := &TreeView{Oracle: o}
	res, err := tv.Execute(context.Background(), map[string]any{"path": ".", "max_depth": 1})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotContains(t, res.Output, "deep.txt")
}
