package debuglog

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestNew_CreatesLogFileUnderDir(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 5)
	require.NoError(t, err)
	defer l.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLog_WritesStructuredJSONLine(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 5)
	require.NoError(t, err)
	defer l.Close()

	l.Log("orchestrator", "iteration_start", map[string]any{"n": 1}, LevelInfo)
	l.file.Sync()

	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, countLines(t, filepath.Join(dir, entries[0].Name())))
}

func TestSetTrace_MergedIntoSubsequentEvents(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 5)
	require.NoError(t, err)
	defer l.Close()

	l.SetTrace("run_id", "abc123")
	l.Log("task", "started", nil, LevelDebug)
	l.file.Sync()

	entries, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "abc123")
}

func TestPruneLogDir_KeepsOnlyNNewest(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, strconvItoa(i)+".jsonl"), []byte("{}"), 0o644))
	}
	pruneLogDir(dir, 2)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func strconvItoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	s := ""
	for i > 0 {
		s = string(digits[i%10]) + s
		i /= 10
	}
	return s
}

func TestEnableTranscript_RotatesExistingFileToLast(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 5)
	require.NoError(t, err)
	defer l.Close()

	transcriptPath := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, os.WriteFile(transcriptPath, []byte("old session"), 0o644))

	require.NoError(t, l.EnableTranscript(transcriptPath))

	oldData, err := os.ReadFile(transcriptPath + ".last")
	require.NoError(t, err)
	assert.Equal(t, "old session", string(oldData))
}

func TestWriteTranscript_NoOpWithoutEnable(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 5)
	require.NoError(t, err)
	defer l.Close()

	err = l.WriteTranscript(TranscriptEntry{Time: "now"})
	assert.NoError(t, err)
}

func TestWriteTranscript_AppendsEntryAfterEnable(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 5)
	require.NoError(t, err)
	defer l.Close()

	path := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, l.EnableTranscript(path))
	require.NoError(t, l.WriteTranscript(TranscriptEntry{Time: "t1", Response: "hello"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestFilterEnv_RedactsSecretLookingKeys(t *testing.T) {
	in := map[string]string{
		"OPENAI_API_KEY": "sk-abc",
		"HOME":           "/root",
		"DB_PASSWORD":    "hunter2",
	}
	out := FilterEnv(in)
	assert.Equal(t, "[REDACTED]", out["OPENAI_API_KEY"])
	assert.Equal(t, "[REDACTED]", out["DB_PASSWORD"])
	assert.Equal(t, "/root", out["HOME"])
}
