package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRunConfig_DecodesYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "run.yaml", `
model: claude-3-5-sonnet
workspace: /tmp/ws
parallel: 4
review: true
`)
	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet", cfg.Model)
	assert.Equal(t, "/tmp/ws", cfg.Workspace)
	assert.Equal(t, 4, cfg.Parallel)
	assert.True(t, cfg.Review)
	// defaults filled in
	assert.Equal(t, ExecutionLinear, cfg.ExecutionMode)
	assert.Equal(t, ToolModeNormal, cfg.ToolMode)
	assert.Equal(t, ReviewModerate, cfg.ReviewStrictness)
	assert.Equal(t, 100000, cfg.MaxTokensPerRun)
}

func TestLoadRunConfig_ExpandsEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("REV_TEST_MODEL", "gpt-4o"))
	defer os.Unsetenv("REV_TEST_MODEL")

	dir := t.TempDir()
	path := writeTemp(t, dir, "run.yaml", `
model: ${REV_TEST_MODEL}
llm_provider: ${REV_TEST_PROVIDER:-openai-compatible}
`)
	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "openai-compatible", cfg.LLMProvider)
}

func TestLoadPermissionPolicy_DecodesAgentRoles(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "policy.yaml", `
default_policy: deny
agents:
  coder:
    allowed_tools:
      - write_file
      - read_file
    denied_tools:
      - run_cmd
    max_calls_per_session: 50
tool_risk_levels:
  delete_file: High
  run_cmd: Critical
confirmation_required:
  - delete_file
  - run_cmd
`)
	policy, err := LoadPermissionPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultDeny, policy.DefaultPolicy)
	require.Contains(t, policy.Agents, "coder")
	assert.Equal(t, []string{"write_file", "read_file"}, policy.Agents["coder"].AllowedTools)
	assert.Equal(t, 50, policy.Agents["coder"].MaxCallsPerSession)
	assert.Equal(t, RiskCritical, policy.ToolRiskLevels["run_cmd"])
	assert.Contains(t, policy.ConfirmationRequired, "delete_file")
}

func TestLoadPermissionPolicy_DefaultsToDenyWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "policy.yaml", `
agents:
  reviewer:
    allowed_tools: ["read_file"]
`)
	policy, err := LoadPermissionPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultDeny, policy.DefaultPolicy)
}

func TestLoader_WatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "policy.yaml", `default_policy: allow`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reloaded := make(chan *PermissionPolicy, 1)
	loader := NewLoader(path)
	go loader.Watch(ctx, func(p *PermissionPolicy) {
		select {
		case reloaded <- p:
		default:
		}
	})

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("default_policy: deny"), 0o644))

	select {
	case p := <-reloaded:
		assert.Equal(t, DefaultDeny, p.DefaultPolicy)
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for watch reload")
	}
}

func TestResourceBudget_Exceeded(t *testing.T) {
	b := ResourceBudget{MaxSteps: 10, UsedSteps: 10}
	assert.True(t, b.Exceeded())

	b2 := ResourceBudget{MaxSteps: 10, UsedSteps: 3}
	assert.False(t, b2.Exceeded())

	b3 := ResourceBudget{MaxTime: 10 * time.Millisecond, StartedAt: time.Now().Add(-20 * time.Millisecond)}
	assert.True(t, b3.Exceeded())
}
