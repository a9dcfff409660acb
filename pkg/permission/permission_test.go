package permission

import (
	"testing"

	"github.com/revkit/rev/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePolicy() *config.PermissionPolicy {
	return &config.PermissionPolicy{
		DefaultPolicy: config.DefaultDeny,
		Agents: map[string]config.AgentRole{
			"coder": {
				AllowedTools:       []string{"write_file", "read_file", "analyze_*"},
				MaxCallsPerSession: 2,
			},
			"reviewer": {
				AllowedTools: []string{"*"},
				DeniedTools:  []string{"write_file", "delete_file"},
			},
		},
		ToolRiskLevels: map[string]config.RiskLevel{
			"delete_file": config.RiskHigh,
			"run_cmd":     config.RiskCritical,
		},
		ConfirmationRequired: []string{"delete_file", "run_cmd"},
	}
}

func TestManager_NilPolicyFailsOpen(t *testing.T) {
	m := New(nil)
	err := m.Check("coder", "read_file", nil)
	assert.NoError(t, err)
}

func TestManager_LoadErrorFailsClosed(t *testing.T) {
	_, err := config.LoadPermissionPolicy("/nonexistent/path/policy.yaml")
	require.Error(t, err)
}

func TestManager_AllowsListedTool(t *testing.T) {
	m := New(samplePolicy())
	assert.NoError(t, m.Check("coder", "write_file", nil))
}

func TestManager_DeniesUnlistedTool(t *testing.T) {
	m := New(samplePolicy())
	err := m.Check("coder", "run_cmd", nil)
	assert.Error(t, err)
}

func TestManager_GlobMatchAllowsPattern(t *testing.T) {
	m := New(samplePolicy())
	assert.NoError(t, m.Check("coder", "analyze_code", nil))
}

func TestManager_ExplicitDenyOverridesWildcardAllow(t *testing.T) {
	m := New(samplePolicy())
	err := m.Check("reviewer", "write_file", nil)
	assert.Error(t, err)
	assert.NoError(t, m.Check("reviewer", "read_file", nil))
}

func TestManager_UnknownAgentDeniedByDefaultDenyPolicy(t *testing.T) {
	m := New(samplePolicy())
	err := m.Check("ghost-agent", "read_file", nil)
	assert.Error(t, err)
}

func TestManager_MaxCallsPerSessionEnforced(t *testing.T) {
	m := New(samplePolicy())
	require.NoError(t, m.Check("coder", "write_file", nil))
	require.NoError(t, m.Check("coder", "write_file", nil))
	err := m.Check("coder", "write_file", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded max_calls_per_session")
}

func TestManager_DangerousArgBlocksRegardlessOfAllowList(t *testing.T) {
	policy := samplePolicy()
	policy.Agents["reviewer"].AllowedTools[0] = "*"
	m := New(policy)
	err := m.Check("reviewer", "run_cmd", map[string]any{"command": "sudo rm -rf / --no-preserve-root"})
	require.Error(t, err)
}

func TestManager_DecisionReportsRiskAndConfirmation(t *testing.T) {
	m := New(samplePolicy())
	d := m.Decide("reviewer", "delete_file", nil)
	assert.True(t, d.RequiresConfirmation)
	assert.Equal(t, config.RiskHigh, d.Risk)
}

func TestManager_DeniedCallIsLogged(t *testing.T) {
	m := New(samplePolicy())
	_ = m.Check("ghost-agent", "read_file", nil)
	denials := m.Denials()
	require.Len(t, denials, 1)
	assert.Equal(t, "ghost-agent", denials[0].AgentName)

	out, err := m.ExportDenials()
	require.NoError(t, err)
	assert.Contains(t, string(out), "ghost-agent")
}

func TestManager_SetPolicyHotSwaps(t *testing.T) {
	m := New(samplePolicy())
	require.Error(t, m.Check("coder", "run_cmd", nil))

	replaced := samplePolicy()
	replaced.DefaultPolicy = config.DefaultAllow
	replaced.Agents["coder"] = config.AgentRole{AllowedTools: []string{"*"}}
	m.SetPolicy(replaced)

	assert.NoError(t, m.Check("coder", "run_cmd", nil))
}
