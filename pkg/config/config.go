// Package config loads and hot-reloads the run configuration and
// permission policy driving the orchestration core, via a YAML +
// mapstructure decoding pipeline.
package config

import (
	"time"
)

// ExecutionMode is the --execution-mode flag's closed set.
type ExecutionMode string

const (
	ExecutionLinear   ExecutionMode = "linear"
	ExecutionSubAgent ExecutionMode = "sub-agent"
	ExecutionInline   ExecutionMode = "inline"
)

// ToolMode is the --tool-mode flag's closed set.
type ToolMode string

const (
	ToolModeNormal     ToolMode = "normal"
	ToolModeAutoAccept ToolMode = "auto-accept"
	ToolModePlanOnly   ToolMode = "plan-only"
)

// ReviewStrictness is the --review-strictness flag's closed set.
type ReviewStrictness string

const (
	ReviewLenient  ReviewStrictness = "lenient"
	ReviewModerate ReviewStrictness = "moderate"
	ReviewStrict   ReviewStrictness = "strict"
)

// RunConfig is the normalized configuration the shell layer hands the core
//.
type RunConfig struct {
	Model              string           `yaml:"model" mapstructure:"model"`
	LLMProvider        string           `yaml:"llm_provider" mapstructure:"llm_provider"`
	Workspace          string           `yaml:"workspace" mapstructure:"workspace"`
	AllowExternalPaths bool             `yaml:"allow_external_paths" mapstructure:"allow_external_paths"`
	Parallel           int              `yaml:"parallel" mapstructure:"parallel"`
	Review             bool             `yaml:"review" mapstructure:"review"`
	ReviewStrictness   ReviewStrictness `yaml:"review_strictness" mapstructure:"review_strictness"`
	Validate           bool             `yaml:"validate" mapstructure:"validate"`
	Orchestrate        bool             `yaml:"orchestrate" mapstructure:"orchestrate"`
	ExecutionMode      ExecutionMode    `yaml:"execution_mode" mapstructure:"execution_mode"`
	ToolMode           ToolMode         `yaml:"tool_mode" mapstructure:"tool_mode"`
	Resume             string           `yaml:"resume" mapstructure:"resume"`
	ResumeContinue     bool             `yaml:"resume_continue" mapstructure:"resume_continue"`
	ListCheckpoints    bool             `yaml:"list_checkpoints" mapstructure:"list_checkpoints"`
	Clean              bool             `yaml:"clean" mapstructure:"clean"`
	Debug              bool             `yaml:"debug" mapstructure:"debug"`
	TrustWorkspace     bool             `yaml:"trust_workspace" mapstructure:"trust_workspace"`
	Yes                bool             `yaml:"yes" mapstructure:"yes"`
	Prompt             string           `yaml:"prompt" mapstructure:"prompt"`

	MaxTokensPerRun int           `yaml:"max_tokens_per_run" mapstructure:"max_tokens_per_run"`
	ResourceBudget  ResourceBudget `yaml:"resource_budget" mapstructure:"resource_budget"`

	PermissionPolicyPath string `yaml:"permission_policy_path" mapstructure:"permission_policy_path"`
	ArtifactThreshold    int    `yaml:"artifact_threshold" mapstructure:"artifact_threshold"`

	// ToolOutputsMaxKeep is the artifact retention ceiling N, overridable via REV_TOOL_OUTPUTS_MAX_KEEP.
	ToolOutputsMaxKeep int `yaml:"tool_outputs_max_keep" mapstructure:"tool_outputs_max_keep"`
}

// ResourceBudget is the step/token/time ceiling triple.
type ResourceBudget struct {
	MaxSteps int           `yaml:"max_steps" mapstructure:"max_steps"`
	MaxTokens int          `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxTime  time.Duration `yaml:"max_time" mapstructure:"max_time"`

	UsedSteps int           `yaml:"-" mapstructure:"-"`
	UsedTokens int          `yaml:"-" mapstructure:"-"`
	StartedAt time.Time     `yaml:"-" mapstructure:"-"`
}

// Exceeded reports whether any ceiling has been crossed.
func (b ResourceBudget) Exceeded() bool {
	if b.MaxSteps > 0 && b.UsedSteps >= b.MaxSteps {
		return true
	}
	if b.MaxTokens > 0 && b.UsedTokens >= b.MaxTokens {
		return true
	}
	if b.MaxTime > 0 && !b.StartedAt.IsZero() && time.Since(b.StartedAt) >= b.MaxTime {
		return true
	}
	return false
}

// SetDefaults fills in zero-valued fields with the CLI's documented
// defaults.
func (c *RunConfig) SetDefaults() {
	if c.Parallel == 0 {
		c.Parallel = 1
	}
	if c.ExecutionMode == "" {
		c.ExecutionMode = ExecutionLinear
	}
	if c.ToolMode == "" {
		c.ToolMode = ToolModeNormal
	}
	if c.ReviewStrictness == "" {
		c.ReviewStrictness = ReviewModerate
	}
	if c.MaxTokensPerRun == 0 {
		c.MaxTokensPerRun = 100000
	}
	if c.ArtifactThreshold == 0 {
		c.ArtifactThreshold = 4096
	}
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.ToolOutputsMaxKeep == 0 {
		c.ToolOutputsMaxKeep = 200
	}
}

// RiskLevel is a tool's declared danger tier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// DefaultPolicy is the policy fallback when an (agent, tool) pair matches
// no explicit rule.
type DefaultPolicy string

const (
	DefaultAllow DefaultPolicy = "allow"
	DefaultDeny  DefaultPolicy = "deny"
)

// AgentRole declares one agent's tool allow/deny lists and per-session
// call budget.
type AgentRole struct {
	AllowedTools      []string `yaml:"allowed_tools" mapstructure:"allowed_tools"`
	DeniedTools       []string `yaml:"denied_tools" mapstructure:"denied_tools"`
	MaxCallsPerSession int     `yaml:"max_calls_per_session" mapstructure:"max_calls_per_session"`
}

// PermissionPolicy is the declarative access-control document the
// Permission Manager enforces.
type PermissionPolicy struct {
	DefaultPolicy         DefaultPolicy          `yaml:"default_policy" mapstructure:"default_policy"`
	Agents                map[string]AgentRole   `yaml:"agents" mapstructure:"agents"`
	ToolRiskLevels        map[string]RiskLevel   `yaml:"tool_risk_levels" mapstructure:"tool_risk_levels"`
	ConfirmationRequired  []string               `yaml:"confirmation_required" mapstructure:"confirmation_required"`
}

// DefaultPermissivePolicy is the policy used when no permission_policy_path
// is configured: no agent roles, default_policy allow, so every tool call
// passes until the user opts into an explicit policy file.
func DefaultPermissivePolicy() *PermissionPolicy {
	return &PermissionPolicy{DefaultPolicy: DefaultAllow}
}
