package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local then .env into the process environment,
// tolerating either file's absence.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overlays the fixed `REV_*` environment variables onto cfg,
// the same env-overrides-file convention used for provider API keys but
// for the core's own settings. Only variables that are actually set
// take effect; an explicit CLI flag should be applied after this call if
// it must win.
func ApplyEnv(cfg *RunConfig) {
	if v, ok := os.LookupEnv("REV_LLM_PROVIDER"); ok && v != "" {
		cfg.LLMProvider = v
	}
	if v, ok := os.LookupEnv("REV_EXECUTION_MODE"); ok && v != "" {
		cfg.ExecutionMode = ExecutionMode(v)
	}
	if v, ok := os.LookupEnv("REV_ALLOW_EXTERNAL_PATHS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowExternalPaths = b
		}
	}
	if v, ok := os.LookupEnv("REV_TOOL_OUTPUTS_MAX_KEEP"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ToolOutputsMaxKeep = n
		}
	}
}

// PrivateMode reports REV_PRIVATE_MODE, which disables transcript/debug
// persistence of request/response bodies regardless of --debug.
func PrivateMode() bool {
	b, _ := strconv.ParseBool(os.Getenv("REV_PRIVATE_MODE"))
	return b
}

// LogAlways reports REV_LOG_ALWAYS, which forces structured event
// logging on even when --debug was not passed.
func LogAlways() bool {
	b, _ := strconv.ParseBool(os.Getenv("REV_LOG_ALWAYS"))
	return b
}

// TrustAccept reports REV_TRUST_ACCEPT, a non-interactive stand-in for
// the workspace trust prompt (equivalent to --trust-workspace).
func TrustAccept() bool {
	b, _ := strconv.ParseBool(os.Getenv("REV_TRUST_ACCEPT"))
	return b
}

// TUIEnabled reports REV_TUI, consulted by the shell layer to decide
// between the interactive terminal and the headless `run(request)` entry
// point; the core itself is agnostic to it.
func TUIEnabled() bool {
	b, _ := strconv.ParseBool(os.Getenv("REV_TUI"))
	return b
}

// ProviderAPIKey returns the conventional environment variable for a
// given provider name.
func ProviderAPIKey(providerName string) string {
	switch providerName {
	case "openai", "openai-compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic", "anthropic-compatible":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini", "gemini-compatible":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}
