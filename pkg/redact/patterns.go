package redact

import "regexp"

// Pattern is a single compiled secret-shape rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// RulesVersion is the monotonic version embedded in every artifact's
// redaction_rules_version field. Bump it
// whenever the pattern set below changes shape.
const RulesVersion = 1

// builtinPatterns compiles the fixed set of secret-shape masking rules
// applied to every tool result before it is persisted: bearer tokens,
// vendor API-key shapes, and "key=value" assignments.
func builtinPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "bearer_token",
			Regex:       regexp.MustCompile(`(?i)(Bearer)\s+[A-Za-z0-9_\-\.=/+]{8,}`),
			Replacement: `$1 [REDACTED]`,
		},
		{
			Name:        "github_token",
			Regex:       regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,255}`),
			Replacement: `[REDACTED]`,
		},
		{
			Name:        "slack_token",
			Regex:       regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,72}`),
			Replacement: `[REDACTED]`,
		},
		{
			Name:        "aws_access_key",
			Regex:       regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
			Replacement: `[REDACTED]`,
		},
		{
			Name:        "private_key_block",
			Regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+ PRIVATE KEY-----.*?-----END [A-Z ]+ PRIVATE KEY-----`),
			Replacement: `[REDACTED]`,
		},
		{
			Name:        "key_value_assignment",
			Regex:       regexp.MustCompile(`(?i)\b((?:api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token|password)\b\s*[:=]\s*)["']?([A-Za-z0-9_\-\.]{8,})["']?`),
			Replacement: `${1}[REDACTED]`,
		},
	}
}
