// Package redact scrubs secret-shaped substrings from tool output before it
// is persisted as an artifact or echoed back into an LLM transcript.
package redact

import (
	"fmt"
)

// Redactor walks values and applies an ordered pattern set.
type Redactor struct {
	patterns []Pattern
}

// New creates a Redactor with the built-in pattern set.
func New() *Redactor {
	return &Redactor{patterns: builtinPatterns()}
}

// RulesVersion reports the version embedded in produced artifacts.
func (r *Redactor) RulesVersion() int { return RulesVersion }

// RedactString applies every pattern to s in order and reports whether
// anything changed.
func (r *Redactor) RedactString(s string) (string, bool) {
	changed := false
	out := s
	for _, p := range r.patterns {
		replaced := p.Regex.ReplaceAllString(out, p.Replacement)
		if replaced != out {
			changed = true
			out = replaced
		}
	}
	return out, changed
}

// Redact walks a JSON-like composite value (string, map[string]any,
// []any, or scalar) recursively, redacting every string leaf. It returns a
// new value and whether anything changed.
func (r *Redactor) Redact(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		return r.RedactString(v)
	case map[string]any:
		changedAny := false
		out := make(map[string]any, len(v))
		for k, val := range v {
			newVal, changed := r.Redact(val)
			if changed {
				changedAny = true
			}
			out[k] = newVal
		}
		return out, changedAny
	case []any:
		changedAny := false
		out := make([]any, len(v))
		for i, val := range v {
			newVal, changed := r.Redact(val)
			if changed {
				changedAny = true
			}
			out[i] = newVal
		}
		return out, changedAny
	case fmt.Stringer:
		return r.RedactString(v.String())
	default:
		return value, false
	}
}
