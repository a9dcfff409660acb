package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSchema_StripsAttributeDefault(t *testing.T) {
	in := map[string]any{
		"type":    "string",
		"default": "fallback",
	}
	out := SanitizeSchema(in)
	_, hasDefault := out["default"]
	assert.False(t, hasDefault)
}

func TestSanitizeSchema_PreservesPropertyNamedDefault(t *testing.T) {
	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"default": map[string]any{"type": "string"},
			"name":    map[string]any{"type": "string"},
		},
	}
	out := SanitizeSchema(in)
	props := out["properties"].(map[string]any)
	_, ok := props["default"]
	assert.True(t, ok, "a property literally named 'default' must survive sanitization")
}

func TestSanitizeSchema_CollapsesOneOfToFirstBranch(t *testing.T) {
	in := map[string]any{
		"oneOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "integer"},
		},
	}
	out := SanitizeSchema(in)
	assert.Equal(t, "string", out["type"])
	_, hasOneOf := out["oneOf"]
	assert.False(t, hasOneOf)
}

func TestSanitizeSchema_FiltersInvalidRequired(t *testing.T) {
	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []any{"name", "ghost_field"},
	}
	out := SanitizeSchema(in)
	required := out["required"].([]any)
	assert.Equal(t, []any{"name"}, required)
}

func TestSanitizeSchema_RecursesIntoArrayItems(t *testing.T) {
	in := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":    "string",
			"default": "x",
		},
	}
	out := SanitizeSchema(in)
	items := out["items"].(map[string]any)
	_, hasDefault := items["default"]
	assert.False(t, hasDefault)
}
