package tool

import (
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"
)

// GenerateParameters reflects a Go struct type into the []ToolParameter
// shape a Provider expects, using jsonschema struct tags for description,
// default, and enum metadata. A marshal-to-JSON round trip sidesteps the
// reflector's internal ordered-map type and hands back plain
// map[string]any per property.
func GenerateParameters[T any]() []ToolParameter {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var raw struct {
		Properties map[string]struct {
			Type        string         `json:"type"`
			Description string         `json:"description,omitempty"`
			Default     any            `json:"default,omitempty"`
			Enum        []string       `json:"enum,omitempty"`
			Items       map[string]any `json:"items,omitempty"`
		} `json:"properties"`
		Required []string `json:"required,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	required := map[string]bool{}
	for _, name := range raw.Required {
		required[name] = true
	}

	names := make([]string, 0, len(raw.Properties))
	for name := range raw.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]ToolParameter, 0, len(names))
	for _, name := range names {
		prop := raw.Properties[name]
		params = append(params, ToolParameter{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    required[name],
			Default:     prop.Default,
			Enum:        prop.Enum,
			Items:       prop.Items,
		})
	}
	return params
}
