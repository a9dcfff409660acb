package provider

// SanitizeSchema strips JSON-schema keywords that restrictive providers
// reject: `default` as a schema
// attribute is removed, but a `default` *property name* inside `properties`
// is preserved; `required` entries not present in the same level's
// `properties` are filtered out; `oneOf`/`anyOf`/`allOf` collapse to their
// first branch; array `items` are sanitized recursively.
func SanitizeSchema(schema map[string]any) map[string]any {
	return sanitizeNode(schema)
}

func sanitizeNode(node map[string]any) map[string]any {
	if node == nil {
		return nil
	}
	out := make(map[string]any, len(node))
	for k, v := range node {
		switch k {
		case "default":
			// Attribute-level default is stripped; property-named "default"
			// entries live under "properties" and are handled below.
			continue
		case "oneOf", "anyOf", "allOf":
			if branches, ok := v.([]any); ok && len(branches) > 0 {
				if first, ok := branches[0].(map[string]any); ok {
					for fk, fv := range sanitizeNode(first) {
						out[fk] = fv
					}
				}
			}
			continue
		case "properties":
			if props, ok := v.(map[string]any); ok {
				sanitizedProps := make(map[string]any, len(props))
				for name, def := range props {
					if child, ok := def.(map[string]any); ok {
						sanitizedProps[name] = sanitizeNode(child)
					} else {
						sanitizedProps[name] = def
					}
				}
				out[k] = sanitizedProps
			} else {
				out[k] = v
			}
		case "items":
			if child, ok := v.(map[string]any); ok {
				out[k] = sanitizeNode(child)
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}

	if required, ok := out["required"].([]string); ok {
		props, _ := out["properties"].(map[string]any)
		filtered := make([]string, 0, len(required))
		for _, name := range required {
			if _, present := props[name]; present {
				filtered = append(filtered, name)
			}
		}
		if len(filtered) == 0 {
			delete(out, "required")
		} else {
			out["required"] = filtered
		}
	} else if requiredAny, ok := out["required"].([]any); ok {
		props, _ := out["properties"].(map[string]any)
		filtered := make([]any, 0, len(requiredAny))
		for _, n := range requiredAny {
			name, _ := n.(string)
			if _, present := props[name]; present {
				filtered = append(filtered, n)
			}
		}
		if len(filtered) == 0 {
			delete(out, "required")
		} else {
			out["required"] = filtered
		}
	}

	return out
}
