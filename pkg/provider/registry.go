package provider

import (
	"fmt"
	"strings"

	"github.com/revkit/rev/pkg/registry"
)

// Registry catalogs named Provider instances by name.
type Registry struct {
	base *registry.Base[Provider]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.New[Provider]()}
}

// Register adds a provider under name.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("provider: name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("provider: provider cannot be nil")
	}
	return r.base.Register(name, p)
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) { return r.base.Get(name) }

// Names lists every registered provider name.
func (r *Registry) Names() []string { return r.base.Names() }

// AutoDetect routes a model name to a registered provider by name prefix
// when no explicit provider was configured.
// Routing is deterministic and case-insensitive.
func AutoDetect(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-oss"):
		return "local"
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1-"):
		return "openai-compatible"
	case strings.HasPrefix(m, "claude-"):
		return "anthropic-compatible"
	case strings.HasPrefix(m, "gemini-"):
		return "gemini-compatible"
	default:
		return "local"
	}
}

// Resolve returns the provider for model, preferring an explicit name when
// given, falling back to AutoDetect otherwise.
func (r *Registry) Resolve(explicitName, model string) (Provider, error) {
	name := explicitName
	if name == "" {
		name = AutoDetect(model)
	}
	p, ok := r.base.Get(name)
	if !ok {
		return nil, fmt.Errorf("provider: %q not registered (model %q)", name, model)
	}
	return p, nil
}
