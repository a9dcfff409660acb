package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Loader reads a RunConfig or PermissionPolicy document from a file and can
// watch it for hot reload.
type Loader struct {
	path string
}

// NewLoader creates a Loader bound to a single file path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// LoadRunConfig reads, parses, expands, and decodes a RunConfig document.
func LoadRunConfig(path string) (*RunConfig, error) {
	raw, err := loadMap(path)
	if err != nil {
		return nil, err
	}
	cfg := &RunConfig{}
	if err := decode(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// LoadPermissionPolicy reads, parses, expands, and decodes a
// PermissionPolicy document.
func LoadPermissionPolicy(path string) (*PermissionPolicy, error) {
	raw, err := loadMap(path)
	if err != nil {
		return nil, err
	}
	policy := &PermissionPolicy{}
	if err := decode(raw, policy); err != nil {
		return nil, fmt.Errorf("failed to decode permission policy: %w", err)
	}
	if policy.DefaultPolicy == "" {
		policy.DefaultPolicy = DefaultDeny
	}
	return policy, nil
}

func loadMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	raw, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return expandEnvVars(raw), nil
}

// parseBytes parses raw bytes into a map, trying YAML (a JSON superset)
// first and falling back to JSON.
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any
	if err := yaml.Unmarshal(data, &result); err == nil {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}
	return result, nil
}

func decode(input map[string]any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(input)
}

// expandEnvVars recursively expands ${VAR}, ${VAR:-default}, and $VAR
// patterns across every string value in a decoded map.
func expandEnvVars(input map[string]any) map[string]any {
	result := make(map[string]any, len(input))
	for k, v := range input {
		result[k] = expandValue(v)
	}
	return result
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = expandValue(item)
		}
		return result
	default:
		return v
	}
}

// envVarPattern matches ${VAR}, ${VAR:-default}, and $VAR.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]
			if idx := strings.Index(inner, ":-"); idx != -1 {
				varName := inner[:idx]
				defaultVal := inner[idx+2:]
				if val := os.Getenv(varName); val != "" {
					return val
				}
				return defaultVal
			}
			return os.Getenv(inner)
		}
		return os.Getenv(match[1:])
	})
}

// Watch watches the policy file for changes and invokes onChange with a
// freshly loaded PermissionPolicy after each debounced write. Blocks until
// ctx is cancelled. Watches the containing directory (some filesystems
// don't support watching a single file directly), debounces rapid
// writes, and best-effort re-establishes the watch if the file is
// removed and recreated.
func (l *Loader) Watch(ctx context.Context, onChange func(*PermissionPolicy)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	base := filepath.Base(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else if event.Op&fsnotify.Remove != 0 {
				slog.Warn("permission policy file removed", "path", l.path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("permission policy watcher error", "error", err)

		case <-reload:
			policy, err := LoadPermissionPolicy(l.path)
			if err != nil {
				slog.Error("failed to reload permission policy", "error", err)
				continue
			}
			if onChange != nil {
				onChange(policy)
			}
		}
	}
}
