package graph

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Per-service configuration, keyed by service name and then by option.
type Config map[string]map[string]any

// Extracts "--Service.key=value" and "--Service.key value" overrides from
// args.
//
// Arguments that are not overrides are returned unchanged and in order, so
// the remainder can be handed to the flag parser. Processing stops at "--".
// Keys may be dotted to address nested options ("--Worker.engine.tp=2").
// Values are decoded as YAML scalars or flow collections, so "0.5" becomes a
// number, "true" a boolean and "qwentastic" a string.
func ParseOverrides(args []string) ([]string, Config, error) {
	rest := make([]string, 0, len(args))
	config := Config{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			rest = append(rest, args[i:]...)
			break
		}

		name, value, hasValue, ok := splitOverride(arg)
		if !ok {
			rest = append(rest, arg)
			continue
		}

		if !hasValue {
			if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
				return nil, nil, fmt.Errorf("%w: %s: missing value", ErrOverride, arg)
			}
			i++
			value = args[i]
		}

		service, key, _ := strings.Cut(name, ".")
		if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
			return nil, nil, fmt.Errorf("%w: %s: missing option name", ErrOverride, arg)
		}

		v := parseValue(value)
		if config[service] == nil {
			config[service] = map[string]any{}
		}
		setPath(config[service], strings.Split(key, "."), v)
	}

	return rest, config, nil
}

// Loads a YAML config file mapping service names to options.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfig, path, err)
	}
	if config == nil {
		config = Config{}
	}
	return config, nil
}

// Merges service configuration layers for a graph.
//
// The service defaults declared in the graph file come first, then the
// config file, then command-line overrides. Nested maps are merged key by
// key; any other value replaces the previous one. Sections naming services
// outside the graph are rejected. A nil graph skips both the defaults and
// the check.
func ResolveConfig(g *Graph, layers ...Config) (Config, error) {
	merged := Config{}

	if g != nil {
		for name, svc := range g.Services {
			if len(svc.Config) > 0 {
				merged[name] = deepCopy(svc.Config)
			}
		}
	}

	for _, layer := range layers {
		for name, options := range layer {
			if g != nil {
				if _, ok := g.Services[name]; !ok {
					return nil, fmt.Errorf("%w: %q is not part of %s", ErrUnknownService, name, g.Ref)
				}
			}
			if merged[name] == nil {
				merged[name] = map[string]any{}
			}
			deepMerge(merged[name], options)
		}
	}

	return merged, nil
}

// Returns the configuration as compact JSON with sorted keys, or an empty
// string when there is nothing to configure.
func (c Config) JSON() (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return string(b), nil
}

// Returns the configuration as indented JSON.
func (c Config) Pretty() (string, error) {
	if c == nil {
		c = Config{}
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return string(b), nil
}

// Splits "--Service.key=value" into its name and value.
//
// Returns ok=false when arg is not an override. Overrides start with an
// upper-case service name followed by a dot, which keeps them apart from
// regular flags.
func splitOverride(arg string) (name, value string, hasValue, ok bool) {
	if !strings.HasPrefix(arg, "--") {
		return "", "", false, false
	}
	body := arg[2:]
	name, value, hasValue = strings.Cut(body, "=")

	if name == "" || name[0] < 'A' || name[0] > 'Z' || !strings.Contains(name, ".") {
		return "", "", false, false
	}
	return name, value, hasValue, true
}

// Decodes an override value. Text that is not valid YAML is kept as a
// string.
func parseValue(s string) any {
	if strings.TrimSpace(s) == "" {
		return s
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return v
}

// Sets a value at a nested key path, creating intermediate maps.
func setPath(m map[string]any, path []string, v any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// Merges src into dst, recursing into maps present on both sides.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				deepMerge(dm, sm)
				continue
			}
			dst[k] = deepCopy(sm)
			continue
		}
		dst[k] = v
	}
}

// Copies nested maps so merges never alias the graph's defaults.
func deepCopy(m map[string]any) map[string]any {
	out := maps.Clone(m)
	for k, v := range out {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
		}
	}
	return out
}
