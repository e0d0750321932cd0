package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseAssignments turns "key=value" pairs into a map. Values are read as
// YAML scalars, so "5" becomes an int and "true" a bool; a bare "key" is
// true. Later assignments win.
func ParseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, hasValue := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("argument key cannot be empty: %q", pair)
		}
		if !hasValue {
			out[key] = true
			continue
		}

		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		switch v.(type) {
		case map[string]any, []any:
			v = value
		case nil:
			if strings.TrimSpace(value) != "null" {
				v = value
			}
		}
		out[key] = v
	}
	return out, nil
}

// MatchesAny reports whether name matches one of the glob patterns. No
// patterns match everything.
func MatchesAny(name string, patterns []string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, p := range patterns {
		ok, err := filepath.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
