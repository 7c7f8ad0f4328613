package ingest

import (
	"encoding/json"
	"fmt"
)

// Params are the decoded JSON parameters of a source.
type Params map[string]any

func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// Strings accepts a single string or a list of strings.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s: expected strings, got %T", key, item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s: expected a string or a list, got %T", key, v)
	}
}

func (p Params) Require(key string) (string, error) {
	s := p.String(key, "")
	if s == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return s, nil
}
