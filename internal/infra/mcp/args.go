package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func parseToolsCallParams(raw json.RawMessage) (toolsCallParams, error) {
	if len(raw) == 0 {
		return toolsCallParams{}, fmt.Errorf("params is required")
	}
	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return toolsCallParams{}, fmt.Errorf("invalid tools/call params")
	}
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return toolsCallParams{}, fmt.Errorf("tools/call params.name is required")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}
	return params, nil
}

func invalid(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, sentinel.ErrInvalidRequest)...)
}

func assertNoUnknownArguments(args map[string]any, allowed ...string) error {
	for key := range args {
		known := false
		for _, a := range allowed {
			if key == a {
				known = true
				break
			}
		}
		if !known {
			return invalid("unknown argument: %s", key)
		}
	}
	return nil
}

func parseRequiredString(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", invalid("%s is required", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", invalid("%s must be a string", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalid("%s must be a non-empty string", key)
	}
	return value, nil
}

func parseInteger(value any, field string) (int, error) {
	switch v := value.(type) {
	case float64:
		if math.Trunc(v) != v {
			return 0, invalid("%s must be an integer", field)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, invalid("%s is out of range", field)
		}
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, invalid("%s must be an integer", field)
	}
}

func parseOptionalInteger(args map[string]any, key string, def int) (int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return def, nil
	}
	return parseInteger(raw, key)
}

func parseOptionalStringSlice(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch typed := raw.(type) {
	case []any:
		out := make([]string, 0, len(typed))
		for idx, item := range typed {
			v, ok := item.(string)
			if !ok {
				return nil, invalid("%s[%d] must be a string", key, idx)
			}
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out, nil
	case []string:
		return typed, nil
	default:
		return nil, invalid("%s must be an array of strings", key)
	}
}

func parseOptionalObject(args map[string]any, key string) (map[string]any, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid("%s must be an object", key)
	}
	return obj, nil
}
