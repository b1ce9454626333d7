// Package builtin implements the built-in tool set the agent loop and
// orchestrator register by default: filesystem access, search, shell
// execution, web access, and session-control tools.
package builtin

import (
	"encoding/json"

	"github.com/sacenox/ion/internal/tool"
)

func parseArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, tool.NewInvalidArgs("invalid arguments: %v", err)
	}
	return m, nil
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", tool.NewInvalidArgs("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", tool.NewInvalidArgs("%s must be a string", key)
	}
	return s, nil
}

func argStringOr(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func argIntPtr(args map[string]any, key string) *int {
	v, ok := args[key]
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

func argBoolOr(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
