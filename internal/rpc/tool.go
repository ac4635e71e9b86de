package rpc

import (
	"context"
	"sort"
	"time"

	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

// Handler executes one tool action. A nil error with a result map becomes
// the JSON-RPC result verbatim (with success:true added if absent).
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is one catalog entry with its action table.
type Tool struct {
	Name        string
	Description string
	Actions     map[string]Handler

	// Timeout is the per-handler deadline; zero takes the dispatcher default.
	Timeout time.Duration

	// WriteShaped marks tools covered by the optional token gate.
	WriteShaped bool
}

func (t *Tool) descriptor() ToolDescriptor {
	actions := make([]string, 0, len(t.Actions))
	for name := range t.Actions {
		actions = append(actions, name)
	}
	sort.Strings(actions)
	return ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": actions,
				},
			},
			"required": []string{"action"},
		},
	}
}

// Argument extraction helpers. Required lookups return InvalidParams so the
// dispatcher can map them onto -32602.

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", ltmerr.Newf(ltmerr.KindInvalidParams, "args", "missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ltmerr.Newf(ltmerr.KindInvalidParams, "args", "argument %q must be a non-empty string", key)
	}
	return s, nil
}

func optStringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func optIntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// intArgSet reports whether the caller supplied the key at all, so an
// explicit zero can be told apart from an absent argument.
func intArgSet(args map[string]any, key string) bool {
	_, ok := args[key]
	return ok
}

func optBoolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func int64Arg(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	}
	return 0, ltmerr.Newf(ltmerr.KindInvalidParams, "args", "argument %q must be an integer", key)
}

func int64ListArg(args map[string]any, key string) ([]int64, error) {
	raw, ok := args[key].([]any)
	if !ok {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "args", "argument %q must be an array of integers", key)
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		f, ok := item.(float64)
		if !ok {
			return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "args", "argument %q must contain only integers", key)
		}
		out = append(out, int64(f))
	}
	return out, nil
}

func optMapArg(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}
