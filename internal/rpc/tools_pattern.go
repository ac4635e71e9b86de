package rpc

import (
	"context"

	"github.com/contextkeep/ltmc/internal/pattern"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func patternTool(deps Deps) *Tool {
	return &Tool{
		Name:        "pattern",
		Description: "Best-effort static analysis over source text: function and type extraction, summaries.",
		Actions: map[string]Handler{
			"extract_functions": patternExtract(pattern.ExtractFunctions, "functions"),
			"extract_classes":   patternExtract(pattern.ExtractClasses, "classes"),
			"summarize_code":    patternSummarize(),
		},
	}
}

func sourceArg(args map[string]any) (string, error) {
	if v, ok := args["source"].(string); ok && v != "" {
		return v, nil
	}
	if v, ok := args["content"].(string); ok && v != "" {
		return v, nil
	}
	return "", ltmerr.Newf(ltmerr.KindInvalidParams, "pattern", "missing required argument \"source\"")
}

func patternExtract(fn func(string) []pattern.Symbol, key string) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		source, err := sourceArg(args)
		if err != nil {
			return nil, err
		}
		symbols := fn(source)
		if symbols == nil {
			symbols = []pattern.Symbol{}
		}
		return map[string]any{key: symbols, "count": len(symbols)}, nil
	}
}

func patternSummarize() Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		source, err := sourceArg(args)
		if err != nil {
			return nil, err
		}
		return map[string]any{"summary": pattern.SummarizeCode(source)}, nil
	}
}
