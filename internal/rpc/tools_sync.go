package rpc

import (
	"context"
	"sort"

	"github.com/contextkeep/ltmc/internal/ingestion/chunker"
	"github.com/contextkeep/ltmc/internal/pattern"
)

func syncTool(deps Deps) *Tool {
	return &Tool{
		Name:        "sync",
		Description: "Consistency checks between tiers and drift detection between stored and live code.",
		Actions: map[string]Handler{
			"validate": syncValidate(deps),
			"drift":    syncDrift(deps),
			"code":     syncCode(deps),
			"score":    syncScore(deps),
		},
	}
}

func syncValidate(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		report, err := deps.Consistency.Verify(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"report": report}, nil
	}
}

// driftInputs loads the stored document and the caller's current copy.
func driftInputs(ctx context.Context, deps Deps, args map[string]any) (stored, current, fileName string, err error) {
	fileName, err = stringArg(args, "file_name")
	if err != nil {
		return "", "", "", err
	}
	current, err = stringArg(args, "content")
	if err != nil {
		return "", "", "", err
	}
	doc, err := deps.Memory.GetDocument(ctx, fileName)
	if err != nil {
		return "", "", "", err
	}
	return doc.Resource.Content, current, fileName, nil
}

func syncDrift(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		stored, current, fileName, err := driftInputs(ctx, deps, args)
		if err != nil {
			return nil, err
		}
		score := pattern.DriftScore(stored, current)

		storedFns := symbolNames(pattern.ExtractFunctions(stored))
		currentFns := symbolNames(pattern.ExtractFunctions(current))
		return map[string]any{
			"file_name":         fileName,
			"drift_score":       score,
			"functions_added":   diffNames(currentFns, storedFns),
			"functions_removed": diffNames(storedFns, currentFns),
		}, nil
	}
}

// syncCode re-chunks the caller's copy and reports which stored chunks no
// longer appear in it.
func syncCode(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		fileName, err := stringArg(args, "file_name")
		if err != nil {
			return nil, err
		}
		current, err := stringArg(args, "content")
		if err != nil {
			return nil, err
		}
		doc, err := deps.Memory.GetDocument(ctx, fileName)
		if err != nil {
			return nil, err
		}

		live := make(map[string]bool)
		for _, text := range chunker.Split(current, deps.ChunkOpts) {
			live[text] = true
		}

		stale := []int{}
		for _, c := range doc.Chunks {
			if !live[c.Text] {
				stale = append(stale, c.ChunkIndex)
			}
		}
		return map[string]any{
			"file_name":    fileName,
			"total_chunks": len(doc.Chunks),
			"stale_chunks": stale,
			"in_sync":      len(stale) == 0,
		}, nil
	}
}

func syncScore(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		stored, current, fileName, err := driftInputs(ctx, deps, args)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"file_name":  fileName,
			"sync_score": 1 - pattern.DriftScore(stored, current),
		}, nil
	}
}

func symbolNames(symbols []pattern.Symbol) map[string]bool {
	out := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		out[s.Name] = true
	}
	return out
}

func diffNames(a, b map[string]bool) []string {
	out := []string{}
	for name := range a {
		if !b[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
