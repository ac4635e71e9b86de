package rpc

import (
	"context"

	"github.com/contextkeep/ltmc/internal/thought"
)

func thoughtTool(deps Deps) *Tool {
	return &Tool{
		Name:        "thought",
		Description: "Sequential reasoning chains: hash-verified thoughts, chain analysis, cross-session similarity.",
		WriteShaped: true,
		Actions: map[string]Handler{
			"create":        thoughtCreate(deps),
			"analyze_chain": thoughtAnalyzeChain(deps),
			"find_similar":  thoughtFindSimilar(deps),
			"health_status": thoughtHealthStatus(deps),
		},
	}
}

func thoughtCreate(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sessionID, err := stringArg(args, "session_id")
		if err != nil {
			return nil, err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, err
		}
		result, err := deps.Thought.Create(ctx, thought.CreateRequest{
			SessionID:         sessionID,
			Content:           content,
			Kind:              optStringArg(args, "kind", ""),
			PreviousThoughtID: optStringArg(args, "previous_thought_id", ""),
			StepNumber:        optIntArg(args, "step_number", 0),
			Metadata:          optMapArg(args, "metadata"),
		})
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"ulid":               result.Node.ULID,
			"session_id":         result.Node.SessionID,
			"kind":               result.Node.Kind,
			"step_number":        result.Node.StepNumber,
			"content_hash":       result.Node.ContentHash,
			"created_at":         result.Node.CreatedAt,
			"databases_affected": result.DatabasesAffected,
			"execution_time_ms":  result.ExecutionTimeMs,
			"sla_compliant":      result.SLACompliant,
		}
		if result.Node.PreviousThoughtID != "" {
			out["previous_thought_id"] = result.Node.PreviousThoughtID
		}
		return out, nil
	}
}

func thoughtAnalyzeChain(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sessionID, err := stringArg(args, "session_id")
		if err != nil {
			return nil, err
		}
		analysis, err := deps.Thought.AnalyzeChain(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"session_id":   analysis.SessionID,
			"chain_length": analysis.ChainLength,
			"thoughts":     analysis.Thoughts,
			"analysis": map[string]any{
				"kind_counts":            analysis.KindCounts,
				"avg_content_length":     analysis.AvgContentLength,
				"has_problem_definition": analysis.HasProblemDefinition,
				"has_conclusion":         analysis.HasConclusion,
				"coherence_score":        analysis.CoherenceScore,
			},
		}, nil
	}
}

func thoughtFindSimilar(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		hits, err := deps.Thought.FindSimilar(ctx, query,
			optIntArg(args, "top_k", 5),
			optBoolArg(args, "include_chains", false))
		if err != nil {
			return nil, err
		}
		if hits == nil {
			hits = []*thought.SimilarThought{}
		}
		return map[string]any{"thoughts": hits, "count": len(hits)}, nil
	}
}

// thoughtHealthStatus is the full engine snapshot: tier states, repair
// backlog, drift, and per-handler latency quantiles.
func thoughtHealthStatus(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		health, err := deps.Memory.Health(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"health":   health,
			"handlers": deps.Metrics.Snapshot(),
		}, nil
	}
}
