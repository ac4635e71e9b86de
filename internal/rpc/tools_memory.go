package rpc

import (
	"context"

	"github.com/contextkeep/ltmc/internal/retrieval"
)

func memoryTool(deps Deps) *Tool {
	return &Tool{
		Name:        "memory",
		Description: "Store documents into the multi-tier memory and retrieve them by semantic similarity.",
		WriteShaped: true,
		Actions: map[string]Handler{
			"store":            memoryStore(deps),
			"retrieve":         memoryRetrieve(deps, false),
			"retrieve_by_type": memoryRetrieve(deps, true),
			"build_context":    memoryBuildContext(deps),
			"ask_with_context": memoryAskWithContext(deps),
		},
	}
}

func memoryStore(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		fileName, err := stringArg(args, "file_name")
		if err != nil {
			return nil, err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, err
		}
		result, err := deps.Memory.StoreDocument(ctx,
			fileName,
			content,
			optStringArg(args, "resource_type", ""),
			optMapArg(args, "metadata"),
			optBoolArg(args, "replace", false),
		)
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"resource_id": result.ResourceID,
			"chunk_ids":   result.ChunkIDs,
			"vector_ids":  result.VectorIDs,
			"chunk_count": len(result.ChunkIDs),
		}
		if len(result.Degraded) > 0 {
			out["degraded"] = true
			out["degraded_tiers"] = result.Degraded
		}
		return out, nil
	}
}

// retrieveOpts reads the shared retrieval arguments. The explicitZero return
// distinguishes top_k supplied as 0 (answer with nothing) from top_k absent
// (server default).
func retrieveOpts(args map[string]any) (opts retrieval.Options, explicitZero bool) {
	opts.TopK = optIntArg(args, "top_k", 0)
	explicitZero = intArgSet(args, "top_k") && opts.TopK == 0
	opts.TypeFilter = optStringArg(args, "resource_type", "")
	opts.ConversationID = optStringArg(args, "conversation_id", "")
	opts.SourceTool = optStringArg(args, "source_tool", "")
	return opts, explicitZero
}

func retrieveResult(res *retrieval.Result) map[string]any {
	out := map[string]any{
		"chunks":   res.Chunks,
		"context":  res.Context,
		"count":    len(res.Chunks),
		"degraded": res.Degraded,
	}
	if res.MessageID != 0 {
		out["message_id"] = res.MessageID
	}
	if res.Cached {
		out["cached"] = true
	}
	return out
}

func emptyRetrieveResult() map[string]any {
	return map[string]any{
		"chunks":   []retrieval.ScoredChunk{},
		"context":  "",
		"count":    0,
		"degraded": false,
	}
}

func memoryRetrieve(deps Deps, requireType bool) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		opts, explicitZero := retrieveOpts(args)
		if requireType {
			if opts.TypeFilter, err = stringArg(args, "resource_type"); err != nil {
				return nil, err
			}
		}
		if explicitZero {
			return emptyRetrieveResult(), nil
		}
		res, err := deps.Retrieval.Retrieve(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		return retrieveResult(res), nil
	}
}

func memoryBuildContext(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		opts, explicitZero := retrieveOpts(args)
		// Context assembly never logs a conversation turn.
		opts.ConversationID = ""
		if explicitZero {
			return map[string]any{"context": "", "chunk_count": 0, "degraded": false}, nil
		}
		res, err := deps.Retrieval.Retrieve(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"context":     res.Context,
			"chunk_count": len(res.Chunks),
			"degraded":    res.Degraded,
		}, nil
	}
}

func memoryAskWithContext(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		conversationID, err := stringArg(args, "conversation_id")
		if err != nil {
			return nil, err
		}
		opts, explicitZero := retrieveOpts(args)
		opts.ConversationID = conversationID
		if explicitZero {
			return emptyRetrieveResult(), nil
		}
		res, err := deps.Retrieval.Retrieve(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		return retrieveResult(res), nil
	}
}
