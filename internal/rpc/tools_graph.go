package rpc

import (
	"context"

	"github.com/contextkeep/ltmc/internal/data/graph"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
	"github.com/contextkeep/ltmc/internal/retrieval"
)

func graphTool(deps Deps) *Tool {
	return &Tool{
		Name:        "graph",
		Description: "Relationship graph over memories: explicit links, read-only Cypher, similarity-driven auto-linking.",
		WriteShaped: true,
		Actions: map[string]Handler{
			"link":              graphLink(deps),
			"query":             graphQuery(deps),
			"auto_link":         graphAutoLink(deps),
			"get_relationships": graphGetRelationships(deps),
		},
	}
}

func graphDisabledWrite(op string) error {
	return ltmerr.Newf(ltmerr.KindWriteFailed, op, "graph tier is not configured")
}

func graphLink(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sourceID, err := stringArg(args, "source_id")
		if err != nil {
			return nil, err
		}
		targetID, err := stringArg(args, "target_id")
		if err != nil {
			return nil, err
		}
		relType, err := stringArg(args, "relation")
		if err != nil {
			return nil, err
		}
		if deps.Graph == nil {
			return nil, graphDisabledWrite("graph.link")
		}
		props := optMapArg(args, "properties")
		if err := deps.Graph.UpsertNode(ctx, sourceID, nil); err != nil {
			return nil, err
		}
		if err := deps.Graph.UpsertNode(ctx, targetID, nil); err != nil {
			return nil, err
		}
		if err := deps.Graph.UpsertRelation(ctx, sourceID, targetID, relType, props); err != nil {
			return nil, err
		}
		return map[string]any{
			"source_id": sourceID,
			"target_id": targetID,
			"relation":  relType,
		}, nil
	}
}

func graphQuery(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		cypher, err := stringArg(args, "cypher")
		if err != nil {
			return nil, err
		}
		// The guard runs before the availability check so a mutating query is
		// rejected identically whether or not the tier is up.
		if err := graph.GuardReadOnly(cypher); err != nil {
			return nil, err
		}
		if deps.Graph == nil {
			return map[string]any{"rows": []map[string]any{}, "count": 0, "degraded": true}, nil
		}
		rows, err := deps.Graph.ReadQuery(ctx, cypher, optMapArg(args, "params"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"rows": rows, "count": len(rows)}, nil
	}
}

// graphAutoLink retrieves the document's own content and links it to the
// distinct other documents that come back similar.
func graphAutoLink(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		fileName, err := stringArg(args, "file_name")
		if err != nil {
			return nil, err
		}
		if deps.Graph == nil {
			return nil, graphDisabledWrite("graph.auto_link")
		}
		doc, err := deps.Memory.GetDocument(ctx, fileName)
		if err != nil {
			return nil, err
		}

		probe := []rune(doc.Resource.Content)
		if len(probe) > 2000 {
			probe = probe[:2000]
		}
		topK := optIntArg(args, "top_k", 5)
		res, err := deps.Retrieval.Retrieve(ctx, string(probe), retrieval.Options{TopK: topK + 1})
		if err != nil {
			return nil, err
		}

		linked := make([]string, 0, topK)
		seen := map[string]bool{fileName: true}
		for _, c := range res.Chunks {
			if seen[c.FileName] {
				continue
			}
			seen[c.FileName] = true
			if err := deps.Graph.UpsertNode(ctx, c.FileName, nil); err != nil {
				return nil, err
			}
			if err := deps.Graph.UpsertRelation(ctx, fileName, c.FileName,
				domain.RelationRelatedTo, map[string]any{"similarity": c.Similarity}); err != nil {
				return nil, err
			}
			linked = append(linked, c.FileName)
			if len(linked) == topK {
				break
			}
		}
		return map[string]any{
			"file_name":     fileName,
			"linked":        linked,
			"links_created": len(linked),
			"degraded":      res.Degraded,
		}, nil
	}
}

func graphGetRelationships(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		id, err := stringArg(args, "node_id")
		if err != nil {
			return nil, err
		}
		if deps.Graph == nil {
			return map[string]any{"relations": []graph.Relation{}, "count": 0, "degraded": true}, nil
		}
		relations, err := deps.Graph.GetRelations(ctx, id,
			optStringArg(args, "relation", ""),
			optStringArg(args, "direction", "both"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"relations": relations, "count": len(relations)}, nil
	}
}
