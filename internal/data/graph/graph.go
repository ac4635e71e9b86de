// Package graph projects memory relationships into Neo4j. Nodes are keyed by
// a stable external id (resource file name or thought id); the relational
// tier stays the source of truth and this projection can be rebuilt.
package graph

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
	"github.com/contextkeep/ltmc/internal/platform/neo4jdb"
)

// Relation is one edge touching a node.
type Relation struct {
	FromID string         `json:"from_id"`
	ToID   string         `json:"to_id"`
	Type   string         `json:"type"`
	Props  map[string]any `json:"properties,omitempty"`
}

type Store interface {
	EnsureSchema(ctx context.Context) error
	UpsertNode(ctx context.Context, id string, props map[string]any) error
	UpsertRelation(ctx context.Context, fromID, toID, relType string, props map[string]any) error
	GetRelations(ctx context.Context, id, relType, direction string) ([]Relation, error)
	TraverseChain(ctx context.Context, startID, relType string, maxDepth int) ([]string, error)
	DeleteNode(ctx context.Context, id string) error
	ReadQuery(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Ping(ctx context.Context) error
}

type store struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewStore(client *neo4jdb.Client, log *logger.Logger) Store {
	return &store{client: client, log: log.With("repo", "GraphStore")}
}

var relTypeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// mutationRe matches Cypher clauses that write. User-supplied queries run
// through ReadQuery only; anything that writes is rejected up front.
var mutationRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP)\b`)

// GuardReadOnly rejects cypher containing mutation clauses.
func GuardReadOnly(cypher string) error {
	if m := mutationRe.FindString(cypher); m != "" {
		return ltmerr.Newf(ltmerr.KindReadOnlyViolation, "graph.query",
			"mutation clause %q not allowed in read query", m)
	}
	return nil
}

func (s *store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.client.Database,
	})
}

func (s *store) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	// Best-effort; may fail for restricted users.
	if res, err := session.Run(ctx,
		`CREATE CONSTRAINT memory_id_unique IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`, nil); err != nil {
		s.log.Warn("neo4j schema init failed (continuing)", "error", err)
	} else {
		_, _ = res.Consume(ctx)
	}
	return nil
}

func (s *store) UpsertNode(ctx context.Context, id string, props map[string]any) error {
	if id == "" {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "graph.upsert_node", "missing node id")
	}
	if props == nil {
		props = map[string]any{}
	}
	props["synced_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (m:Memory {id: $id})
SET m += $props
`, map[string]any{"id": id, "props": props})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "graph.upsert_node", err)
	}
	return nil
}

func (s *store) UpsertRelation(ctx context.Context, fromID, toID, relType string, props map[string]any) error {
	if fromID == "" || toID == "" {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "graph.upsert_relation", "missing endpoint id")
	}
	if !relTypeRe.MatchString(relType) {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "graph.upsert_relation",
			"invalid relation type %q", relType)
	}
	if props == nil {
		props = map[string]any{}
	}
	props["synced_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	// Relationship types cannot be parameterized; relType is validated above.
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (a:Memory {id: $from})
MERGE (b:Memory {id: $to})
MERGE (a)-[r:`+relType+`]->(b)
SET r += $props
`, map[string]any{"from": fromID, "to": toID, "props": props})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "graph.upsert_relation", err)
	}
	return nil
}

func (s *store) GetRelations(ctx context.Context, id, relType, direction string) ([]Relation, error) {
	if id == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "graph.get_relations", "missing node id")
	}
	typePart := ""
	if relType != "" {
		if !relTypeRe.MatchString(relType) {
			return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "graph.get_relations",
				"invalid relation type %q", relType)
		}
		typePart = ":" + relType
	}

	var pattern string
	switch direction {
	case "out":
		pattern = `(a:Memory {id: $id})-[r` + typePart + `]->(b:Memory)`
	case "in":
		pattern = `(a:Memory {id: $id})<-[r` + typePart + `]-(b:Memory)`
	case "", "both":
		pattern = `(a:Memory {id: $id})-[r` + typePart + `]-(b:Memory)`
	default:
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "graph.get_relations",
			"invalid direction %q", direction)
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH `+pattern+`
RETURN startNode(r).id AS from_id, endNode(r).id AS to_id, type(r) AS rel_type, properties(r) AS props
ORDER BY from_id, to_id, rel_type
`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		var rels []Relation
		for res.Next(ctx) {
			rec := res.Record()
			rel := Relation{}
			if v, ok := rec.Get("from_id"); ok {
				rel.FromID, _ = v.(string)
			}
			if v, ok := rec.Get("to_id"); ok {
				rel.ToID, _ = v.(string)
			}
			if v, ok := rec.Get("rel_type"); ok {
				rel.Type, _ = v.(string)
			}
			if v, ok := rec.Get("props"); ok {
				rel.Props, _ = v.(map[string]any)
			}
			rels = append(rels, rel)
		}
		return rels, res.Err()
	})
	if err != nil {
		return nil, ltmerr.New(ltmerr.KindInternal, "graph.get_relations", err)
	}
	return out.([]Relation), nil
}

func (s *store) TraverseChain(ctx context.Context, startID, relType string, maxDepth int) ([]string, error) {
	if startID == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "graph.traverse", "missing start id")
	}
	if !relTypeRe.MatchString(relType) {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "graph.traverse",
			"invalid relation type %q", relType)
	}
	if maxDepth <= 0 || maxDepth > 100 {
		maxDepth = 50
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH path = (start:Memory {id: $id})-[:`+relType+`*0..`+strconv.Itoa(maxDepth)+`]->(end:Memory)
WITH path ORDER BY length(path) DESC LIMIT 1
UNWIND nodes(path) AS n
RETURN n.id AS id
`, map[string]any{"id": startID})
		if err != nil {
			return nil, err
		}
		var ids []string
		for res.Next(ctx) {
			if v, ok := res.Record().Get("id"); ok {
				if id, ok := v.(string); ok {
					ids = append(ids, id)
				}
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, ltmerr.New(ltmerr.KindInternal, "graph.traverse", err)
	}
	return out.([]string), nil
}

func (s *store) DeleteNode(ctx context.Context, id string) error {
	if id == "" {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "graph.delete_node", "missing node id")
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (m:Memory {id: $id}) DETACH DELETE m`,
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "graph.delete_node", err)
	}
	return nil
}

func (s *store) ReadQuery(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if err := GuardReadOnly(cypher); err != nil {
		return nil, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for res.Next(ctx) {
			rec := res.Record()
			row := make(map[string]any, len(rec.Keys))
			for _, key := range rec.Keys {
				if v, ok := rec.Get(key); ok {
					row[key] = v
				}
			}
			rows = append(rows, row)
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, ltmerr.New(ltmerr.KindInternal, "graph.query", err)
	}
	return out.([]map[string]any), nil
}

func (s *store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
