// Package thought is the sequential reasoning engine. Every thought is a
// regular resource of type "thought", so it rides the full ingestion path and
// is searchable like any document; ULIDs give time-ordered ids, SHA-256
// hashes make tampering detectable, and NEXT edges in the graph tier record
// the chain.
package thought

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	goredis "github.com/contextkeep/ltmc/internal/clients/redis"
	"github.com/contextkeep/ltmc/internal/data/graph"
	"github.com/contextkeep/ltmc/internal/data/repos"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/memory"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
	"github.com/contextkeep/ltmc/internal/retrieval"
)

// slaTarget is the create-path latency budget.
const slaTarget = 100 * time.Millisecond

// CreateRequest is one new thought.
type CreateRequest struct {
	SessionID         string         `json:"session_id"`
	Content           string         `json:"content"`
	Kind              string         `json:"kind"`
	PreviousThoughtID string         `json:"previous_thought_id,omitempty"`
	StepNumber        int            `json:"step_number,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Node is a thought as returned to callers.
type Node struct {
	ULID              string    `json:"ulid"`
	SessionID         string    `json:"session_id"`
	Kind              string    `json:"kind"`
	StepNumber        int       `json:"step_number"`
	PreviousThoughtID string    `json:"previous_thought_id,omitempty"`
	Content           string    `json:"content"`
	ContentHash       string    `json:"content_hash"`
	CreatedAt         time.Time `json:"created_at"`
}

// CreateResult reports what the create reached and how fast.
type CreateResult struct {
	Node              *Node    `json:"node"`
	DatabasesAffected []string `json:"databases_affected"`
	ExecutionTimeMs   float64  `json:"execution_time_ms"`
	SLACompliant      bool     `json:"sla_compliant"`
}

// ChainAnalysis summarizes one session's reasoning chain.
type ChainAnalysis struct {
	SessionID            string         `json:"session_id"`
	ChainLength          int            `json:"chain_length"`
	Thoughts             []*Node        `json:"thoughts"`
	KindCounts           map[string]int `json:"kind_counts"`
	AvgContentLength     float64        `json:"avg_content_length"`
	HasProblemDefinition bool           `json:"has_problem_definition"`
	HasConclusion        bool           `json:"has_conclusion"`
	CoherenceScore       float64        `json:"coherence_score"`
}

// SimilarThought is one find_similar hit.
type SimilarThought struct {
	Node    *Node          `json:"node"`
	Score   float64        `json:"score"`
	Preview string         `json:"session_preview"`
	Chain   *ChainAnalysis `json:"chain,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	AnalyzeChain(ctx context.Context, sessionID string) (*ChainAnalysis, error)
	FindSimilar(ctx context.Context, query string, k int, includeChains bool) ([]*SimilarThought, error)
}

type service struct {
	docs      memory.Service
	retriever retrieval.Service
	resources repos.ResourceRepo
	graph     graph.Store
	cache     goredis.Cache
	log       *logger.Logger
	now       func() time.Time
}

func NewService(
	docs memory.Service,
	retriever retrieval.Service,
	resources repos.ResourceRepo,
	gs graph.Store,
	cache goredis.Cache,
	log *logger.Logger,
) Service {
	return &service{
		docs:      docs,
		retriever: retriever,
		resources: resources,
		graph:     gs,
		cache:     cache,
		log:       log.With("service", "ThoughtService"),
		now:       time.Now,
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	started := s.now()

	if req.SessionID == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "thought.create", "missing session_id")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "thought.create", "missing content")
	}
	switch req.Kind {
	case "":
		req.Kind = domain.ThoughtKindIntermediate
	case domain.ThoughtKindProblem, domain.ThoughtKindIntermediate, domain.ThoughtKindConclusion:
	default:
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "thought.create", "invalid kind %q", req.Kind)
	}

	id := ulid.MustNew(ulid.Timestamp(started), rand.Reader).String()
	hash := sha256.Sum256([]byte(req.Content))
	contentHash := hex.EncodeToString(hash[:])

	step, prevHead, err := s.resolveStep(ctx, req)
	if err != nil {
		return nil, err
	}

	meta := domain.ThoughtMeta{
		SessionID:         req.SessionID,
		StepNumber:        step,
		Kind:              req.Kind,
		PreviousThoughtID: req.PreviousThoughtID,
		ContentHash:       contentHash,
		ULID:              id,
	}
	metaMap := map[string]any{
		"session_id":   meta.SessionID,
		"step_number":  meta.StepNumber,
		"kind":         meta.Kind,
		"content_hash": meta.ContentHash,
		"ulid":         meta.ULID,
	}
	if meta.PreviousThoughtID != "" {
		metaMap["previous_thought_id"] = meta.PreviousThoughtID
	}
	for k, v := range req.Metadata {
		if _, reserved := metaMap[k]; !reserved {
			metaMap[k] = v
		}
	}

	stored, err := s.docs.StoreDocument(ctx, thoughtFileName(req.SessionID, id),
		req.Content, domain.ResourceTypeThought, metaMap, false)
	if err != nil {
		return nil, err
	}

	affected := []string{"sqlite"}
	degraded := map[string]bool{}
	for _, tier := range stored.Degraded {
		degraded[tier] = true
	}
	if !degraded["vector"] {
		affected = append(affected, "vector")
	}

	if s.graph != nil && req.PreviousThoughtID != "" {
		if err := s.graph.UpsertRelation(ctx, req.PreviousThoughtID, id,
			domain.RelationNext, map[string]any{"session_id": req.SessionID}); err != nil {
			s.log.Warn("NEXT edge write failed", "session_id", req.SessionID, "error", err)
		} else {
			affected = append(affected, "graph")
		}
	}

	if s.cache != nil {
		if err := s.cache.AdvanceHead(ctx, req.SessionID, prevHead, headValue(id, step)); err != nil {
			s.log.Warn("session head update failed", "session_id", req.SessionID, "error", err)
		} else {
			affected = append(affected, "cache")
		}
	}

	elapsed := s.now().Sub(started)
	return &CreateResult{
		Node: &Node{
			ULID:              id,
			SessionID:         req.SessionID,
			Kind:              req.Kind,
			StepNumber:        step,
			PreviousThoughtID: req.PreviousThoughtID,
			Content:           req.Content,
			ContentHash:       contentHash,
			CreatedAt:         started.UTC(),
		},
		DatabasesAffected: affected,
		ExecutionTimeMs:   float64(elapsed.Microseconds()) / 1000,
		SLACompliant:      elapsed <= slaTarget,
	}, nil
}

// resolveStep determines the new step number from the cached head, falling
// back to the relational tier, and validates it against previous_thought_id.
func (s *service) resolveStep(ctx context.Context, req CreateRequest) (step int, prevHead string, err error) {
	headULID, headStep := "", 0
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, "session:"+req.SessionID+":head"); err == nil {
			headULID, headStep = parseHeadValue(raw)
			prevHead = raw
		}
	}
	if headULID == "" {
		rows, err := s.resources.ListThoughts(dbctx.New(ctx), req.SessionID)
		if err != nil {
			return 0, "", err
		}
		if len(rows) > 0 {
			meta, err := parseMeta(rows[len(rows)-1])
			if err != nil {
				return 0, "", err
			}
			headULID, headStep = meta.ULID, meta.StepNumber
		}
	}

	if req.PreviousThoughtID != "" && headULID != "" && req.PreviousThoughtID != headULID {
		return 0, "", ltmerr.Newf(ltmerr.KindInvalidParams, "thought.create",
			"previous_thought_id %s is not the session head %s", req.PreviousThoughtID, headULID)
	}

	step = headStep + 1
	if req.StepNumber > 0 {
		if headULID != "" && req.StepNumber != headStep+1 {
			return 0, "", ltmerr.Newf(ltmerr.KindInvalidParams, "thought.create",
				"step_number %d does not follow head step %d", req.StepNumber, headStep)
		}
		step = req.StepNumber
	}
	return step, prevHead, nil
}

func (s *service) AnalyzeChain(ctx context.Context, sessionID string) (*ChainAnalysis, error) {
	if sessionID == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "thought.analyze", "missing session_id")
	}

	rows, err := s.resources.ListThoughts(dbctx.New(ctx), sessionID)
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(rows))
	for _, row := range rows {
		node, err := toNode(row)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	// Graph order wins when the tier is up and agrees on membership.
	if s.graph != nil && len(nodes) > 1 {
		if ordered, err := s.graph.TraverseChain(ctx, nodes[0].ULID, domain.RelationNext, len(nodes)); err == nil && len(ordered) == len(nodes) {
			byULID := make(map[string]*Node, len(nodes))
			for _, n := range nodes {
				byULID[n.ULID] = n
			}
			reordered := make([]*Node, 0, len(nodes))
			for _, id := range ordered {
				if n, ok := byULID[id]; ok {
					reordered = append(reordered, n)
				}
			}
			if len(reordered) == len(nodes) {
				nodes = reordered
			}
		}
	}

	return analyze(sessionID, nodes), nil
}

func (s *service) FindSimilar(ctx context.Context, query string, k int, includeChains bool) ([]*SimilarThought, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "thought.find_similar", "missing query")
	}
	if k <= 0 {
		k = 5
	}

	res, err := s.retriever.Retrieve(ctx, query, retrieval.Options{
		TopK:       k,
		TypeFilter: domain.ResourceTypeThought,
	})
	if err != nil {
		return nil, err
	}

	dbc := dbctx.New(ctx)
	chains := make(map[string]*ChainAnalysis)
	out := make([]*SimilarThought, 0, len(res.Chunks))
	for _, hit := range res.Chunks {
		row, err := s.resources.GetByID(dbc, hit.ResourceID)
		if err != nil {
			return nil, err
		}
		node, err := toNode(row)
		if err != nil {
			return nil, err
		}

		st := &SimilarThought{
			Node:    node,
			Score:   hit.Score,
			Preview: preview(node.Content),
		}
		if includeChains {
			chain, ok := chains[node.SessionID]
			if !ok {
				chain, err = s.AnalyzeChain(ctx, node.SessionID)
				if err != nil {
					return nil, err
				}
				chains[node.SessionID] = chain
			}
			st.Chain = chain
		}
		out = append(out, st)
	}
	return out, nil
}

// toNode converts a thought resource, verifying its content hash on the way
// out. A mismatch means the row was altered outside the engine.
func toNode(row *domain.Resource) (*Node, error) {
	meta, err := parseMeta(row)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(row.Content))
	if got := hex.EncodeToString(sum[:]); got != meta.ContentHash {
		return nil, ltmerr.Newf(ltmerr.KindIntegrityError, "thought.read",
			"content hash mismatch for thought %s", meta.ULID)
	}
	return &Node{
		ULID:              meta.ULID,
		SessionID:         meta.SessionID,
		Kind:              meta.Kind,
		StepNumber:        meta.StepNumber,
		PreviousThoughtID: meta.PreviousThoughtID,
		Content:           row.Content,
		ContentHash:       meta.ContentHash,
		CreatedAt:         row.CreatedAt,
	}, nil
}

func parseMeta(row *domain.Resource) (*domain.ThoughtMeta, error) {
	var meta domain.ThoughtMeta
	if err := json.Unmarshal(row.Metadata, &meta); err != nil {
		return nil, ltmerr.Newf(ltmerr.KindIntegrityError, "thought.read",
			"resource %d has malformed thought metadata", row.ID)
	}
	return &meta, nil
}

func analyze(sessionID string, nodes []*Node) *ChainAnalysis {
	a := &ChainAnalysis{
		SessionID:   sessionID,
		ChainLength: len(nodes),
		Thoughts:    nodes,
		KindCounts:  map[string]int{},
	}
	if len(nodes) == 0 {
		return a
	}

	var totalLen int
	monotone := true
	for i, n := range nodes {
		a.KindCounts[n.Kind]++
		totalLen += len([]rune(n.Content))
		if i > 0 && n.StepNumber != nodes[i-1].StepNumber+1 {
			monotone = false
		}
	}
	a.AvgContentLength = float64(totalLen) / float64(len(nodes))
	a.HasProblemDefinition = a.KindCounts[domain.ThoughtKindProblem] > 0
	a.HasConclusion = a.KindCounts[domain.ThoughtKindConclusion] > 0

	score := 0.0
	if a.HasProblemDefinition {
		score += 0.35
	}
	if a.HasConclusion {
		score += 0.35
	}
	if monotone {
		score += 0.2
	}
	if a.AvgContentLength >= 10 {
		score += 0.1
	}
	a.CoherenceScore = score
	return a
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= 120 {
		return content
	}
	return string(runes[:120]) + "…"
}

func thoughtFileName(sessionID, id string) string {
	return fmt.Sprintf("thought/%s/%s", sessionID, id)
}

func headValue(id string, step int) string {
	return id + ":" + strconv.Itoa(step)
}

func parseHeadValue(raw string) (string, int) {
	i := strings.LastIndexByte(raw, ':')
	if i < 0 {
		return raw, 0
	}
	step, err := strconv.Atoi(raw[i+1:])
	if err != nil {
		return raw[:i], 0
	}
	return raw[:i], step
}
