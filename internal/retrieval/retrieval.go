// Package retrieval is the hybrid read path: ANN overfetch, relational
// hydration, weighted rerank, context assembly. Rank weights live in the
// database and are re-read on every request.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	goredis "github.com/contextkeep/ltmc/internal/clients/redis"
	"github.com/contextkeep/ltmc/internal/data/repos"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/embedding"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/breaker"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
	"github.com/contextkeep/ltmc/internal/syncer"
	"github.com/contextkeep/ltmc/internal/vector"
)

const (
	// DefaultOverfetch is the ANN fan-out multiplier before reranking.
	DefaultOverfetch = 4
	// DefaultContextBudget bounds the assembled context string, in runes.
	DefaultContextBudget = 4000
	// DefaultRecencyTau is the e-folding time of the recency term.
	DefaultRecencyTau = 7 * 24 * time.Hour

	contextDelimiter = "\n\n---\n\n"
	cacheTTL         = 5 * time.Minute
)

// Options tunes one retrieval request.
type Options struct {
	TopK           int
	TypeFilter     string
	ConversationID string
	SourceTool     string
}

// ScoredChunk is one reranked hit.
type ScoredChunk struct {
	ChunkID    int64   `json:"chunk_id"`
	ResourceID int64   `json:"resource_id"`
	FileName   string  `json:"file_name"`
	Type       string  `json:"resource_type"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`

	// vectorID is the deterministic final tie-break; only set on the
	// hybrid path.
	vectorID int64
}

// Result is what a retrieve call returns.
type Result struct {
	Chunks    []ScoredChunk `json:"chunks"`
	Context   string        `json:"context"`
	Degraded  bool          `json:"degraded"`
	MessageID int64         `json:"message_id,omitempty"`
	Cached    bool          `json:"cached,omitempty"`
}

type Service interface {
	Retrieve(ctx context.Context, query string, opts Options) (*Result, error)
	Weights(ctx context.Context) (*domain.RetrievalWeights, error)
	SetWeights(ctx context.Context, w *domain.RetrievalWeights) error
}

type Config struct {
	Overfetch     int
	ContextBudget int
	RecencyTau    time.Duration
}

func (c Config) normalized() Config {
	if c.Overfetch <= 0 {
		c.Overfetch = DefaultOverfetch
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = DefaultContextBudget
	}
	if c.RecencyTau <= 0 {
		c.RecencyTau = DefaultRecencyTau
	}
	return c
}

type service struct {
	embedder embedding.Engine
	index    vector.Index
	chunks   repos.ChunkRepo
	chat     repos.ChatRepo
	weights  repos.WeightsRepo
	cache    goredis.Cache
	vectorBr *breaker.Breaker
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

func NewService(
	embedder embedding.Engine,
	index vector.Index,
	chunks repos.ChunkRepo,
	chat repos.ChatRepo,
	weights repos.WeightsRepo,
	cache goredis.Cache,
	coord syncer.Coordinator,
	cfg Config,
	log *logger.Logger,
) Service {
	return &service{
		embedder: embedder,
		index:    index,
		chunks:   chunks,
		chat:     chat,
		weights:  weights,
		cache:    cache,
		vectorBr: coord.Breakers()[syncer.TierVector],
		cfg:      cfg.normalized(),
		log:      log.With("service", "RetrievalService"),
		now:      time.Now,
	}
}

func (s *service) Weights(ctx context.Context) (*domain.RetrievalWeights, error) {
	return s.weights.Get(dbctx.New(ctx))
}

func (s *service) SetWeights(ctx context.Context, w *domain.RetrievalWeights) error {
	if err := s.weights.Set(dbctx.New(ctx), w); err != nil {
		return err
	}
	// Cached results embed the old ordering.
	if s.cache != nil {
		if keys, err := s.cache.Keys(ctx, "retrieval:*"); err == nil {
			_ = s.cache.Del(ctx, keys...)
		}
	}
	return nil
}

func (s *service) Retrieve(ctx context.Context, query string, opts Options) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "memory.retrieve", "missing query")
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.TopK > 100 {
		opts.TopK = 100
	}

	// Conversation-linked requests always hit the live path so the logged
	// links match what was actually returned.
	cacheable := s.cache != nil && opts.ConversationID == ""
	cacheKey := retrievalCacheKey(query, opts)
	if cacheable {
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cached Result
			if json.Unmarshal([]byte(raw), &cached) == nil {
				cached.Cached = true
				return &cached, nil
			}
		}
	}

	w, err := s.weights.Get(dbctx.New(ctx))
	if err != nil {
		return nil, err
	}

	result, err := s.retrieveHybrid(ctx, query, opts, w)
	if err != nil {
		s.log.Warn("hybrid retrieval failed, serving recency-only", "error", err)
		result, err = s.retrieveRecency(ctx, opts)
		if err != nil {
			return nil, err
		}
	}

	if len(result.Chunks) > 0 {
		ids := make([]int64, len(result.Chunks))
		for i, c := range result.Chunks {
			ids[i] = c.ChunkID
		}
		if err := s.chunks.MarkRetrieved(dbctx.New(ctx), ids); err != nil {
			s.log.Warn("usage counter update failed", "error", err)
		}

		if opts.ConversationID != "" {
			if msgID, err := s.logConversation(ctx, query, opts, ids); err != nil {
				s.log.Warn("conversation logging failed", "error", err)
			} else {
				result.MessageID = msgID
			}
		}
	}

	if cacheable && !result.Degraded {
		if raw, err := json.Marshal(result); err == nil {
			_ = s.cache.SetEx(ctx, cacheKey, string(raw), cacheTTL)
		}
	}

	return result, nil
}

func (s *service) retrieveHybrid(ctx context.Context, query string, opts Options, w *domain.RetrievalWeights) (*Result, error) {
	if !s.vectorBr.Allow() {
		return nil, fmt.Errorf("vector tier circuit open")
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, queryVec, opts.TopK*s.cfg.Overfetch)
	if err != nil {
		s.vectorBr.Failure()
		return nil, err
	}
	s.vectorBr.Success()

	if len(hits) == 0 {
		return &Result{Chunks: []ScoredChunk{}}, nil
	}

	simByVID := make(map[int64]float64, len(hits))
	vids := make([]int64, len(hits))
	for i, h := range hits {
		vids[i] = h.VectorID
		simByVID[h.VectorID] = h.Score
	}

	rows, err := s.chunks.GetByVectorIDs(dbctx.New(ctx), vids)
	if err != nil {
		return nil, err
	}

	scored := s.rerank(rows, simByVID, opts, s.sessionMode(ctx, opts.ConversationID), w)
	if len(scored) > opts.TopK {
		scored = scored[:opts.TopK]
	}

	return &Result{
		Chunks:  scored,
		Context: s.assembleContext(scored),
	}, nil
}

// retrieveRecency is the β-only degraded path: newest matching chunks, no
// embedding, no ANN.
func (s *service) retrieveRecency(ctx context.Context, opts Options) (*Result, error) {
	rows, err := s.chunks.ListRecent(dbctx.New(ctx), opts.TypeFilter, opts.TopK)
	if err != nil {
		return nil, err
	}
	scored := make([]ScoredChunk, 0, len(rows))
	for _, row := range rows {
		scored = append(scored, ScoredChunk{
			ChunkID:    row.ID,
			ResourceID: row.ResourceID,
			FileName:   row.FileName,
			Type:       row.ResourceType,
			Text:       row.Text,
			Score:      s.recency(row.CreatedAt),
		})
	}
	return &Result{
		Chunks:   scored,
		Context:  s.assembleContext(scored),
		Degraded: true,
	}, nil
}

// sessionMode is the dominant resource type among the conversation's most
// recently linked chunks; empty when there is no conversation or no history.
func (s *service) sessionMode(ctx context.Context, conversationID string) string {
	if conversationID == "" || s.chat == nil {
		return ""
	}
	types, err := s.chat.RecentContextTypes(dbctx.New(ctx), conversationID, 20)
	if err != nil {
		s.log.Warn("session mode lookup failed", "conversation_id", conversationID, "error", err)
		return ""
	}
	counts := make(map[string]int, len(types))
	mode := ""
	for _, t := range types {
		counts[t]++
		if mode == "" || counts[t] > counts[mode] {
			mode = t
		}
	}
	return mode
}

func (s *service) rerank(rows []*repos.ChunkRow, simByVID map[int64]float64, opts Options, sessionType string, w *domain.RetrievalWeights) []ScoredChunk {
	// Normalizer for the frequency term.
	var maxFreq float64
	for _, row := range rows {
		if f := math.Log1p(float64(row.RetrievedCount)); f > maxFreq {
			maxFreq = f
		}
	}

	scored := make([]ScoredChunk, 0, len(rows))
	for _, row := range rows {
		if row.Archived {
			continue
		}
		if opts.TypeFilter != "" && row.ResourceType != opts.TypeFilter {
			continue
		}
		if row.VectorID == nil {
			continue
		}
		sim := simByVID[*row.VectorID]

		freq := 0.0
		if maxFreq > 0 {
			freq = math.Log1p(float64(row.RetrievedCount)) / maxFreq
		}

		// type_boost follows the session's recent usage mode, not the
		// explicit filter (filtered-out rows never reach this point).
		typeBoost := 0.0
		if sessionType != "" && row.ResourceType == sessionType {
			typeBoost = 1.0
		}

		score := w.Alpha*sim +
			w.Beta*s.recency(row.CreatedAt) +
			w.Gamma*freq +
			w.Delta*lengthBoost(len([]rune(row.Text))) +
			w.Epsilon*typeBoost

		scored = append(scored, ScoredChunk{
			ChunkID:    row.ID,
			ResourceID: row.ResourceID,
			FileName:   row.FileName,
			Type:       row.ResourceType,
			Text:       row.Text,
			Score:      score,
			Similarity: sim,
			vectorID:   *row.VectorID,
		})
	}

	// Ties break on higher similarity, then lower vector id.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].vectorID < scored[j].vectorID
	})
	return scored
}

func (s *service) recency(createdAt time.Time) float64 {
	age := s.now().Sub(createdAt).Seconds()
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / s.cfg.RecencyTau.Seconds())
}

// lengthBoost saturates toward 1 for mid-length chunks and penalizes
// fragments; very long chunks plateau rather than win on bulk.
func lengthBoost(runes int) float64 {
	const ideal = 600.0
	x := float64(runes) / ideal
	if x > 1 {
		x = 1 + (x-1)*0.1
	}
	return math.Exp(-math.Abs(math.Log(math.Max(x, 1e-9))))
}

func (s *service) assembleContext(chunks []ScoredChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	budget := s.cfg.ContextBudget
	for i, c := range chunks {
		piece := fmt.Sprintf("[%s]\n%s", c.FileName, c.Text)
		if i > 0 {
			piece = contextDelimiter + piece
		}
		runes := []rune(piece)
		if b.Len() == 0 && len(runes) > budget {
			b.WriteString(string(runes[:budget]))
			break
		}
		if len([]rune(b.String()))+len(runes) > budget {
			break
		}
		b.WriteString(piece)
	}
	return b.String()
}

func (s *service) logConversation(ctx context.Context, query string, opts Options, chunkIDs []int64) (int64, error) {
	dbc := dbctx.New(ctx)
	msg := &domain.ChatMessage{
		ConversationID: opts.ConversationID,
		Role:           domain.RoleUser,
		Content:        query,
		SourceTool:     opts.SourceTool,
	}
	if err := s.chat.CreateMessage(dbc, msg); err != nil {
		return 0, err
	}
	if _, err := s.chat.AddContextLinks(dbc, msg.ID, chunkIDs); err != nil {
		return msg.ID, err
	}
	return msg.ID, nil
}

func retrievalCacheKey(query string, opts Options) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", query, opts.TopK, opts.TypeFilter)))
	return "retrieval:" + hex.EncodeToString(sum[:16])
}
