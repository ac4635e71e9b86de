// Package syncer coordinates writes across the four storage tiers. SQLite
// commits first and is the only hard dependency; the vector, graph and cache
// tiers are applied afterwards behind circuit breakers, and a vector failure
// lands in the durable repair queue instead of failing the write.
package syncer

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	goredis "github.com/contextkeep/ltmc/internal/clients/redis"
	"github.com/contextkeep/ltmc/internal/data/graph"
	"github.com/contextkeep/ltmc/internal/data/repos"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/embedding"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/breaker"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
	"github.com/contextkeep/ltmc/internal/vector"
)

// Tier names as they appear in health output and degraded lists.
const (
	TierSQLite = "sqlite"
	TierVector = "vector"
	TierGraph  = "graph"
	TierCache  = "cache"
)

// StoreResult reports what a coordinated write actually reached.
type StoreResult struct {
	ResourceID int64    `json:"resource_id"`
	ChunkIDs   []int64  `json:"chunk_ids"`
	VectorIDs  []int64  `json:"vector_ids"`
	Degraded   []string `json:"degraded,omitempty"`
}

// DeleteResult mirrors StoreResult for removals.
type DeleteResult struct {
	ResourceID    int64    `json:"resource_id"`
	ChunksRemoved int      `json:"chunks_removed"`
	Degraded      []string `json:"degraded,omitempty"`
}

type Coordinator interface {
	StoreResource(ctx context.Context, res *domain.Resource, chunkTexts []string) (*StoreResult, error)
	DeleteResource(ctx context.Context, fileName string) (*DeleteResult, error)

	// SyncVectors pushes already-persisted chunks into the ANN tier; the
	// repair loop and the sync tool both go through here.
	SyncVectors(ctx context.Context, chunks []*domain.ResourceChunk) error

	GraphStore() graph.Store
	Cache() goredis.Cache
	Breakers() map[string]*breaker.Breaker
	TierStates() map[string]string
}

type coordinator struct {
	db        *gorm.DB
	resources repos.ResourceRepo
	chunks    repos.ChunkRepo
	repairs   repos.RepairRepo
	index     vector.Index
	graph     graph.Store
	cache     goredis.Cache
	embedder  embedding.Engine
	breakers  map[string]*breaker.Breaker
	log       *logger.Logger
}

type Deps struct {
	DB        *gorm.DB
	Resources repos.ResourceRepo
	Chunks    repos.ChunkRepo
	Repairs   repos.RepairRepo
	Index     vector.Index
	Graph     graph.Store // nil when the graph tier is not configured
	Cache     goredis.Cache
	Embedder  embedding.Engine
	Log       *logger.Logger

	// Breaker tuning; zero values take the package defaults.
	FailLimit int
	CoolDown  time.Duration
}

func NewCoordinator(d Deps) Coordinator {
	return &coordinator{
		db:        d.DB,
		resources: d.Resources,
		chunks:    d.Chunks,
		repairs:   d.Repairs,
		index:     d.Index,
		graph:     d.Graph,
		cache:     d.Cache,
		embedder:  d.Embedder,
		breakers: map[string]*breaker.Breaker{
			TierVector: breaker.New(TierVector, d.FailLimit, d.CoolDown),
			TierGraph:  breaker.New(TierGraph, d.FailLimit, d.CoolDown),
			TierCache:  breaker.New(TierCache, d.FailLimit, d.CoolDown),
		},
		log: d.Log.With("service", "SyncCoordinator"),
	}
}

func (c *coordinator) GraphStore() graph.Store { return c.graph }

func (c *coordinator) Cache() goredis.Cache { return c.cache }

func (c *coordinator) Breakers() map[string]*breaker.Breaker { return c.breakers }

func (c *coordinator) TierStates() map[string]string {
	out := map[string]string{TierSQLite: "required"}
	for name, b := range c.breakers {
		out[name] = string(b.State())
	}
	if c.graph == nil {
		out[TierGraph] = "disabled"
	}
	if c.cache == nil {
		out[TierCache] = "disabled"
	}
	return out
}

// StoreResource runs the write in tier order. The relational transaction
// commits before any other tier is touched, so a crash at any later point
// leaves a repairable state, never a lost document.
func (c *coordinator) StoreResource(ctx context.Context, res *domain.Resource, chunkTexts []string) (*StoreResult, error) {
	if res == nil || res.FileName == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "sync.store", "missing file_name")
	}
	if len(chunkTexts) == 0 {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "sync.store", "no chunks to store")
	}

	var chunks []*domain.ResourceChunk
	var vectorIDs []int64

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		if err := c.resources.Create(dbc, res); err != nil {
			return err
		}
		ids, err := c.resources.NextVectorIDs(dbc, len(chunkTexts))
		if err != nil {
			return err
		}
		chunks = make([]*domain.ResourceChunk, len(chunkTexts))
		vectorIDs = ids
		for i, text := range chunkTexts {
			vid := ids[i]
			chunks[i] = &domain.ResourceChunk{
				ResourceID: res.ID,
				ChunkIndex: i,
				Text:       text,
				VectorID:   &vid,
			}
		}
		return c.chunks.CreateBatch(dbc, chunks)
	})
	if err != nil {
		return nil, err
	}

	result := &StoreResult{
		ResourceID: res.ID,
		ChunkIDs:   make([]int64, len(chunks)),
		VectorIDs:  vectorIDs,
	}
	for i, ch := range chunks {
		result.ChunkIDs[i] = ch.ID
	}

	// Vector tier. Failure is absorbed into the repair queue.
	if err := c.tierCall(ctx, TierVector, func(ctx context.Context) error {
		return c.SyncVectors(ctx, chunks)
	}); err != nil {
		c.log.Warn("vector tier write failed, queued for repair",
			"resource_id", res.ID, "error", err)
		c.enqueueRepairs(ctx, res.ID, chunks, err)
		result.Degraded = append(result.Degraded, TierVector)
	}

	// Graph tier, best-effort.
	if c.graph != nil {
		if err := c.tierCall(ctx, TierGraph, func(ctx context.Context) error {
			return c.graph.UpsertNode(ctx, res.FileName, map[string]any{
				"kind":        res.Type,
				"chunk_count": int64(len(chunks)),
				"created_at":  res.CreatedAt.Format(time.RFC3339Nano),
			})
		}); err != nil {
			c.log.Warn("graph tier write failed", "resource_id", res.ID, "error", err)
			result.Degraded = append(result.Degraded, TierGraph)
		}
	}

	// Cache tier: drop anything derived from this resource.
	if c.cache != nil {
		if err := c.tierCall(ctx, TierCache, func(ctx context.Context) error {
			return c.invalidateResource(ctx, res.FileName)
		}); err != nil {
			c.log.Warn("cache invalidation failed", "resource_id", res.ID, "error", err)
			result.Degraded = append(result.Degraded, TierCache)
		}
	}

	return result, nil
}

// DeleteResource removes in mirror order: cache invalidate, graph detach,
// vector tombstone, then the relational delete last. Vector slots are
// tombstoned, never reassigned.
func (c *coordinator) DeleteResource(ctx context.Context, fileName string) (*DeleteResult, error) {
	if fileName == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "sync.delete", "missing file_name")
	}

	dbc := dbctx.New(ctx)
	res, err := c.resources.GetByFileName(dbc, fileName)
	if err != nil {
		return nil, err
	}
	chunks, err := c.chunks.ListByResource(dbc, res.ID)
	if err != nil {
		return nil, err
	}

	vectorIDs := make([]int64, 0, len(chunks))
	chunkIDs := make([]int64, 0, len(chunks))
	for _, ch := range chunks {
		chunkIDs = append(chunkIDs, ch.ID)
		if ch.VectorID != nil {
			vectorIDs = append(vectorIDs, *ch.VectorID)
		}
	}

	result := &DeleteResult{ResourceID: res.ID, ChunksRemoved: len(chunks)}

	if c.cache != nil {
		if err := c.tierCall(ctx, TierCache, func(ctx context.Context) error {
			return c.invalidateResource(ctx, fileName)
		}); err != nil {
			c.log.Warn("cache invalidation failed", "resource_id", res.ID, "error", err)
			result.Degraded = append(result.Degraded, TierCache)
		}
	}

	if c.graph != nil {
		if err := c.tierCall(ctx, TierGraph, func(ctx context.Context) error {
			return c.graph.DeleteNode(ctx, fileName)
		}); err != nil {
			c.log.Warn("graph tier delete failed", "resource_id", res.ID, "error", err)
			result.Degraded = append(result.Degraded, TierGraph)
		}
	}

	if err := c.tierCall(ctx, TierVector, func(ctx context.Context) error {
		return c.index.Delete(ctx, vectorIDs)
	}); err != nil {
		c.log.Warn("vector tier delete failed", "resource_id", res.ID, "error", err)
		result.Degraded = append(result.Degraded, TierVector)
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		if err := c.chunks.DeleteByResource(txc, res.ID); err != nil {
			return err
		}
		if err := c.repairs.RemoveByChunkIDs(txc, chunkIDs); err != nil {
			return err
		}
		return c.resources.Delete(txc, res.ID)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *coordinator) SyncVectors(ctx context.Context, chunks []*domain.ResourceChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	vids := make([]int64, len(chunks))
	for i, ch := range chunks {
		if ch.VectorID == nil {
			return ltmerr.Newf(ltmerr.KindIntegrityError, "sync.vectors",
				"chunk %d has no vector id", ch.ID)
		}
		texts[i] = ch.Text
		vids[i] = *ch.VectorID
	}
	embeddings, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	return c.index.AddBatch(ctx, vids, embeddings)
}

// tierCall runs fn through the tier's breaker with bounded retry. An open
// breaker fails immediately without touching the tier.
func (c *coordinator) tierCall(ctx context.Context, tier string, fn func(ctx context.Context) error) error {
	b := c.breakers[tier]
	if !b.Allow() {
		return fmt.Errorf("%s tier circuit open", tier)
	}

	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				b.Failure()
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = fn(ctx); err == nil {
			b.Success()
			return nil
		}
	}
	b.Failure()
	return err
}

func (c *coordinator) enqueueRepairs(ctx context.Context, resourceID int64, chunks []*domain.ResourceChunk, cause error) {
	entries := make([]*domain.RepairEntry, 0, len(chunks))
	for _, ch := range chunks {
		if ch.VectorID == nil {
			continue
		}
		entries = append(entries, &domain.RepairEntry{
			ResourceID: resourceID,
			ChunkID:    ch.ID,
			VectorID:   *ch.VectorID,
			Text:       ch.Text,
			LastError:  cause.Error(),
		})
	}
	if err := c.repairs.Enqueue(dbctx.New(ctx), entries); err != nil {
		c.log.Error("repair enqueue failed; chunks will surface via verify",
			"resource_id", resourceID, "error", err)
	}
}

func (c *coordinator) invalidateResource(ctx context.Context, fileName string) error {
	keys, err := c.cache.Keys(ctx, "retrieval:*")
	if err != nil {
		return err
	}
	keys = append(keys, "resource:"+fileName)
	return c.cache.Del(ctx, keys...)
}
