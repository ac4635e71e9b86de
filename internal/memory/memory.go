// Package memory is the document-level surface over the coordinated store:
// one call chunks, persists and fans out, and one call reports the health of
// every tier.
package memory

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/contextkeep/ltmc/internal/consistency"
	"github.com/contextkeep/ltmc/internal/data/repos"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/ingestion/chunker"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
	"github.com/contextkeep/ltmc/internal/syncer"
	"github.com/contextkeep/ltmc/internal/vector"
)

// Document is a resource with its chunks, as returned to callers.
type Document struct {
	Resource *domain.Resource        `json:"resource"`
	Chunks   []*domain.ResourceChunk `json:"chunks"`
}

// Health is the full multi-tier status snapshot.
type Health struct {
	Status      string              `json:"status"`
	Tiers       map[string]string   `json:"tiers"`
	Degraded    []string            `json:"degraded,omitempty"`
	Resources   int64               `json:"resources"`
	Vector      *vector.Stats       `json:"vector,omitempty"`
	RepairQueue *repos.RepairCounts `json:"repair_queue,omitempty"`
	DriftScore  float64             `json:"drift_score"`
}

type Service interface {
	// StoreDocument ingests a document. With replace set, an existing
	// resource under the same file name is deleted first; without it a
	// duplicate name is AlreadyExists.
	StoreDocument(ctx context.Context, fileName, content, resourceType string, metadata map[string]any, replace bool) (*syncer.StoreResult, error)
	GetDocument(ctx context.Context, fileName string) (*Document, error)
	DeleteDocument(ctx context.Context, fileName string) (*syncer.DeleteResult, error)
	Health(ctx context.Context) (*Health, error)
}

type service struct {
	coord       syncer.Coordinator
	consistency consistency.Manager
	resources   repos.ResourceRepo
	chunks      repos.ChunkRepo
	index       vector.Index
	chunkOpts   chunker.Options
	log         *logger.Logger
}

func NewService(
	coord syncer.Coordinator,
	cons consistency.Manager,
	resources repos.ResourceRepo,
	chunks repos.ChunkRepo,
	index vector.Index,
	chunkOpts chunker.Options,
	log *logger.Logger,
) Service {
	return &service{
		coord:       coord,
		consistency: cons,
		resources:   resources,
		chunks:      chunks,
		index:       index,
		chunkOpts:   chunkOpts,
		log:         log.With("service", "MemoryService"),
	}
}

func (s *service) StoreDocument(ctx context.Context, fileName, content, resourceType string, metadata map[string]any, replace bool) (*syncer.StoreResult, error) {
	if fileName == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "memory.store", "missing file_name")
	}
	if content == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "memory.store", "missing content")
	}
	if resourceType == "" {
		resourceType = domain.ResourceTypeDocument
	}

	texts := chunker.Split(content, s.chunkOpts)
	if len(texts) == 0 {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "memory.store", "content is empty after chunking")
	}

	if replace {
		if _, err := s.coord.DeleteResource(ctx, fileName); err != nil &&
			ltmerr.KindOf(err) != ltmerr.KindNotFound {
			return nil, err
		}
	}

	res := &domain.Resource{
		FileName: fileName,
		Type:     resourceType,
		Content:  content,
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, ltmerr.New(ltmerr.KindInvalidParams, "memory.store", err)
		}
		res.Metadata = datatypes.JSON(raw)
	}

	result, err := s.coord.StoreResource(ctx, res, texts)
	if err != nil {
		return nil, err
	}
	s.log.Info("document stored",
		"file_name", fileName, "chunks", len(result.ChunkIDs), "degraded", result.Degraded)
	return result, nil
}

func (s *service) GetDocument(ctx context.Context, fileName string) (*Document, error) {
	if fileName == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "memory.get", "missing file_name")
	}
	dbc := dbctx.New(ctx)
	res, err := s.resources.GetByFileName(dbc, fileName)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunks.ListByResource(dbc, res.ID)
	if err != nil {
		return nil, err
	}
	return &Document{Resource: res, Chunks: chunks}, nil
}

func (s *service) DeleteDocument(ctx context.Context, fileName string) (*syncer.DeleteResult, error) {
	result, err := s.coord.DeleteResource(ctx, fileName)
	if err != nil {
		return nil, err
	}
	s.log.Info("document deleted", "file_name", fileName, "chunks", result.ChunksRemoved)
	return result, nil
}

func (s *service) Health(ctx context.Context) (*Health, error) {
	h := &Health{
		Status: "ok",
		Tiers:  s.coord.TierStates(),
	}
	for tier, state := range h.Tiers {
		if state == "open" || state == "half_open" {
			h.Degraded = append(h.Degraded, tier)
		}
	}
	if len(h.Degraded) > 0 {
		h.Status = "degraded"
	}

	count, err := s.resources.Count(dbctx.New(ctx))
	if err != nil {
		return nil, err
	}
	h.Resources = count

	if stats, err := s.index.Stats(ctx); err == nil {
		h.Vector = stats
	} else {
		s.log.Warn("vector stats unavailable", "error", err)
	}

	if counts, err := s.consistency.QueueCounts(ctx); err == nil {
		h.RepairQueue = counts
	} else {
		s.log.Warn("repair counts unavailable", "error", err)
	}

	if drift, err := s.consistency.DriftScore(ctx); err == nil {
		h.DriftScore = drift
	} else {
		s.log.Warn("drift score unavailable", "error", err)
	}

	return h, nil
}
