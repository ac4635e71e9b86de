package repos

import (
	"time"

	"gorm.io/gorm"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

// ChunkRow is a chunk hydrated with its owning resource's name and type,
// which is what the retriever reranks on.
type ChunkRow struct {
	domain.ResourceChunk
	FileName     string `gorm:"column:file_name" json:"file_name"`
	ResourceType string `gorm:"column:resource_type" json:"resource_type"`
}

type ChunkRepo interface {
	CreateBatch(dbc dbctx.Context, rows []*domain.ResourceChunk) error
	GetByID(dbc dbctx.Context, id int64) (*domain.ResourceChunk, error)
	ListByResource(dbc dbctx.Context, resourceID int64) ([]*domain.ResourceChunk, error)
	DeleteByResource(dbc dbctx.Context, resourceID int64) error
	ArchiveByResource(dbc dbctx.Context, resourceID int64) error

	// GetByVectorIDs hydrates chunk rows for ANN hits, preserving no
	// particular order; the retriever reorders by score.
	GetByVectorIDs(dbc dbctx.Context, vectorIDs []int64) ([]*ChunkRow, error)

	// ListRecent serves the degraded, recency-only retrieval path.
	ListRecent(dbc dbctx.Context, resourceType string, limit int) ([]*ChunkRow, error)

	// MarkRetrieved bumps usage counters for the frequency rank term.
	MarkRetrieved(dbc dbctx.Context, chunkIDs []int64) error

	// ListVectorAssignments feeds the verify pass: every live chunk that
	// claims a slot in the ANN index.
	ListVectorAssignments(dbc dbctx.Context) ([]VectorAssignment, error)
	GetByIDs(dbc dbctx.Context, ids []int64) ([]*domain.ResourceChunk, error)
}

// VectorAssignment pairs a chunk with its index slot.
type VectorAssignment struct {
	ChunkID  int64 `gorm:"column:id"`
	VectorID int64 `gorm:"column:vector_id"`
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, log *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: log.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) CreateBatch(dbc dbctx.Context, rows []*domain.ResourceChunk) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
	}
	if err := dbc.DB(r.db).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "chunk.create_batch", err)
	}
	return nil
}

func (r *chunkRepo) GetByID(dbc dbctx.Context, id int64) (*domain.ResourceChunk, error) {
	var row domain.ResourceChunk
	err := dbc.DB(r.db).WithContext(dbc.Ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ltmerr.Newf(ltmerr.KindNotFound, "chunk.get", "chunk %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chunkRepo) ListByResource(dbc dbctx.Context, resourceID int64) ([]*domain.ResourceChunk, error) {
	var out []*domain.ResourceChunk
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Where("resource_id = ?", resourceID).
		Order("chunk_index ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) DeleteByResource(dbc dbctx.Context, resourceID int64) error {
	return dbc.DB(r.db).WithContext(dbc.Ctx).
		Delete(&domain.ResourceChunk{}, "resource_id = ?", resourceID).Error
}

func (r *chunkRepo) ArchiveByResource(dbc dbctx.Context, resourceID int64) error {
	return dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.ResourceChunk{}).
		Where("resource_id = ?", resourceID).
		Update("archived", true).Error
}

const hydrateSelect = `resource_chunks.*, resources.file_name AS file_name, resources.type AS resource_type`

func (r *chunkRepo) GetByVectorIDs(dbc dbctx.Context, vectorIDs []int64) ([]*ChunkRow, error) {
	if len(vectorIDs) == 0 {
		return []*ChunkRow{}, nil
	}
	var out []*ChunkRow
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.ResourceChunk{}).
		Select(hydrateSelect).
		Joins("JOIN resources ON resources.id = resource_chunks.resource_id").
		Where("resource_chunks.vector_id IN ?", vectorIDs).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListRecent(dbc dbctx.Context, resourceType string, limit int) ([]*ChunkRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.ResourceChunk{}).
		Select(hydrateSelect).
		Joins("JOIN resources ON resources.id = resource_chunks.resource_id").
		Where("resource_chunks.archived = ?", false)
	if resourceType != "" {
		q = q.Where("resources.type = ?", resourceType)
	}
	var out []*ChunkRow
	if err := q.Order("resource_chunks.created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListVectorAssignments(dbc dbctx.Context) ([]VectorAssignment, error) {
	var out []VectorAssignment
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.ResourceChunk{}).
		Select("id, vector_id").
		Where("vector_id IS NOT NULL AND archived = ?", false).
		Order("vector_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) GetByIDs(dbc dbctx.Context, ids []int64) ([]*domain.ResourceChunk, error) {
	if len(ids) == 0 {
		return []*domain.ResourceChunk{}, nil
	}
	var out []*domain.ResourceChunk
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) MarkRetrieved(dbc dbctx.Context, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.ResourceChunk{}).
		Where("id IN ?", chunkIDs).
		Updates(map[string]interface{}{
			"retrieved_count":   gorm.Expr("retrieved_count + 1"),
			"last_retrieved_at": now,
		}).Error
}
