// Package repos is the query surface over the relational store. Every repo
// accepts a dbctx.Context so writes can share the coordinator's transaction.
package repos

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

type ResourceRepo interface {
	Create(dbc dbctx.Context, row *domain.Resource) error
	GetByID(dbc dbctx.Context, id int64) (*domain.Resource, error)
	GetByFileName(dbc dbctx.Context, fileName string) (*domain.Resource, error)
	Delete(dbc dbctx.Context, id int64) error
	ListByType(dbc dbctx.Context, resourceType string, limit int) ([]*domain.Resource, error)
	Count(dbc dbctx.Context) (int64, error)

	// ListThoughts returns a session's thought resources ordered by step.
	ListThoughts(dbc dbctx.Context, sessionID string) ([]*domain.Resource, error)

	// NextVectorIDs allocates n contiguous ids from the sequence row. The
	// sequence only moves forward; ids are never reused. Callers that need
	// the allocation to be atomic with chunk inserts pass their transaction.
	NextVectorIDs(dbc dbctx.Context, n int) ([]int64, error)
}

type resourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResourceRepo(db *gorm.DB, log *logger.Logger) ResourceRepo {
	return &resourceRepo{db: db, log: log.With("repo", "ResourceRepo")}
}

func (r *resourceRepo) Create(dbc dbctx.Context, row *domain.Resource) error {
	if row == nil {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "resource.create", "nil resource")
	}
	if row.FileName == "" {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "resource.create", "missing file_name")
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := dbc.DB(r.db).WithContext(dbc.Ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ltmerr.Newf(ltmerr.KindAlreadyExists, "resource.create",
			"file_name %q already exists", row.FileName)
	}
	if err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "resource.create", err)
	}
	return nil
}

func (r *resourceRepo) GetByID(dbc dbctx.Context, id int64) (*domain.Resource, error) {
	var row domain.Resource
	err := dbc.DB(r.db).WithContext(dbc.Ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ltmerr.Newf(ltmerr.KindNotFound, "resource.get", "resource %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *resourceRepo) GetByFileName(dbc dbctx.Context, fileName string) (*domain.Resource, error) {
	var row domain.Resource
	err := dbc.DB(r.db).WithContext(dbc.Ctx).First(&row, "file_name = ?", fileName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ltmerr.Newf(ltmerr.KindNotFound, "resource.get", "file %q not found", fileName)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *resourceRepo) Delete(dbc dbctx.Context, id int64) error {
	res := dbc.DB(r.db).WithContext(dbc.Ctx).Delete(&domain.Resource{}, "id = ?", id)
	if res.Error != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "resource.delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return ltmerr.Newf(ltmerr.KindNotFound, "resource.delete", "resource %d not found", id)
	}
	return nil
}

func (r *resourceRepo) ListByType(dbc dbctx.Context, resourceType string, limit int) ([]*domain.Resource, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := dbc.DB(r.db).WithContext(dbc.Ctx).Model(&domain.Resource{})
	if resourceType != "" {
		q = q.Where("type = ?", resourceType)
	}
	var out []*domain.Resource
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resourceRepo) Count(dbc dbctx.Context) (int64, error) {
	var n int64
	err := dbc.DB(r.db).WithContext(dbc.Ctx).Model(&domain.Resource{}).Count(&n).Error
	return n, err
}

func (r *resourceRepo) ListThoughts(dbc dbctx.Context, sessionID string) ([]*domain.Resource, error) {
	if sessionID == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "thought.list", "missing session_id")
	}
	var out []*domain.Resource
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Where("type = ?", domain.ResourceTypeThought).
		Where("json_extract(metadata, '$.session_id') = ?", sessionID).
		Order("CAST(json_extract(metadata, '$.step_number') AS INTEGER) ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resourceRepo) NextVectorIDs(dbc dbctx.Context, n int) ([]int64, error) {
	if n <= 0 {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "sequence.next", "n must be positive, got %d", n)
	}

	allocate := func(tx *gorm.DB) ([]int64, error) {
		var seq domain.VectorSequence
		if err := tx.WithContext(dbc.Ctx).First(&seq, "id = ?", 1).Error; err != nil {
			return nil, fmt.Errorf("read vector sequence: %w", err)
		}
		start := seq.NextID
		res := tx.WithContext(dbc.Ctx).
			Model(&domain.VectorSequence{}).
			Where("id = ? AND next_id = ?", 1, start).
			Update("next_id", start+int64(n))
		if res.Error != nil {
			return nil, fmt.Errorf("advance vector sequence: %w", res.Error)
		}
		// A lost compare-and-set would hand the same range to two callers.
		if res.RowsAffected != 1 {
			return nil, fmt.Errorf("vector sequence moved during allocation at %d", start)
		}
		out := make([]int64, n)
		for i := range out {
			out[i] = start + int64(i)
		}
		return out, nil
	}

	// Inside a caller-owned transaction the write lock already serializes
	// allocations; standalone calls open their own.
	if dbc.Tx != nil {
		return allocate(dbc.Tx)
	}
	var out []int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		ids, err := allocate(tx)
		if err != nil {
			return err
		}
		out = ids
		return nil
	})
	if err != nil {
		return nil, ltmerr.New(ltmerr.KindWriteFailed, "sequence.next", err)
	}
	return out, nil
}
