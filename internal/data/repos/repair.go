package repos

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
)

// RepairCounts feeds the health snapshot.
type RepairCounts struct {
	Pending     int64 `json:"pending"`
	Quarantined int64 `json:"quarantined"`
}

type RepairRepo interface {
	Enqueue(dbc dbctx.Context, entries []*domain.RepairEntry) error
	ListPending(dbc dbctx.Context, limit int) ([]*domain.RepairEntry, error)
	MarkAttempt(dbc dbctx.Context, id int64, lastError string, quarantine bool) error
	Remove(dbc dbctx.Context, id int64) error
	RemoveByChunkIDs(dbc dbctx.Context, chunkIDs []int64) error
	HasPendingForChunks(dbc dbctx.Context, chunkIDs []int64) (map[int64]bool, error)
	Counts(dbc dbctx.Context) (*RepairCounts, error)
}

type repairRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepairRepo(db *gorm.DB, log *logger.Logger) RepairRepo {
	return &repairRepo{db: db, log: log.With("repo", "RepairRepo")}
}

func (r *repairRepo) Enqueue(dbc dbctx.Context, entries []*domain.RepairEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	}
	// Re-enqueueing the same chunk is a no-op; the original entry keeps its
	// attempt count.
	return dbc.DB(r.db).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chunk_id"}},
			DoNothing: true,
		}).
		Create(&entries).Error
}

func (r *repairRepo) ListPending(dbc dbctx.Context, limit int) ([]*domain.RepairEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []*domain.RepairEntry
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Where("quarantined_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repairRepo) MarkAttempt(dbc dbctx.Context, id int64, lastError string, quarantine bool) error {
	updates := map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastError,
	}
	if quarantine {
		updates["quarantined_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.RepairEntry{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repairRepo) Remove(dbc dbctx.Context, id int64) error {
	return dbc.DB(r.db).WithContext(dbc.Ctx).
		Delete(&domain.RepairEntry{}, "id = ?", id).Error
}

func (r *repairRepo) RemoveByChunkIDs(dbc dbctx.Context, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	return dbc.DB(r.db).WithContext(dbc.Ctx).
		Delete(&domain.RepairEntry{}, "chunk_id IN ?", chunkIDs).Error
}

func (r *repairRepo) HasPendingForChunks(dbc dbctx.Context, chunkIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	var ids []int64
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.RepairEntry{}).
		Where("chunk_id IN ?", chunkIDs).
		Pluck("chunk_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *repairRepo) Counts(dbc dbctx.Context) (*RepairCounts, error) {
	tx := dbc.DB(r.db).WithContext(dbc.Ctx).Model(&domain.RepairEntry{})
	var counts RepairCounts
	if err := tx.Where("quarantined_at IS NULL").Count(&counts.Pending).Error; err != nil {
		return nil, err
	}
	tx = dbc.DB(r.db).WithContext(dbc.Ctx).Model(&domain.RepairEntry{})
	if err := tx.Where("quarantined_at IS NOT NULL").Count(&counts.Quarantined).Error; err != nil {
		return nil, err
	}
	return &counts, nil
}
