package repos

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

type TodoRepo interface {
	Add(dbc dbctx.Context, row *domain.Todo) error
	List(dbc dbctx.Context, status string, limit int) ([]*domain.Todo, error)
	Complete(dbc dbctx.Context, id int64) (*domain.Todo, error)
	Search(dbc dbctx.Context, query string, limit int) ([]*domain.Todo, error)
}

type todoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTodoRepo(db *gorm.DB, log *logger.Logger) TodoRepo {
	return &todoRepo{db: db, log: log.With("repo", "TodoRepo")}
}

func (r *todoRepo) Add(dbc dbctx.Context, row *domain.Todo) error {
	if row == nil || row.Title == "" {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "todo.add", "missing title")
	}
	if row.Status == "" {
		row.Status = domain.TodoStatusPending
	}
	switch row.Priority {
	case "":
		row.Priority = domain.TodoPriorityMedium
	case domain.TodoPriorityLow, domain.TodoPriorityMedium, domain.TodoPriorityHigh:
	default:
		return ltmerr.Newf(ltmerr.KindInvalidParams, "todo.add", "invalid priority %q", row.Priority)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := dbc.DB(r.db).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "todo.add", err)
	}
	return nil
}

func (r *todoRepo) List(dbc dbctx.Context, status string, limit int) ([]*domain.Todo, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := dbc.DB(r.db).WithContext(dbc.Ctx).Model(&domain.Todo{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*domain.Todo
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *todoRepo) Complete(dbc dbctx.Context, id int64) (*domain.Todo, error) {
	tx := dbc.DB(r.db).WithContext(dbc.Ctx)
	var row domain.Todo
	err := tx.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ltmerr.Newf(ltmerr.KindNotFound, "todo.complete", "todo %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	row.Status = domain.TodoStatusCompleted
	row.CompletedAt = &now
	if err := tx.Model(&domain.Todo{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       row.Status,
		"completed_at": now,
	}).Error; err != nil {
		return nil, ltmerr.New(ltmerr.KindWriteFailed, "todo.complete", err)
	}
	return &row, nil
}

func (r *todoRepo) Search(dbc dbctx.Context, query string, limit int) ([]*domain.Todo, error) {
	if query == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "todo.search", "missing query")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	like := "%" + query + "%"
	var out []*domain.Todo
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Where("title LIKE ? OR description LIKE ?", like, like).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
