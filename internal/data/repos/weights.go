package repos

import (
	"time"

	"gorm.io/gorm"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

type WeightsRepo interface {
	Get(dbc dbctx.Context) (*domain.RetrievalWeights, error)
	Set(dbc dbctx.Context, w *domain.RetrievalWeights) error
}

type weightsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWeightsRepo(db *gorm.DB, log *logger.Logger) WeightsRepo {
	return &weightsRepo{db: db, log: log.With("repo", "WeightsRepo")}
}

func (r *weightsRepo) Get(dbc dbctx.Context) (*domain.RetrievalWeights, error) {
	var row domain.RetrievalWeights
	if err := dbc.DB(r.db).WithContext(dbc.Ctx).First(&row, "id = ?", 1).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *weightsRepo) Set(dbc dbctx.Context, w *domain.RetrievalWeights) error {
	if w == nil {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "weights.set", "nil weights")
	}
	for _, v := range []float64{w.Alpha, w.Beta, w.Gamma, w.Delta, w.Epsilon} {
		if v < 0 {
			return ltmerr.Newf(ltmerr.KindInvalidParams, "weights.set", "weights must be non-negative")
		}
	}
	return dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.RetrievalWeights{}).
		Where("id = ?", 1).
		Updates(map[string]interface{}{
			"alpha":      w.Alpha,
			"beta":       w.Beta,
			"gamma":      w.Gamma,
			"delta":      w.Delta,
			"epsilon":    w.Epsilon,
			"updated_at": time.Now().UTC(),
		}).Error
}
