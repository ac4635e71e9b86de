package vector

import (
	"context"

	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

// degraded stands in when the index file cannot be opened at startup. Reads
// come back empty and writes fail with WriteFailed, which lands them in the
// repair queue for replay once the index is back.
type degraded struct {
	dim int
}

// NewDegraded returns an Index that accepts no data. The process keeps
// serving from the relational tier while this is in place.
func NewDegraded(dim int) Index {
	return &degraded{dim: dim}
}

func (d *degraded) Dimension() int { return d.dim }

func (d *degraded) Add(ctx context.Context, vectorID int64, embedding []float32) error {
	return ltmerr.Newf(ltmerr.KindWriteFailed, "vector.add", "vector index unavailable")
}

func (d *degraded) AddBatch(ctx context.Context, vectorIDs []int64, embeddings [][]float32) error {
	if len(vectorIDs) == 0 {
		return nil
	}
	return ltmerr.Newf(ltmerr.KindWriteFailed, "vector.add", "vector index unavailable")
}

func (d *degraded) Delete(ctx context.Context, vectorIDs []int64) error {
	if len(vectorIDs) == 0 {
		return nil
	}
	return ltmerr.Newf(ltmerr.KindWriteFailed, "vector.delete", "vector index unavailable")
}

func (d *degraded) Has(ctx context.Context, vectorID int64) (bool, error) {
	return false, nil
}

func (d *degraded) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	return []Hit{}, nil
}

func (d *degraded) Stats(ctx context.Context) (*Stats, error) {
	return nil, ltmerr.Newf(ltmerr.KindInternal, "vector.stats", "vector index unavailable")
}

func (d *degraded) Ping(ctx context.Context) error {
	return ltmerr.Newf(ltmerr.KindInternal, "vector.ping", "vector index unavailable")
}

func (d *degraded) Checkpoint(ctx context.Context) error { return nil }

func (d *degraded) Close() error { return nil }
