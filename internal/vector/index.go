// Package vector is the ANN tier. It keeps embeddings in a dedicated SQLite
// file behind a vec0 virtual table; vector ids are assigned by the relational
// tier's sequence and are never reused here, deletions leave a tombstone.
package vector

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

// Hit is a single ANN match. Score is cosine similarity in [-1, 1]; results
// come back ordered score descending, vector id ascending on ties.
type Hit struct {
	VectorID int64   `json:"vector_id"`
	Score    float64 `json:"score"`
}

// Stats describes index occupancy for health reporting.
type Stats struct {
	Live       int64 `json:"live"`
	Tombstoned int64 `json:"tombstoned"`
	MaxID      int64 `json:"max_id"`
}

type Index interface {
	Add(ctx context.Context, vectorID int64, embedding []float32) error
	AddBatch(ctx context.Context, vectorIDs []int64, embeddings [][]float32) error
	Delete(ctx context.Context, vectorIDs []int64) error
	Has(ctx context.Context, vectorID int64) (bool, error)
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Stats(ctx context.Context) (*Stats, error)
	Checkpoint(ctx context.Context) error
	Ping(ctx context.Context) error
	Dimension() int
	Close() error
}

type index struct {
	db  *sql.DB
	dim int
	log *logger.Logger
}

// NewIndex opens (or creates) the index file and its schema.
func NewIndex(log *logger.Logger, path string, dim int) (Index, error) {
	if dim <= 0 {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "vector.open", "invalid dimension %d", dim)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ltmerr.New(ltmerr.KindInternal, "vector.open", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, ltmerr.New(ltmerr.KindInternal, "vector.open", err)
	}
	// The vec0 table is written under the coordinator's lock; a single
	// connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, ltmerr.New(ltmerr.KindInternal, "vector.open", err)
		}
	}

	idx := &index{db: db, dim: dim, log: log.With("component", "VectorIndex")}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	idx.log.Info("vector index open", "path", path, "dim", dim)
	return idx, nil
}

func (x *index) migrate() error {
	stmts := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors
			USING vec0(embedding float[%d] distance_metric=cosine)`, x.dim),
		`CREATE TABLE IF NOT EXISTS index_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			max_vid INTEGER NOT NULL DEFAULT -1
		)`,
		`INSERT OR IGNORE INTO index_meta (id, max_vid) VALUES (1, -1)`,
		`CREATE TABLE IF NOT EXISTS tombstones (
			vid INTEGER PRIMARY KEY
		)`,
	}
	for _, stmt := range stmts {
		if _, err := x.db.Exec(stmt); err != nil {
			return ltmerr.New(ltmerr.KindInternal, "vector.migrate", err)
		}
	}
	return nil
}

func (x *index) Dimension() int { return x.dim }

func (x *index) Add(ctx context.Context, vectorID int64, embedding []float32) error {
	return x.AddBatch(ctx, []int64{vectorID}, [][]float32{embedding})
}

func (x *index) AddBatch(ctx context.Context, vectorIDs []int64, embeddings [][]float32) error {
	if len(vectorIDs) != len(embeddings) {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "vector.add",
			"ids/embeddings length mismatch: %d vs %d", len(vectorIDs), len(embeddings))
	}
	if len(vectorIDs) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "vector.add", err)
	}
	defer tx.Rollback()

	for i, vid := range vectorIDs {
		if len(embeddings[i]) != x.dim {
			return ltmerr.Newf(ltmerr.KindInvalidParams, "vector.add",
				"vector %d has dimension %d, want %d", vid, len(embeddings[i]), x.dim)
		}
		blob, err := sqlite_vec.SerializeFloat32(Normalize(embeddings[i]))
		if err != nil {
			return ltmerr.New(ltmerr.KindInternal, "vector.add", err)
		}
		// Re-adding an id is an idempotent overwrite; the sequence never
		// hands the same id to two different chunks.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunk_vectors WHERE rowid = ?`, vid); err != nil {
			return ltmerr.New(ltmerr.KindWriteFailed, "vector.add", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunk_vectors (rowid, embedding) VALUES (?, ?)`, vid, blob); err != nil {
			return ltmerr.New(ltmerr.KindWriteFailed, "vector.add", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tombstones WHERE vid = ?`, vid); err != nil {
			return ltmerr.New(ltmerr.KindWriteFailed, "vector.add", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE index_meta SET max_vid = MAX(max_vid, ?) WHERE id = 1`, vid); err != nil {
			return ltmerr.New(ltmerr.KindWriteFailed, "vector.add", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "vector.add", err)
	}
	return nil
}

func (x *index) Delete(ctx context.Context, vectorIDs []int64) error {
	if len(vectorIDs) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "vector.delete", err)
	}
	defer tx.Rollback()

	for _, vid := range vectorIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunk_vectors WHERE rowid = ?`, vid); err != nil {
			return ltmerr.New(ltmerr.KindWriteFailed, "vector.delete", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tombstones (vid) VALUES (?)`, vid); err != nil {
			return ltmerr.New(ltmerr.KindWriteFailed, "vector.delete", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "vector.delete", err)
	}
	return nil
}

func (x *index) Has(ctx context.Context, vectorID int64) (bool, error) {
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_vectors WHERE rowid = ?`, vectorID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (x *index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "vector.search",
			"query has dimension %d, want %d", len(query), x.dim)
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(Normalize(query))
	if err != nil {
		return nil, ltmerr.New(ltmerr.KindInternal, "vector.search", err)
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT rowid, distance
		FROM chunk_vectors
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance ASC, rowid ASC`, blob, k)
	if err != nil {
		return nil, ltmerr.New(ltmerr.KindInternal, "vector.search", err)
	}
	defer rows.Close()

	out := make([]Hit, 0, k)
	for rows.Next() {
		var vid int64
		var dist float64
		if err := rows.Scan(&vid, &dist); err != nil {
			return nil, ltmerr.New(ltmerr.KindInternal, "vector.search", err)
		}
		// Cosine distance is 1 - similarity.
		out = append(out, Hit{VectorID: vid, Score: 1 - dist})
	}
	if err := rows.Err(); err != nil {
		return nil, ltmerr.New(ltmerr.KindInternal, "vector.search", err)
	}
	return out, nil
}

func (x *index) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_vectors`).Scan(&st.Live); err != nil {
		return nil, err
	}
	if err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tombstones`).Scan(&st.Tombstoned); err != nil {
		return nil, err
	}
	if err := x.db.QueryRowContext(ctx,
		`SELECT max_vid FROM index_meta WHERE id = 1`).Scan(&st.MaxID); err != nil {
		return nil, err
	}
	return &st, nil
}

func (x *index) Checkpoint(ctx context.Context) error {
	_, err := x.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	if err != nil {
		return ltmerr.New(ltmerr.KindInternal, "vector.checkpoint", err)
	}
	return nil
}

func (x *index) Ping(ctx context.Context) error {
	return x.db.PingContext(ctx)
}

func (x *index) Close() error {
	return x.db.Close()
}

// Normalize returns the unit-length copy of v. Zero vectors come back as-is
// so the distance stays defined.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
