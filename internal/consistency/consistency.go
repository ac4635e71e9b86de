// Package consistency keeps the ANN index converged on the relational truth.
// Verify finds chunks whose vectors never landed; the repair loop replays the
// durable queue with bounded attempts and quarantines what keeps failing.
package consistency

import (
	"context"

	"github.com/contextkeep/ltmc/internal/data/repos"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/embedding"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/vector"
)

// maxAttempts is how many replays a repair entry gets before quarantine.
const maxAttempts = 5

// VerifyReport is the outcome of a full drift scan.
type VerifyReport struct {
	TotalChunks    int64   `json:"total_chunks"`
	IndexedChunks  int64   `json:"indexed_chunks"`
	MissingChunks  []int64 `json:"missing_chunks,omitempty"`
	DriftScore     float64 `json:"drift_score"`
	RepairEnqueued int     `json:"repair_enqueued"`
}

// RepairReport summarizes one pass over the pending queue.
type RepairReport struct {
	Processed   int `json:"processed"`
	Repaired    int `json:"repaired"`
	Failed      int `json:"failed"`
	Quarantined int `json:"quarantined"`
}

type Manager interface {
	Verify(ctx context.Context) (*VerifyReport, error)
	RepairPending(ctx context.Context, limit int) (*RepairReport, error)
	DriftScore(ctx context.Context) (float64, error)
	QueueCounts(ctx context.Context) (*repos.RepairCounts, error)
}

type manager struct {
	chunks   repos.ChunkRepo
	repairs  repos.RepairRepo
	index    vector.Index
	embedder embedding.Engine
	log      *logger.Logger
}

func NewManager(chunks repos.ChunkRepo, repairs repos.RepairRepo, index vector.Index, embedder embedding.Engine, log *logger.Logger) Manager {
	return &manager{
		chunks:   chunks,
		repairs:  repairs,
		index:    index,
		embedder: embedder,
		log:      log.With("service", "ConsistencyManager"),
	}
}

// Verify walks every live vector assignment and checks the index actually
// holds it. Missing chunks are enqueued for repair; chunks already waiting
// in the queue are skipped so the enqueued count is new work only.
func (m *manager) Verify(ctx context.Context) (*VerifyReport, error) {
	dbc := dbctx.New(ctx)
	assignments, err := m.chunks.ListVectorAssignments(dbc)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{TotalChunks: int64(len(assignments))}
	var missing []repos.VectorAssignment
	for _, a := range assignments {
		ok, err := m.index.Has(ctx, a.VectorID)
		if err != nil {
			return nil, err
		}
		if ok {
			report.IndexedChunks++
		} else {
			missing = append(missing, a)
			report.MissingChunks = append(report.MissingChunks, a.ChunkID)
		}
	}

	if report.TotalChunks > 0 {
		report.DriftScore = float64(len(missing)) / float64(report.TotalChunks)
	}

	if len(missing) > 0 {
		ids := make([]int64, len(missing))
		for i, a := range missing {
			ids[i] = a.ChunkID
		}
		// Chunks already in the queue are someone else's enqueue; only the
		// newly queued ones count toward this report.
		queued, err := m.repairs.HasPendingForChunks(dbc, ids)
		if err != nil {
			return nil, err
		}
		rows, err := m.chunks.GetByIDs(dbc, ids)
		if err != nil {
			return nil, err
		}
		entries := make([]*domain.RepairEntry, 0, len(rows))
		for _, ch := range rows {
			if ch.VectorID == nil || queued[ch.ID] {
				continue
			}
			entries = append(entries, &domain.RepairEntry{
				ResourceID: ch.ResourceID,
				ChunkID:    ch.ID,
				VectorID:   *ch.VectorID,
				Text:       ch.Text,
				LastError:  "verify: vector missing from index",
			})
		}
		if err := m.repairs.Enqueue(dbc, entries); err != nil {
			return nil, err
		}
		report.RepairEnqueued = len(entries)
		m.log.Warn("drift detected", "missing", len(missing), "total", report.TotalChunks)
	}

	return report, nil
}

// RepairPending replays the queue oldest-first. Each entry re-embeds from the
// text captured at enqueue time, so repair works even if the source row has
// since been archived.
func (m *manager) RepairPending(ctx context.Context, limit int) (*RepairReport, error) {
	dbc := dbctx.New(ctx)
	pending, err := m.repairs.ListPending(dbc, limit)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{}
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		vec, err := m.embedder.Embed(ctx, entry.Text)
		if err == nil {
			err = m.index.Add(ctx, entry.VectorID, vec)
		}
		if err == nil {
			if err := m.repairs.Remove(dbc, entry.ID); err != nil {
				return report, err
			}
			report.Repaired++
			continue
		}

		report.Failed++
		quarantine := entry.Attempts+1 >= maxAttempts
		if quarantine {
			report.Quarantined++
			m.log.Error("repair entry quarantined",
				"chunk_id", entry.ChunkID, "attempts", entry.Attempts+1, "error", err)
		}
		if err := m.repairs.MarkAttempt(dbc, entry.ID, err.Error(), quarantine); err != nil {
			return report, err
		}
	}
	return report, nil
}

// DriftScore is the cheap read-only variant of Verify for health output.
func (m *manager) DriftScore(ctx context.Context) (float64, error) {
	assignments, err := m.chunks.ListVectorAssignments(dbctx.New(ctx))
	if err != nil {
		return 0, err
	}
	if len(assignments) == 0 {
		return 0, nil
	}
	var missing int
	for _, a := range assignments {
		ok, err := m.index.Has(ctx, a.VectorID)
		if err != nil {
			return 0, err
		}
		if !ok {
			missing++
		}
	}
	return float64(missing) / float64(len(assignments)), nil
}

func (m *manager) QueueCounts(ctx context.Context) (*repos.RepairCounts, error) {
	return m.repairs.Counts(dbctx.New(ctx))
}
