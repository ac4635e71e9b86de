package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/contextkeep/ltmc/internal/data/repos"
	"github.com/contextkeep/ltmc/internal/data/repos/testutil"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/embedding"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
	"github.com/contextkeep/ltmc/internal/vector"
)

// fakeIndex is an in-memory stand-in for the ANN tier with failure injection.
type fakeIndex struct {
	mu         sync.Mutex
	dim        int
	vectors    map[int64][]float32
	tombstones map[int64]bool
	failWrites bool
}

func newFakeIndex(dim int) *fakeIndex {
	return &fakeIndex{
		dim:        dim,
		vectors:    make(map[int64][]float32),
		tombstones: make(map[int64]bool),
	}
}

func (f *fakeIndex) Add(ctx context.Context, vid int64, emb []float32) error {
	return f.AddBatch(ctx, []int64{vid}, [][]float32{emb})
}

func (f *fakeIndex) AddBatch(_ context.Context, vids []int64, embs [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("index unavailable")
	}
	for i, vid := range vids {
		f.vectors[vid] = embs[i]
		delete(f.tombstones, vid)
	}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, vids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("index unavailable")
	}
	for _, vid := range vids {
		delete(f.vectors, vid)
		f.tombstones[vid] = true
	}
	return nil
}

func (f *fakeIndex) Has(_ context.Context, vid int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vectors[vid]
	return ok, nil
}

func (f *fakeIndex) Search(context.Context, []float32, int) ([]vector.Hit, error) {
	return []vector.Hit{}, nil
}

func (f *fakeIndex) Stats(context.Context) (*vector.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &vector.Stats{Live: int64(len(f.vectors)), Tombstoned: int64(len(f.tombstones)), MaxID: -1}
	for vid := range f.vectors {
		if vid > st.MaxID {
			st.MaxID = vid
		}
	}
	return st, nil
}

func (f *fakeIndex) Checkpoint(context.Context) error { return nil }
func (f *fakeIndex) Ping(context.Context) error       { return nil }
func (f *fakeIndex) Dimension() int                   { return f.dim }
func (f *fakeIndex) Close() error                     { return nil }

func (f *fakeIndex) setFailWrites(v bool) {
	f.mu.Lock()
	f.failWrites = v
	f.mu.Unlock()
}

type testEnv struct {
	coord   Coordinator
	idx     *fakeIndex
	repairs repos.RepairRepo
	chunks  repos.ChunkRepo
}

func newTestEnv(t *testing.T, failLimit int) *testEnv {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	idx := newFakeIndex(8)
	env := &testEnv{
		idx:     idx,
		repairs: repos.NewRepairRepo(db, log),
		chunks:  repos.NewChunkRepo(db, log),
	}
	env.coord = NewCoordinator(Deps{
		DB:        db,
		Resources: repos.NewResourceRepo(db, log),
		Chunks:    env.chunks,
		Repairs:   env.repairs,
		Index:     idx,
		Embedder:  embedding.NewHashingEngine(8),
		Log:       log,
		FailLimit: failLimit,
		CoolDown:  time.Minute,
	})
	return env
}

func TestStoreResourceAssignsDenseVectorIDs(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	first, err := env.coord.StoreResource(ctx,
		&domain.Resource{FileName: "a.md", Type: "document", Content: "abc"},
		[]string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("store a.md: %v", err)
	}
	second, err := env.coord.StoreResource(ctx,
		&domain.Resource{FileName: "b.md", Type: "document", Content: "de"},
		[]string{"delta", "epsilon"})
	if err != nil {
		t.Fatalf("store b.md: %v", err)
	}

	for i, want := range []int64{0, 1, 2} {
		if got := first.VectorIDs[i]; got != want {
			t.Fatalf("first store vector id %d: want=%d got=%d", i, want, got)
		}
	}
	for i, want := range []int64{3, 4} {
		if got := second.VectorIDs[i]; got != want {
			t.Fatalf("second store vector id %d: want=%d got=%d", i, want, got)
		}
	}
	if len(first.Degraded) != 0 || len(second.Degraded) != 0 {
		t.Fatalf("unexpected degradation: %v %v", first.Degraded, second.Degraded)
	}

	st, _ := env.idx.Stats(ctx)
	if st.Live != 5 {
		t.Fatalf("index live count: want=5 got=%d", st.Live)
	}

	rows, err := env.chunks.ListByResource(dbctx.New(ctx), first.ResourceID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("chunk rows: want=3 got=%d", len(rows))
	}
	for i, row := range rows {
		if row.VectorID == nil || *row.VectorID != int64(i) {
			t.Fatalf("chunk %d vector id: want=%d got=%v", i, i, row.VectorID)
		}
	}
}

func TestStoreResourceDuplicateFileName(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	if _, err := env.coord.StoreResource(ctx,
		&domain.Resource{FileName: "dup.md", Content: "x"}, []string{"x"}); err != nil {
		t.Fatalf("first store: %v", err)
	}
	_, err := env.coord.StoreResource(ctx,
		&domain.Resource{FileName: "dup.md", Content: "y"}, []string{"y"})
	if !ltmerr.Is(err, ltmerr.KindAlreadyExists) {
		t.Fatalf("duplicate store: want=AlreadyExists got=%v", err)
	}
}

func TestStoreResourceRejectsEmptyChunks(t *testing.T) {
	env := newTestEnv(t, 5)
	_, err := env.coord.StoreResource(context.Background(),
		&domain.Resource{FileName: "empty.md", Content: ""}, nil)
	if !ltmerr.Is(err, ltmerr.KindInvalidParams) {
		t.Fatalf("want=InvalidParams got=%v", err)
	}
}

func TestStoreResourceVectorFailureQueuesRepair(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()
	env.idx.setFailWrites(true)

	result, err := env.coord.StoreResource(ctx,
		&domain.Resource{FileName: "degraded.md", Content: "ab"},
		[]string{"one", "two"})
	if err != nil {
		t.Fatalf("store must succeed on the relational tier: %v", err)
	}
	if len(result.Degraded) != 1 || result.Degraded[0] != TierVector {
		t.Fatalf("degraded tiers: want=[vector] got=%v", result.Degraded)
	}

	pending, err := env.repairs.ListPending(dbctx.New(ctx), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("repair entries: want=2 got=%d", len(pending))
	}
	for i, entry := range pending {
		if entry.VectorID != result.VectorIDs[i] || entry.Text == "" {
			t.Fatalf("repair entry %d malformed: %+v", i, entry)
		}
	}
}

func TestDeleteResourceMirrorOrder(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	stored, err := env.coord.StoreResource(ctx,
		&domain.Resource{FileName: "gone.md", Content: "ab"},
		[]string{"one", "two"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	deleted, err := env.coord.DeleteResource(ctx, "gone.md")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ChunksRemoved != 2 {
		t.Fatalf("chunks removed: want=2 got=%d", deleted.ChunksRemoved)
	}

	// Vector slots are tombstoned, never reassigned.
	st, _ := env.idx.Stats(ctx)
	if st.Live != 0 || st.Tombstoned != 2 {
		t.Fatalf("index after delete: live=%d tombstoned=%d", st.Live, st.Tombstoned)
	}

	rows, err := env.chunks.ListByResource(dbctx.New(ctx), stored.ResourceID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("chunk rows after delete: want=0 got=%d", len(rows))
	}

	if _, err := env.coord.DeleteResource(ctx, "gone.md"); !ltmerr.Is(err, ltmerr.KindNotFound) {
		t.Fatalf("second delete: want=NotFound got=%v", err)
	}
}

func TestDeleteResourceDropsRepairEntries(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	env.idx.setFailWrites(true)
	if _, err := env.coord.StoreResource(ctx,
		&domain.Resource{FileName: "queued.md", Content: "x"}, []string{"x"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	env.idx.setFailWrites(false)

	if _, err := env.coord.DeleteResource(ctx, "queued.md"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	pending, err := env.repairs.ListPending(dbctx.New(ctx), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("repair entries must not outlive their chunks, got %d", len(pending))
	}
}

func TestVectorBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	env.idx.setFailWrites(true)

	for i, name := range []string{"f1.md", "f2.md"} {
		result, err := env.coord.StoreResource(ctx,
			&domain.Resource{FileName: name, Content: "x"}, []string{"x"})
		if err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
		if len(result.Degraded) == 0 {
			t.Fatalf("store %d must report degradation", i)
		}
	}

	if got := env.coord.TierStates()[TierVector]; got != "open" {
		t.Fatalf("vector tier state: want=open got=%s", got)
	}

	// With the circuit open the write is rejected without touching the index
	// and the document still lands in the relational tier.
	env.idx.setFailWrites(false)
	result, err := env.coord.StoreResource(ctx,
		&domain.Resource{FileName: "f3.md", Content: "x"}, []string{"x"})
	if err != nil {
		t.Fatalf("store behind open breaker: %v", err)
	}
	if len(result.Degraded) != 1 || result.Degraded[0] != TierVector {
		t.Fatalf("degraded tiers: want=[vector] got=%v", result.Degraded)
	}
	st, _ := env.idx.Stats(ctx)
	if st.Live != 0 {
		t.Fatalf("open breaker must not reach the index, live=%d", st.Live)
	}
}

func TestTierStatesDisabledTiers(t *testing.T) {
	env := newTestEnv(t, 5)
	states := env.coord.TierStates()
	if states[TierSQLite] != "required" {
		t.Fatalf("sqlite state: want=required got=%s", states[TierSQLite])
	}
	if states[TierGraph] != "disabled" || states[TierCache] != "disabled" {
		t.Fatalf("unconfigured tiers must read disabled: %v", states)
	}
}
