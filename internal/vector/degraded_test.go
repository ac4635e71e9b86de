package vector

import (
	"context"
	"testing"

	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func TestDegradedIndexBehavior(t *testing.T) {
	ctx := context.Background()
	idx := NewDegraded(8)

	if got := idx.Dimension(); got != 8 {
		t.Fatalf("dimension: want=8 got=%d", got)
	}

	err := idx.AddBatch(ctx, []int64{1}, [][]float32{make([]float32, 8)})
	if !ltmerr.Is(err, ltmerr.KindWriteFailed) {
		t.Fatalf("add: want=WriteFailed got=%v", err)
	}
	err = idx.Delete(ctx, []int64{1})
	if !ltmerr.Is(err, ltmerr.KindWriteFailed) {
		t.Fatalf("delete: want=WriteFailed got=%v", err)
	}

	// Empty writes stay no-ops so callers do not trip breakers on nothing.
	if err := idx.AddBatch(ctx, nil, nil); err != nil {
		t.Fatalf("empty add: %v", err)
	}
	if err := idx.Delete(ctx, nil); err != nil {
		t.Fatalf("empty delete: %v", err)
	}

	hits, err := idx.Search(ctx, make([]float32, 8), 5)
	if err != nil || len(hits) != 0 {
		t.Fatalf("search: want empty got=%v err=%v", hits, err)
	}
	ok, err := idx.Has(ctx, 1)
	if err != nil || ok {
		t.Fatalf("has: want=false got=%v err=%v", ok, err)
	}

	if _, err := idx.Stats(ctx); err == nil {
		t.Fatalf("stats must report the index as unavailable")
	}
	if err := idx.Ping(ctx); err == nil {
		t.Fatalf("ping must report the index as unavailable")
	}

	if err := idx.Checkpoint(ctx); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
