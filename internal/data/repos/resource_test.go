package repos

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/contextkeep/ltmc/internal/data/repos/testutil"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func newResourceRepo(t *testing.T) ResourceRepo {
	t.Helper()
	return NewResourceRepo(testutil.DB(t), testutil.Logger(t))
}

func TestResourceCreateAndGet(t *testing.T) {
	repo := newResourceRepo(t)
	dbc := dbctx.New(context.Background())

	res := &domain.Resource{FileName: "a.md", Type: "document", Content: "body"}
	if err := repo.Create(dbc, res); err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ID == 0 {
		t.Fatalf("create must assign an id")
	}

	got, err := repo.GetByFileName(dbc, "a.md")
	if err != nil {
		t.Fatalf("get by file name: %v", err)
	}
	if got.ID != res.ID || got.Content != "body" {
		t.Fatalf("roundtrip: want=%+v got=%+v", res, got)
	}

	if _, err := repo.GetByFileName(dbc, "missing.md"); !ltmerr.Is(err, ltmerr.KindNotFound) {
		t.Fatalf("missing file: want=NotFound got=%v", err)
	}
}

func TestResourceCreateDuplicateFileName(t *testing.T) {
	repo := newResourceRepo(t)
	dbc := dbctx.New(context.Background())

	if err := repo.Create(dbc, &domain.Resource{FileName: "dup.md", Content: "x"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := repo.Create(dbc, &domain.Resource{FileName: "dup.md", Content: "y"})
	if !ltmerr.Is(err, ltmerr.KindAlreadyExists) {
		t.Fatalf("duplicate create: want=AlreadyExists got=%v", err)
	}
}

func TestResourceDeleteNotFound(t *testing.T) {
	repo := newResourceRepo(t)
	err := repo.Delete(dbctx.New(context.Background()), 9999)
	if !ltmerr.Is(err, ltmerr.KindNotFound) {
		t.Fatalf("want=NotFound got=%v", err)
	}
}

func TestNextVectorIDsDenseAllocation(t *testing.T) {
	repo := newResourceRepo(t)
	dbc := dbctx.New(context.Background())

	first, err := repo.NextVectorIDs(dbc, 3)
	if err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	second, err := repo.NextVectorIDs(dbc, 2)
	if err != nil {
		t.Fatalf("second allocation: %v", err)
	}

	want := []int64{0, 1, 2}
	for i, id := range first {
		if id != want[i] {
			t.Fatalf("first allocation: want=%v got=%v", want, first)
		}
	}
	if second[0] != 3 || second[1] != 4 {
		t.Fatalf("second allocation must continue densely: got=%v", second)
	}

	if _, err := repo.NextVectorIDs(dbc, 0); !ltmerr.Is(err, ltmerr.KindInvalidParams) {
		t.Fatalf("zero allocation: want=InvalidParams got=%v", err)
	}
}

func TestNextVectorIDsInCallerTransaction(t *testing.T) {
	db := testutil.DB(t)
	repo := NewResourceRepo(db, testutil.Logger(t))
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		ids, err := repo.NextVectorIDs(dbctx.WithTx(ctx, tx), 2)
		if err != nil {
			return err
		}
		if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
			t.Fatalf("allocation inside transaction: got=%v", ids)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	// The committed advance is visible to standalone allocations.
	ids, err := repo.NextVectorIDs(dbctx.New(ctx), 1)
	if err != nil {
		t.Fatalf("follow-up allocation: %v", err)
	}
	if ids[0] != 2 {
		t.Fatalf("sequence after commit: want=2 got=%d", ids[0])
	}
}

func TestResourceListThoughtsOrdersBySteps(t *testing.T) {
	db := testutil.DB(t)
	repo := NewResourceRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	// Inserted out of step order on purpose.
	for _, row := range []*domain.Resource{
		{FileName: "thought_s1_2", Type: domain.ResourceTypeThought,
			Content: "second", Metadata: []byte(`{"session_id":"s1","step_number":2}`)},
		{FileName: "thought_s1_1", Type: domain.ResourceTypeThought,
			Content: "first", Metadata: []byte(`{"session_id":"s1","step_number":1}`)},
		{FileName: "thought_s2_1", Type: domain.ResourceTypeThought,
			Content: "other session", Metadata: []byte(`{"session_id":"s2","step_number":1}`)},
	} {
		if err := repo.Create(dbc, row); err != nil {
			t.Fatalf("create %s: %v", row.FileName, err)
		}
	}

	rows, err := repo.ListThoughts(dbc, "s1")
	if err != nil {
		t.Fatalf("list thoughts: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("session rows: want=2 got=%d", len(rows))
	}
	if rows[0].Content != "first" || rows[1].Content != "second" {
		t.Fatalf("step order: got=[%s, %s]", rows[0].Content, rows[1].Content)
	}
}
