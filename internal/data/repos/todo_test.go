package repos

import (
	"context"
	"testing"

	"github.com/contextkeep/ltmc/internal/data/repos/testutil"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func newTodoRepo(t *testing.T) TodoRepo {
	t.Helper()
	return NewTodoRepo(testutil.DB(t), testutil.Logger(t))
}

func TestTodoAddDefaults(t *testing.T) {
	repo := newTodoRepo(t)
	dbc := dbctx.New(context.Background())

	row := &domain.Todo{Title: "write tests"}
	if err := repo.Add(dbc, row); err != nil {
		t.Fatalf("add: %v", err)
	}
	if row.Status != domain.TodoStatusPending {
		t.Fatalf("default status: want=pending got=%s", row.Status)
	}
	if row.Priority != domain.TodoPriorityMedium {
		t.Fatalf("default priority: want=medium got=%s", row.Priority)
	}

	if err := repo.Add(dbc, &domain.Todo{}); !ltmerr.Is(err, ltmerr.KindInvalidParams) {
		t.Fatalf("missing title: want=InvalidParams got=%v", err)
	}
	err := repo.Add(dbc, &domain.Todo{Title: "x", Priority: "urgent"})
	if !ltmerr.Is(err, ltmerr.KindInvalidParams) {
		t.Fatalf("bad priority: want=InvalidParams got=%v", err)
	}
}

func TestTodoListByStatus(t *testing.T) {
	repo := newTodoRepo(t)
	dbc := dbctx.New(context.Background())

	a := &domain.Todo{Title: "open task"}
	b := &domain.Todo{Title: "done task"}
	for _, row := range []*domain.Todo{a, b} {
		if err := repo.Add(dbc, row); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := repo.Complete(dbc, b.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rows, err := repo.List(dbc, domain.TodoStatusPending, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != a.ID {
		t.Fatalf("pending filter: %+v", rows)
	}

	rows, err = repo.List(dbc, "", 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("list all: want=2 got=%d", len(rows))
	}
}

func TestTodoComplete(t *testing.T) {
	repo := newTodoRepo(t)
	dbc := dbctx.New(context.Background())

	row := &domain.Todo{Title: "task"}
	if err := repo.Add(dbc, row); err != nil {
		t.Fatalf("add: %v", err)
	}
	done, err := repo.Complete(dbc, row.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.TodoStatusCompleted || done.CompletedAt == nil {
		t.Fatalf("completed row: %+v", done)
	}

	if _, err := repo.Complete(dbc, 9999); !ltmerr.Is(err, ltmerr.KindNotFound) {
		t.Fatalf("missing todo: want=NotFound got=%v", err)
	}
}

func TestTodoSearch(t *testing.T) {
	repo := newTodoRepo(t)
	dbc := dbctx.New(context.Background())

	for _, row := range []*domain.Todo{
		{Title: "fix retrieval ranking"},
		{Title: "update docs", Description: "cover the retrieval weights"},
		{Title: "unrelated chore"},
	} {
		if err := repo.Add(dbc, row); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	rows, err := repo.Search(dbc, "retrieval", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("search matches title and description: want=2 got=%d", len(rows))
	}

	if _, err := repo.Search(dbc, "", 0); !ltmerr.Is(err, ltmerr.KindInvalidParams) {
		t.Fatalf("empty query: want=InvalidParams got=%v", err)
	}
}
