package rpc

import (
	"context"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
)

func todoTool(deps Deps) *Tool {
	return &Tool{
		Name:        "todo",
		Description: "Task tracking: add, list, complete and search todos.",
		WriteShaped: true,
		Actions: map[string]Handler{
			"add":      todoAdd(deps),
			"list":     todoList(deps),
			"complete": todoComplete(deps),
			"search":   todoSearch(deps),
		},
	}
}

func todoAdd(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		title, err := stringArg(args, "title")
		if err != nil {
			return nil, err
		}
		row := &domain.Todo{
			Title:       title,
			Description: optStringArg(args, "description", ""),
			Priority:    optStringArg(args, "priority", ""),
		}
		if err := deps.Todos.Add(dbctx.New(ctx), row); err != nil {
			return nil, err
		}
		return map[string]any{"todo": row}, nil
	}
}

func todoList(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		rows, err := deps.Todos.List(dbctx.New(ctx),
			optStringArg(args, "status", ""),
			optIntArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		return map[string]any{"todos": rows, "count": len(rows)}, nil
	}
}

func todoComplete(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		id, err := int64Arg(args, "todo_id")
		if err != nil {
			return nil, err
		}
		row, err := deps.Todos.Complete(dbctx.New(ctx), id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"todo": row}, nil
	}
}

func todoSearch(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		rows, err := deps.Todos.Search(dbctx.New(ctx), query, optIntArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		return map[string]any{"todos": rows, "count": len(rows)}, nil
	}
}
