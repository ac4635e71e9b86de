package rpc

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func chatTool(deps Deps) *Tool {
	return &Tool{
		Name:        "chat",
		Description: "Append-only conversation log with lookups by tool and by conversation.",
		WriteShaped: true,
		Actions: map[string]Handler{
			"log":                 chatLog(deps),
			"get_by_tool":         chatGetByTool(deps),
			"get_by_conversation": chatGetByConversation(deps),
		},
	}
}

func chatLog(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		// An absent conversation id starts a new conversation.
		conversationID := optStringArg(args, "conversation_id", "")
		if conversationID == "" {
			conversationID = uuid.NewString()
		}
		role, err := stringArg(args, "role")
		if err != nil {
			return nil, err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, err
		}
		msg := &domain.ChatMessage{
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			AgentName:      optStringArg(args, "agent_name", ""),
			SourceTool:     optStringArg(args, "source_tool", ""),
		}
		if meta := optMapArg(args, "metadata"); meta != nil {
			raw, err := json.Marshal(meta)
			if err != nil {
				return nil, ltmerr.New(ltmerr.KindInvalidParams, "chat.log", err)
			}
			msg.Metadata = datatypes.JSON(raw)
		}
		if err := deps.Chat.CreateMessage(dbctx.New(ctx), msg); err != nil {
			return nil, err
		}
		return map[string]any{"message_id": msg.ID, "conversation_id": msg.ConversationID}, nil
	}
}

func chatGetByTool(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sourceTool, err := stringArg(args, "source_tool")
		if err != nil {
			return nil, err
		}
		rows, err := deps.Chat.ListBySourceTool(dbctx.New(ctx), sourceTool, optIntArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		return map[string]any{"messages": rows, "count": len(rows)}, nil
	}
}

func chatGetByConversation(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		conversationID, err := stringArg(args, "conversation_id")
		if err != nil {
			return nil, err
		}
		rows, err := deps.Chat.ListByConversation(dbctx.New(ctx), conversationID, optIntArg(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		return map[string]any{"messages": rows, "count": len(rows)}, nil
	}
}

func contextLinksTool(deps Deps) *Tool {
	return &Tool{
		Name:        "context_links",
		Description: "Provenance links between chat messages and the chunks used to answer them.",
		WriteShaped: true,
		Actions: map[string]Handler{
			"store":           linksStore(deps),
			"get_for_message": linksForMessage(deps),
			"get_for_chunk":   linksForChunk(deps),
			"stats":           linksStats(deps),
		},
	}
}

func linksStore(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		messageID, err := int64Arg(args, "message_id")
		if err != nil {
			return nil, err
		}
		chunkIDs, err := int64ListArg(args, "chunk_ids")
		if err != nil {
			return nil, err
		}
		created, err := deps.Chat.AddContextLinks(dbctx.New(ctx), messageID, chunkIDs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"links_created": created}, nil
	}
}

func linksForMessage(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		messageID, err := int64Arg(args, "message_id")
		if err != nil {
			return nil, err
		}
		links, err := deps.Chat.LinksForMessage(dbctx.New(ctx), messageID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"links": links, "count": len(links)}, nil
	}
}

func linksForChunk(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		chunkID, err := int64Arg(args, "chunk_id")
		if err != nil {
			return nil, err
		}
		messages, err := deps.Chat.MessagesForChunk(dbctx.New(ctx), chunkID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"messages": messages, "count": len(messages)}, nil
	}
}

func linksStats(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		stats, err := deps.Chat.Stats(dbctx.New(ctx))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"total_links":     stats.TotalLinks,
			"linked_messages": stats.LinkedMessages,
			"linked_chunks":   stats.LinkedChunks,
		}, nil
	}
}
