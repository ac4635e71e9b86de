package repos

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

// LinkStats summarizes the context-link graph for the stats action.
type LinkStats struct {
	TotalLinks     int64 `json:"total_links"`
	LinkedMessages int64 `json:"linked_messages"`
	LinkedChunks   int64 `json:"linked_chunks"`
}

type ChatRepo interface {
	CreateMessage(dbc dbctx.Context, row *domain.ChatMessage) error
	GetMessage(dbc dbctx.Context, id int64) (*domain.ChatMessage, error)

	// List* read through the chat_messages_all reconciliation view so legacy
	// rows remain visible; writes only ever touch the canonical table.
	ListByConversation(dbc dbctx.Context, conversationID string, limit int) ([]*domain.ChatMessage, error)
	ListBySourceTool(dbc dbctx.Context, sourceTool string, limit int) ([]*domain.ChatMessage, error)

	AddContextLinks(dbc dbctx.Context, messageID int64, chunkIDs []int64) (int, error)
	LinksForMessage(dbc dbctx.Context, messageID int64) ([]*domain.ContextLink, error)
	MessagesForChunk(dbc dbctx.Context, chunkID int64) ([]*domain.ChatMessage, error)
	Stats(dbc dbctx.Context) (*LinkStats, error)

	// RecentContextTypes returns the resource types of the chunks most
	// recently linked into a conversation, newest link first. The retriever
	// derives the session's usage mode from it.
	RecentContextTypes(dbc dbctx.Context, conversationID string, limit int) ([]string, error)
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) CreateMessage(dbc dbctx.Context, row *domain.ChatMessage) error {
	if row == nil {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "chat.log", "nil message")
	}
	if row.ConversationID == "" {
		return ltmerr.Newf(ltmerr.KindInvalidParams, "chat.log", "missing conversation_id")
	}
	switch row.Role {
	case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
	default:
		return ltmerr.Newf(ltmerr.KindInvalidParams, "chat.log", "invalid role %q", row.Role)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := dbc.DB(r.db).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return ltmerr.New(ltmerr.KindWriteFailed, "chat.log", err)
	}
	return nil
}

func (r *chatRepo) GetMessage(dbc dbctx.Context, id int64) (*domain.ChatMessage, error) {
	var row domain.ChatMessage
	err := dbc.DB(r.db).WithContext(dbc.Ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ltmerr.Newf(ltmerr.KindNotFound, "chat.get", "message %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chatRepo) ListByConversation(dbc dbctx.Context, conversationID string, limit int) ([]*domain.ChatMessage, error) {
	if conversationID == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "chat.list", "missing conversation_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*domain.ChatMessage
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Table("chat_messages_all").
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) ListBySourceTool(dbc dbctx.Context, sourceTool string, limit int) ([]*domain.ChatMessage, error) {
	if sourceTool == "" {
		return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "chat.list", "missing source_tool")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*domain.ChatMessage
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Table("chat_messages_all").
		Where("source_tool = ?", sourceTool).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddContextLinks validates both endpoints and inserts links that are not
// already present. Returns the number of new links.
func (r *chatRepo) AddContextLinks(dbc dbctx.Context, messageID int64, chunkIDs []int64) (int, error) {
	if messageID == 0 {
		return 0, ltmerr.Newf(ltmerr.KindInvalidParams, "links.store", "missing message_id")
	}
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	tx := dbc.DB(r.db).WithContext(dbc.Ctx)

	var msgCount int64
	if err := tx.Model(&domain.ChatMessage{}).Where("id = ?", messageID).Count(&msgCount).Error; err != nil {
		return 0, err
	}
	if msgCount == 0 {
		return 0, ltmerr.Newf(ltmerr.KindNotFound, "links.store", "message %d not found", messageID)
	}

	seen := make(map[int64]struct{}, len(chunkIDs))
	created := 0
	now := time.Now().UTC()
	for _, chunkID := range chunkIDs {
		if _, dup := seen[chunkID]; dup {
			continue
		}
		seen[chunkID] = struct{}{}

		var chunkCount int64
		if err := tx.Model(&domain.ResourceChunk{}).Where("id = ?", chunkID).Count(&chunkCount).Error; err != nil {
			return created, err
		}
		if chunkCount == 0 {
			return created, ltmerr.Newf(ltmerr.KindIntegrityError, "links.store",
				"chunk %d does not exist", chunkID)
		}

		res := tx.Where("message_id = ? AND chunk_id = ?", messageID, chunkID).
			FirstOrCreate(&domain.ContextLink{MessageID: messageID, ChunkID: chunkID, CreatedAt: now})
		if res.Error != nil {
			return created, ltmerr.New(ltmerr.KindWriteFailed, "links.store", res.Error)
		}
		if res.RowsAffected > 0 {
			created++
		}
	}
	return created, nil
}

func (r *chatRepo) LinksForMessage(dbc dbctx.Context, messageID int64) ([]*domain.ContextLink, error) {
	var out []*domain.ContextLink
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Where("message_id = ?", messageID).
		Order("chunk_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) MessagesForChunk(dbc dbctx.Context, chunkID int64) ([]*domain.ChatMessage, error) {
	var out []*domain.ChatMessage
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.ChatMessage{}).
		Joins("JOIN context_links ON context_links.message_id = chat_messages.id").
		Where("context_links.chunk_id = ?", chunkID).
		Order("chat_messages.created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) RecentContextTypes(dbc dbctx.Context, conversationID string, limit int) ([]string, error) {
	if conversationID == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var out []string
	err := dbc.DB(r.db).WithContext(dbc.Ctx).
		Model(&domain.ContextLink{}).
		Joins("JOIN chat_messages ON chat_messages.id = context_links.message_id").
		Joins("JOIN resource_chunks ON resource_chunks.id = context_links.chunk_id").
		Joins("JOIN resources ON resources.id = resource_chunks.resource_id").
		Where("chat_messages.conversation_id = ?", conversationID).
		Order("context_links.id DESC").
		Limit(limit).
		Pluck("resources.type", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) Stats(dbc dbctx.Context) (*LinkStats, error) {
	tx := dbc.DB(r.db).WithContext(dbc.Ctx)
	var stats LinkStats
	if err := tx.Model(&domain.ContextLink{}).Count(&stats.TotalLinks).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&domain.ContextLink{}).Distinct("message_id").Count(&stats.LinkedMessages).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&domain.ContextLink{}).Distinct("chunk_id").Count(&stats.LinkedChunks).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
