package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/contextkeep/ltmc/internal/domain"
)

func SeedResource(tb testing.TB, ctx context.Context, db *gorm.DB, fileName, resourceType string) *domain.Resource {
	tb.Helper()
	res := &domain.Resource{
		FileName:  fileName,
		Type:      resourceType,
		Content:   "content of " + fileName,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(res).Error; err != nil {
		tb.Fatalf("seed resource: %v", err)
	}
	return res
}

// SeedChunk assigns the vector id equal to the chunk ordinal offset by the
// resource id, dense enough for tests.
func SeedChunk(tb testing.TB, ctx context.Context, db *gorm.DB, resourceID int64, index int) *domain.ResourceChunk {
	tb.Helper()
	vid := resourceID*100 + int64(index)
	chunk := &domain.ResourceChunk{
		ResourceID: resourceID,
		ChunkIndex: index,
		Text:       fmt.Sprintf("chunk %d of resource %d", index, resourceID),
		VectorID:   &vid,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(chunk).Error; err != nil {
		tb.Fatalf("seed chunk: %v", err)
	}
	return chunk
}

func SeedMessage(tb testing.TB, ctx context.Context, db *gorm.DB, conversationID, content string) *domain.ChatMessage {
	tb.Helper()
	msg := &domain.ChatMessage{
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(msg).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return msg
}
