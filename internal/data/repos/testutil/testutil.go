// Package testutil opens throwaway SQLite databases for repository tests.
package testutil

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("prod")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB opens a fresh database under the test's temp dir with the full schema
// and seeded singleton rows. Each call is independent.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.Resource{},
		&domain.ResourceChunk{},
		&domain.VectorSequence{},
		&domain.ChatMessage{},
		&domain.ContextLink{},
		&domain.Todo{},
		&domain.RetrievalWeights{},
		&domain.RepairEntry{},
		&domain.SchemaVersion{},
	); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}

	if err := db.Create(&domain.VectorSequence{ID: 1, NextID: 0}).Error; err != nil {
		tb.Fatalf("seed vector sequence: %v", err)
	}
	if err := db.Create(&domain.RetrievalWeights{
		ID: 1, Alpha: 0.7, Beta: 0.15, Gamma: 0.05, Delta: 0.05, Epsilon: 0.05,
		UpdatedAt: time.Now().UTC(),
	}).Error; err != nil {
		tb.Fatalf("seed retrieval weights: %v", err)
	}

	// Reads go through the reconciliation view in production; tests use the
	// plain union over the canonical table.
	if err := db.Exec(`CREATE VIEW IF NOT EXISTS chat_messages_all
		(id, conversation_id, role, content, agent_name, source_tool, created_at) AS
		SELECT id, conversation_id, role, content, agent_name, source_tool, created_at
		FROM chat_messages`).Error; err != nil {
		tb.Fatalf("create chat view: %v", err)
	}

	return db
}
