package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/contextkeep/ltmc/internal/domain"
)

// schemaVersion is bumped whenever a migration step is appended. Steps are
// idempotent; a fresh database runs all of them, an existing one runs only
// the tail beyond its recorded version.
const schemaVersion = 3

// MigrateAll brings the schema to the current version.
func (s *SQLiteService) MigrateAll() error {
	if err := s.db.AutoMigrate(
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
		return fmt.Errorf("automigrate: %w", err)
	}

	current, err := s.currentVersion()
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, schemaVersion)
	}

	steps := []struct {
		version int
		name    string
		run     func(tx *gorm.DB) error
	}{
		{1, "seed singleton rows", seedSingletons},
		{2, "legacy chat reconciliation view", createChatReconciliationView},
		{3, "chunk retrieval index", createRetrievalIndexes},
	}

	for _, step := range steps {
		if step.version <= current {
			continue
		}
		s.log.Info("running migration", "version", step.version, "name", step.name)
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := step.run(tx); err != nil {
				return err
			}
			return tx.Model(&domain.SchemaVersion{}).
				Where("id = ?", 1).
				Update("version", step.version).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", step.version, step.name, err)
		}
	}
	return nil
}

func (s *SQLiteService) currentVersion() (int, error) {
	var row domain.SchemaVersion
	err := s.db.Where("id = ?", 1).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		if err := s.db.Create(&domain.SchemaVersion{ID: 1, Version: 0}).Error; err != nil {
			return 0, fmt.Errorf("seed schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return row.Version, nil
}

func seedSingletons(tx *gorm.DB) error {
	var seq domain.VectorSequence
	if err := tx.Where("id = ?", 1).First(&seq).Error; err == gorm.ErrRecordNotFound {
		if err := tx.Create(&domain.VectorSequence{ID: 1, NextID: 0}).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	var weights domain.RetrievalWeights
	if err := tx.Where("id = ?", 1).First(&weights).Error; err == gorm.ErrRecordNotFound {
		return tx.Create(&domain.RetrievalWeights{
			ID:        1,
			Alpha:     0.7,
			Beta:      0.15,
			Gamma:     0.05,
			Delta:     0.05,
			Epsilon:   0.05,
			UpdatedAt: time.Now().UTC(),
		}).Error
	} else if err != nil {
		return err
	}
	return nil
}

// createChatReconciliationView unions the canonical chat_messages table with
// any legacy fragmented tables found in the file. Legacy ids are offset so
// they cannot collide with canonical ids; new writes always go to
// chat_messages only.
func createChatReconciliationView(tx *gorm.DB) error {
	const legacyOffset = 1_000_000_000

	selects := []string{
		`SELECT id, conversation_id, role, content, agent_name, source_tool, created_at FROM chat_messages`,
	}
	if tableExists(tx, "chat_history") {
		selects = append(selects, fmt.Sprintf(
			`SELECT id + %d, conversation_id, role, content, NULL, NULL, created_at FROM chat_history`,
			legacyOffset))
	}
	if tableExists(tx, "tool_chat_log") {
		selects = append(selects, fmt.Sprintf(
			`SELECT id + %d, conversation_id, 'assistant', content, NULL, tool_name, created_at FROM tool_chat_log`,
			2*legacyOffset))
	}

	if err := tx.Exec(`DROP VIEW IF EXISTS chat_messages_all`).Error; err != nil {
		return err
	}
	stmt := `CREATE VIEW chat_messages_all (id, conversation_id, role, content, agent_name, source_tool, created_at) AS ` +
		strings.Join(selects, " UNION ALL ")
	return tx.Exec(stmt).Error
}

func createRetrievalIndexes(tx *gorm.DB) error {
	return tx.Exec(
		`CREATE INDEX IF NOT EXISTS idx_chunks_type_recency
		 ON resource_chunks(archived, created_at DESC)`,
	).Error
}

func tableExists(tx *gorm.DB, name string) bool {
	var count int64
	tx.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	return count > 0
}
