// Package domain holds the persisted entities of the memory engine. SQLite
// rows are the durable truth; the vector index, graph and cache hold
// projections that can always be rebuilt from here.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Resource types form an open vocabulary; these are the ones the engine
// itself assigns or filters on.
const (
	ResourceTypeDocument = "document"
	ResourceTypeCode     = "code"
	ResourceTypeNote     = "note"
	ResourceTypeSummary  = "summary"
	ResourceTypeThought  = "thought"
)

// Resource is a logical document. The body is immutable after ingestion;
// re-ingesting the same file name either replaces all chunks or fails,
// per caller choice.
type Resource struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	FileName  string         `gorm:"type:text;not null;uniqueIndex" json:"file_name"`
	Type      string         `gorm:"type:text;not null;index;default:document" json:"type"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	Metadata  datatypes.JSON `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Resource) TableName() string { return "resources" }

// ResourceChunk is the unit of embedding and retrieval. Once VectorID is
// assigned it equals the vector's position in the ANN index and is never
// reused, even after deletion.
type ResourceChunk struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ResourceID      int64      `gorm:"not null;index;uniqueIndex:idx_chunk_resource_ordinal,priority:1" json:"resource_id"`
	ChunkIndex      int        `gorm:"not null;uniqueIndex:idx_chunk_resource_ordinal,priority:2" json:"chunk_index"`
	Text            string     `gorm:"type:text;not null" json:"text"`
	VectorID        *int64     `gorm:"uniqueIndex" json:"vector_id,omitempty"`
	Archived        bool       `gorm:"not null;default:false;index" json:"archived"`
	RetrievedCount  int64      `gorm:"not null;default:0" json:"retrieved_count"`
	LastRetrievedAt *time.Time `json:"last_retrieved_at,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;index" json:"created_at"`
}

func (ResourceChunk) TableName() string { return "resource_chunks" }

// VectorSequence is the single-row allocator for dense vector ids. NextID
// only ever moves forward; allocation happens inside a serialized
// transaction.
type VectorSequence struct {
	ID     int64 `gorm:"primaryKey" json:"id"`
	NextID int64 `gorm:"not null;default:0" json:"next_id"`
}

func (VectorSequence) TableName() string { return "vector_id_sequence" }

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is a role-tagged conversation line. Append-only.
type ChatMessage struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string         `gorm:"type:text;not null;index" json:"conversation_id"`
	Role           string         `gorm:"type:text;not null" json:"role"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	AgentName      string         `gorm:"type:text" json:"agent_name,omitempty"`
	SourceTool     string         `gorm:"type:text;index" json:"source_tool,omitempty"`
	Metadata       datatypes.JSON `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// ContextLink records that a chat message was answered using a chunk.
// Append-only; duplicates are idempotent no-ops.
type ContextLink struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID int64     `gorm:"not null;index;uniqueIndex:idx_link_message_chunk,priority:1" json:"message_id"`
	ChunkID   int64     `gorm:"not null;index;uniqueIndex:idx_link_message_chunk,priority:2" json:"chunk_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (ContextLink) TableName() string { return "context_links" }

// Todo status and priority vocabularies.
const (
	TodoStatusPending   = "pending"
	TodoStatusCompleted = "completed"

	TodoPriorityLow    = "low"
	TodoPriorityMedium = "medium"
	TodoPriorityHigh   = "high"
)

type Todo struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string     `gorm:"type:text;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"type:text;not null;index;default:pending" json:"status"`
	Priority    string     `gorm:"type:text;not null;default:medium" json:"priority"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Todo) TableName() string { return "todos" }

// RetrievalWeights is the single-row record of the hybrid-rank coefficients.
type RetrievalWeights struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Alpha     float64   `gorm:"not null;default:0.7" json:"alpha"`
	Beta      float64   `gorm:"not null;default:0.15" json:"beta"`
	Gamma     float64   `gorm:"not null;default:0.05" json:"gamma"`
	Delta     float64   `gorm:"not null;default:0.05" json:"delta"`
	Epsilon   float64   `gorm:"not null;default:0.05" json:"epsilon"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (RetrievalWeights) TableName() string { return "retrieval_weights" }

// RepairEntry is a durable record of a chunk whose vector-index write failed
// and must be retried. Quarantined entries stay for inspection and surface
// through health.
type RepairEntry struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ResourceID    int64      `gorm:"not null;index" json:"resource_id"`
	ChunkID       int64      `gorm:"not null;uniqueIndex" json:"chunk_id"`
	VectorID      int64      `gorm:"not null" json:"vector_id"`
	Text          string     `gorm:"type:text;not null" json:"text"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	QuarantinedAt *time.Time `gorm:"index" json:"quarantined_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
}

func (RepairEntry) TableName() string { return "repair_queue" }

// SchemaVersion drives idempotent migrations at startup.
type SchemaVersion struct {
	ID      int64 `gorm:"primaryKey" json:"id"`
	Version int   `gorm:"not null" json:"version"`
}

func (SchemaVersion) TableName() string { return "schema_version" }

// Thought kinds.
const (
	ThoughtKindProblem      = "problem"
	ThoughtKindIntermediate = "intermediate"
	ThoughtKindConclusion   = "conclusion"
)

// ThoughtMeta is the metadata payload stored on a thought Resource. It is
// what makes the resource traversable as a reasoning-chain node.
type ThoughtMeta struct {
	SessionID         string `json:"session_id"`
	StepNumber        int    `json:"step_number"`
	Kind              string `json:"kind"`
	PreviousThoughtID string `json:"previous_thought_id,omitempty"`
	ContentHash       string `json:"content_hash"`
	ULID              string `json:"ulid"`
}

// Relation types understood by the graph adapter; the vocabulary is open,
// these are the ones the engine writes itself.
const (
	RelationReferences = "references"
	RelationImplements = "implements"
	RelationDependsOn  = "depends_on"
	RelationRelatedTo  = "related_to"
	RelationNext       = "NEXT"
	RelationVersionOf  = "version_of"
)
