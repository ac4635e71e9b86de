// Package embedding turns chunk text into fixed-width vectors. The engine is
// an opaque deterministic function: the same text always produces the same
// vector, which is what makes the ANN tier rebuildable.
package embedding

import (
	"context"
	"fmt"

	"github.com/contextkeep/ltmc/internal/platform/envutil"
	"github.com/contextkeep/ltmc/internal/platform/logger"
)

// DefaultDimensions is the vector width the index is provisioned for.
const DefaultDimensions = 384

type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// NewFromEnv selects the engine from EMBEDDING_PROVIDER. The hashing engine
// is the default: fully local, no model download, deterministic.
func NewFromEnv(log *logger.Logger) (Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("embedding: logger required")
	}

	dim := envutil.Int("EMBEDDING_DIM", DefaultDimensions)
	if dim <= 0 {
		return nil, fmt.Errorf("embedding: invalid EMBEDDING_DIM %d", dim)
	}

	provider := envutil.String("EMBEDDING_PROVIDER", "local")
	switch provider {
	case "local":
		return NewHashingEngine(dim), nil
	case "ollama":
		return NewOllamaEngine(
			envutil.String("OLLAMA_ENDPOINT", "http://localhost:11434"),
			envutil.String("OLLAMA_MODEL", "nomic-embed-text"),
			dim,
		), nil
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q (use 'local' or 'ollama')", provider)
	}
}
