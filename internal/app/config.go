package app

import (
	"fmt"
	"time"

	"github.com/contextkeep/ltmc/internal/platform/envutil"
	"github.com/contextkeep/ltmc/internal/rpc"
)

// Config is the process configuration, read once from the environment at
// startup. Retrieval weights are the exception: the RANK_* variables only
// seed the database row, which callers can change at runtime.
type Config struct {
	LogMode string

	DBPath          string
	VectorIndexPath string

	EmbeddingProvider string
	EmbeddingDim      int

	ChunkSize    int
	ChunkOverlap int

	RankAlpha   float64
	RankBeta    float64
	RankGamma   float64
	RankDelta   float64
	RankEpsilon float64

	Overfetch     int
	ContextBudget int
	RecencyTau    time.Duration

	BreakerFails    int
	BreakerCooldown time.Duration

	CacheHost    string
	CacheEnabled bool
	GraphURI     string
	GraphEnabled bool

	EnableAuth bool
	APIToken   string

	HTTPEnabled bool
	HTTPAddr    string

	MaxInFlight    int
	ToolTimeout    time.Duration
	RepairInterval time.Duration
}

func LoadConfig() *Config {
	return &Config{
		LogMode: envutil.String("LOG_MODE", "prod"),

		DBPath:          envutil.String("DB_PATH", "data/ltmc.db"),
		VectorIndexPath: envutil.String("VECTOR_INDEX_PATH", "data/vector_index.db"),

		EmbeddingProvider: envutil.String("EMBEDDING_PROVIDER", "local"),
		EmbeddingDim:      envutil.Int("EMBEDDING_DIM", 384),

		ChunkSize:    envutil.Int("CHUNK_SIZE", 512),
		ChunkOverlap: envutil.Int("CHUNK_OVERLAP", 50),

		RankAlpha:   envutil.Float("RANK_ALPHA", 0.7),
		RankBeta:    envutil.Float("RANK_BETA", 0.15),
		RankGamma:   envutil.Float("RANK_GAMMA", 0.05),
		RankDelta:   envutil.Float("RANK_DELTA", 0.05),
		RankEpsilon: envutil.Float("RANK_EPSILON", 0.05),

		Overfetch:     envutil.Int("OVERFETCH", 4),
		ContextBudget: envutil.Int("CONTEXT_BUDGET", 4000),
		RecencyTau:    envutil.Duration("RECENCY_TAU", 7*24*time.Hour),

		BreakerFails:    envutil.Int("BREAKER_FAILS", 5),
		BreakerCooldown: envutil.Duration("BREAKER_COOLDOWN_S", 30*time.Second),

		CacheHost:    envutil.String("CACHE_HOST", ""),
		CacheEnabled: envutil.Bool("CACHE_ENABLED", true),
		GraphURI:     envutil.String("GRAPH_URI", ""),
		GraphEnabled: envutil.Bool("GRAPH_ENABLED", true),

		EnableAuth: envutil.Bool("ENABLE_AUTH", false),
		APIToken:   envutil.String("API_TOKEN", ""),

		HTTPEnabled: envutil.Bool("HTTP_ENABLED", false),
		HTTPAddr:    envutil.String("HTTP_ADDR", ":8040"),

		MaxInFlight:    envutil.Int("MAX_IN_FLIGHT", 32),
		ToolTimeout:    envutil.Duration("TOOL_TIMEOUT_S", 30*time.Second),
		RepairInterval: envutil.Duration("REPAIR_INTERVAL_S", 60*time.Second),
	}
}

// Schema enumerates the recognized environment variables for the config
// tool.
func (c *Config) Schema() []rpc.ConfigOption {
	return []rpc.ConfigOption{
		{Name: "LOG_MODE", Type: "string", Default: "prod", Description: "logger mode: dev or prod"},
		{Name: "DB_PATH", Type: "string", Default: "data/ltmc.db", Description: "SQLite database file, the durable tier"},
		{Name: "VECTOR_INDEX_PATH", Type: "string", Default: "data/vector_index.db", Description: "sqlite-vec ANN index file"},
		{Name: "EMBEDDING_PROVIDER", Type: "string", Default: "local", Description: "embedding backend: local or ollama"},
		{Name: "EMBEDDING_DIM", Type: "int", Default: "384", Description: "embedding dimensionality; must match the index"},
		{Name: "CHUNK_SIZE", Type: "int", Default: "512", Description: "chunk target size in runes"},
		{Name: "CHUNK_OVERLAP", Type: "int", Default: "50", Description: "overlap carried between adjacent chunks"},
		{Name: "RANK_ALPHA", Type: "float", Default: "0.7", Description: "similarity weight seed"},
		{Name: "RANK_BETA", Type: "float", Default: "0.15", Description: "recency weight seed"},
		{Name: "RANK_GAMMA", Type: "float", Default: "0.05", Description: "frequency weight seed"},
		{Name: "RANK_DELTA", Type: "float", Default: "0.05", Description: "length-boost weight seed"},
		{Name: "RANK_EPSILON", Type: "float", Default: "0.05", Description: "type-boost weight seed"},
		{Name: "OVERFETCH", Type: "int", Default: "4", Description: "ANN fan-out multiplier before reranking"},
		{Name: "CONTEXT_BUDGET", Type: "int", Default: "4000", Description: "assembled context budget in runes"},
		{Name: "RECENCY_TAU", Type: "duration", Default: "604800", Description: "recency e-folding time, seconds or Go duration"},
		{Name: "BREAKER_FAILS", Type: "int", Default: "5", Description: "consecutive failures before a tier breaker opens"},
		{Name: "BREAKER_COOLDOWN_S", Type: "duration", Default: "30", Description: "breaker cooldown before a half-open probe"},
		{Name: "CACHE_HOST", Type: "string", Default: "", Description: "Redis host; empty disables the cache tier"},
		{Name: "CACHE_PORT", Type: "int", Default: "6379", Description: "Redis port"},
		{Name: "CACHE_PASSWORD", Type: "string", Default: "", Description: "Redis password"},
		{Name: "CACHE_ENABLED", Type: "bool", Default: "true", Description: "cache tier switch"},
		{Name: "GRAPH_URI", Type: "string", Default: "", Description: "Neo4j bolt URI; empty disables the graph tier"},
		{Name: "GRAPH_USER", Type: "string", Default: "", Description: "Neo4j user"},
		{Name: "GRAPH_PASSWORD", Type: "string", Default: "", Description: "Neo4j password"},
		{Name: "GRAPH_ENABLED", Type: "bool", Default: "true", Description: "graph tier switch"},
		{Name: "ENABLE_AUTH", Type: "bool", Default: "false", Description: "token gate on write-shaped tools and the HTTP transport"},
		{Name: "API_TOKEN", Type: "string", Default: "", Description: "shared secret when auth is enabled"},
		{Name: "HTTP_ENABLED", Type: "bool", Default: "false", Description: "serve the HTTP transport alongside stdio"},
		{Name: "HTTP_ADDR", Type: "string", Default: ":8040", Description: "HTTP listen address"},
		{Name: "MAX_IN_FLIGHT", Type: "int", Default: "32", Description: "concurrent request bound before Overloaded"},
		{Name: "TOOL_TIMEOUT_S", Type: "duration", Default: "30", Description: "default per-tool deadline"},
		{Name: "REPAIR_INTERVAL_S", Type: "duration", Default: "60", Description: "background repair loop interval"},
	}
}

// Validate reports configuration problems without failing startup; the
// config tool surfaces them.
func (c *Config) Validate() []string {
	var issues []string
	if c.EmbeddingDim <= 0 {
		issues = append(issues, "EMBEDDING_DIM must be positive")
	}
	switch c.EmbeddingProvider {
	case "local", "ollama":
	default:
		issues = append(issues, fmt.Sprintf("EMBEDDING_PROVIDER %q is not one of local, ollama", c.EmbeddingProvider))
	}
	if c.ChunkSize <= 0 {
		issues = append(issues, "CHUNK_SIZE must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		issues = append(issues, "CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	for name, v := range map[string]float64{
		"RANK_ALPHA":   c.RankAlpha,
		"RANK_BETA":    c.RankBeta,
		"RANK_GAMMA":   c.RankGamma,
		"RANK_DELTA":   c.RankDelta,
		"RANK_EPSILON": c.RankEpsilon,
	} {
		if v < 0 {
			issues = append(issues, name+" must be non-negative")
		}
	}
	if c.Overfetch <= 0 {
		issues = append(issues, "OVERFETCH must be positive")
	}
	if c.BreakerFails <= 0 {
		issues = append(issues, "BREAKER_FAILS must be positive")
	}
	if c.EnableAuth && c.APIToken == "" {
		issues = append(issues, "ENABLE_AUTH is set but API_TOKEN is empty")
	}
	return issues
}

// Export returns the effective configuration with secrets redacted.
func (c *Config) Export() map[string]any {
	redactedToken := ""
	if c.APIToken != "" {
		redactedToken = "[REDACTED]"
	}
	return map[string]any{
		"log_mode":           c.LogMode,
		"db_path":            c.DBPath,
		"vector_index_path":  c.VectorIndexPath,
		"embedding_provider": c.EmbeddingProvider,
		"embedding_dim":      c.EmbeddingDim,
		"chunk_size":         c.ChunkSize,
		"chunk_overlap":      c.ChunkOverlap,
		"overfetch":          c.Overfetch,
		"context_budget":     c.ContextBudget,
		"recency_tau_s":      int(c.RecencyTau.Seconds()),
		"breaker_fails":      c.BreakerFails,
		"breaker_cooldown_s": int(c.BreakerCooldown.Seconds()),
		"cache_configured":   c.CacheHost != "" && c.CacheEnabled,
		"graph_configured":   c.GraphURI != "" && c.GraphEnabled,
		"enable_auth":        c.EnableAuth,
		"api_token":          redactedToken,
		"http_enabled":       c.HTTPEnabled,
		"http_addr":          c.HTTPAddr,
		"max_in_flight":      c.MaxInFlight,
		"tool_timeout_s":     int(c.ToolTimeout.Seconds()),
		"repair_interval_s":  int(c.RepairInterval.Seconds()),
	}
}
