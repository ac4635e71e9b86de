package rpc

import (
	goredis "github.com/contextkeep/ltmc/internal/clients/redis"
	"github.com/contextkeep/ltmc/internal/consistency"
	"github.com/contextkeep/ltmc/internal/data/graph"
	"github.com/contextkeep/ltmc/internal/data/repos"
	"github.com/contextkeep/ltmc/internal/ingestion/chunker"
	"github.com/contextkeep/ltmc/internal/memory"
	"github.com/contextkeep/ltmc/internal/platform/metrics"
	"github.com/contextkeep/ltmc/internal/retrieval"
	"github.com/contextkeep/ltmc/internal/thought"
)

// ConfigOption describes one recognized environment variable for the config
// tool's schema action.
type ConfigOption struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

// ConfigView is the read surface the config tool exposes. The concrete
// implementation lives with the process configuration.
type ConfigView interface {
	Schema() []ConfigOption
	Validate() []string
	Export() map[string]any
}

// Deps carries every service the tool catalog dispatches into. Graph and
// Cache are nil when their tiers are not configured; handlers degrade
// rather than fail.
type Deps struct {
	Memory      memory.Service
	Retrieval   retrieval.Service
	Thought     thought.Service
	Consistency consistency.Manager
	Chat        repos.ChatRepo
	Todos       repos.TodoRepo
	Graph       graph.Store
	Cache       goredis.Cache
	ChunkOpts   chunker.Options
	Config      ConfigView
	Metrics     *metrics.Registry
}

// RegisterAll installs the fixed tool catalog. Order here is the order
// tools/list reports.
func RegisterAll(d *Dispatcher, deps Deps) {
	d.Register(memoryTool(deps))
	d.Register(chatTool(deps))
	d.Register(todoTool(deps))
	d.Register(contextLinksTool(deps))
	d.Register(graphTool(deps))
	d.Register(cacheTool(deps))
	d.Register(patternTool(deps))
	d.Register(syncTool(deps))
	d.Register(configTool(deps))
	d.Register(thoughtTool(deps))
}
