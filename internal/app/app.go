// Package app wires the tiers, services and transports into one process
// and owns startup and shutdown order.
package app

import (
	"context"
	"os"
	"time"

	goredis "github.com/contextkeep/ltmc/internal/clients/redis"
	"github.com/contextkeep/ltmc/internal/consistency"
	"github.com/contextkeep/ltmc/internal/data/db"
	"github.com/contextkeep/ltmc/internal/data/graph"
	"github.com/contextkeep/ltmc/internal/data/repos"
	"github.com/contextkeep/ltmc/internal/embedding"
	"github.com/contextkeep/ltmc/internal/httpapi"
	"github.com/contextkeep/ltmc/internal/ingestion/chunker"
	"github.com/contextkeep/ltmc/internal/memory"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/metrics"
	"github.com/contextkeep/ltmc/internal/platform/neo4jdb"
	"github.com/contextkeep/ltmc/internal/retrieval"
	"github.com/contextkeep/ltmc/internal/rpc"
	"github.com/contextkeep/ltmc/internal/syncer"
	"github.com/contextkeep/ltmc/internal/thought"
	"github.com/contextkeep/ltmc/internal/vector"
)

type App struct {
	cfg *Config
	log *logger.Logger

	sqlite *db.SQLiteService
	index  vector.Index
	neo4j  *neo4jdb.Client
	cache  goredis.Cache

	consistency consistency.Manager
	memory      memory.Service
	dispatcher  *rpc.Dispatcher
	httpServer  *httpapi.Server
}

// New builds the whole engine. The relational tier is required and any
// failure there aborts startup. The vector tier falls back to a degraded
// stand-in, and graph and cache come up nil when not configured; every
// caller degrades around them.
func New() (*App, error) {
	cfg := LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	for _, issue := range cfg.Validate() {
		log.Warn("configuration issue", "issue", issue)
	}

	sqlite, err := db.NewSQLiteService(log, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlite.MigrateAll(); err != nil {
		return nil, err
	}

	index, err := vector.NewIndex(log, cfg.VectorIndexPath, cfg.EmbeddingDim)
	if err != nil {
		log.Warn("vector index unavailable, continuing degraded", "error", err)
		index = vector.NewDegraded(cfg.EmbeddingDim)
	}

	embedder, err := embedding.NewFromEnv(log)
	if err != nil {
		return nil, err
	}

	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("graph tier unavailable, continuing without it", "error", err)
		neo4jClient = nil
	}
	var graphStore graph.Store
	if neo4jClient != nil {
		graphStore = graph.NewStore(neo4jClient, log)
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := graphStore.EnsureSchema(schemaCtx); err != nil {
			log.Warn("graph schema setup failed", "error", err)
		}
		cancel()
	}

	cache, err := goredis.NewCache(log)
	if err != nil {
		log.Warn("cache tier unavailable, continuing without it", "error", err)
		cache = nil
	}

	gdb := sqlite.DB()
	resources := repos.NewResourceRepo(gdb, log)
	chunks := repos.NewChunkRepo(gdb, log)
	repairs := repos.NewRepairRepo(gdb, log)
	weights := repos.NewWeightsRepo(gdb, log)
	chat := repos.NewChatRepo(gdb, log)
	todos := repos.NewTodoRepo(gdb, log)

	coord := syncer.NewCoordinator(syncer.Deps{
		DB:        gdb,
		Resources: resources,
		Chunks:    chunks,
		Repairs:   repairs,
		Index:     index,
		Graph:     graphStore,
		Cache:     cache,
		Embedder:  embedder,
		Log:       log,
		FailLimit: cfg.BreakerFails,
		CoolDown:  cfg.BreakerCooldown,
	})

	cons := consistency.NewManager(chunks, repairs, index, embedder, log)

	chunkOpts := chunker.Options{TargetSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	mem := memory.NewService(coord, cons, resources, chunks, index, chunkOpts, log)
	retr := retrieval.NewService(embedder, index, chunks, chat, weights, cache, coord, retrieval.Config{
		Overfetch:     cfg.Overfetch,
		ContextBudget: cfg.ContextBudget,
		RecencyTau:    cfg.RecencyTau,
	}, log)
	thoughts := thought.NewService(mem, retr, resources, graphStore, cache, log)

	if err := seedWeightOverrides(cfg, weights); err != nil {
		log.Warn("rank weight seeding failed", "error", err)
	}

	reg := metrics.NewRegistry()
	disp := rpc.NewDispatcher(log, reg, rpc.Options{
		MaxInFlight:    int64(cfg.MaxInFlight),
		DefaultTimeout: cfg.ToolTimeout,
		AuthEnabled:    cfg.EnableAuth,
		APIToken:       cfg.APIToken,
	})
	rpc.RegisterAll(disp, rpc.Deps{
		Memory:      mem,
		Retrieval:   retr,
		Thought:     thoughts,
		Consistency: cons,
		Chat:        chat,
		Todos:       todos,
		Graph:       graphStore,
		Cache:       cache,
		ChunkOpts:   chunkOpts,
		Config:      cfg,
		Metrics:     reg,
	})

	a := &App{
		cfg:         cfg,
		log:         log,
		sqlite:      sqlite,
		index:       index,
		neo4j:       neo4jClient,
		cache:       cache,
		consistency: cons,
		memory:      mem,
		dispatcher:  disp,
	}
	if cfg.HTTPEnabled {
		a.httpServer = httpapi.NewServer(httpapi.Config{
			Addr:        cfg.HTTPAddr,
			AuthEnabled: cfg.EnableAuth,
			APIToken:    cfg.APIToken,
		}, disp, mem, reg, log)
	}
	return a, nil
}

// seedWeightOverrides writes the RANK_* environment values into the weights
// row once at startup, when any of them is explicitly set. Runtime updates
// through the config tool win afterwards.
func seedWeightOverrides(cfg *Config, weightsRepo repos.WeightsRepo) error {
	set := false
	for _, name := range []string{"RANK_ALPHA", "RANK_BETA", "RANK_GAMMA", "RANK_DELTA", "RANK_EPSILON"} {
		if _, ok := os.LookupEnv(name); ok {
			set = true
			break
		}
	}
	if !set {
		return nil
	}
	dbc := dbctx.New(context.Background())
	w, err := weightsRepo.Get(dbc)
	if err != nil {
		return err
	}
	w.Alpha = cfg.RankAlpha
	w.Beta = cfg.RankBeta
	w.Gamma = cfg.RankGamma
	w.Delta = cfg.RankDelta
	w.Epsilon = cfg.RankEpsilon
	return weightsRepo.Set(dbc, w)
}

// Run serves stdio until ctx is cancelled or stdin closes, then shuts the
// engine down in reverse dependency order.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("engine starting",
		"db", a.cfg.DBPath,
		"vector_index", a.cfg.VectorIndexPath,
		"graph", a.neo4j != nil,
		"cache", a.cache != nil,
		"http", a.cfg.HTTPEnabled)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.repairLoop(runCtx)

	if a.httpServer != nil {
		go func() {
			if err := a.httpServer.Start(); err != nil {
				a.log.Error("http transport failed", "error", err)
			}
		}()
	}

	serveErr := a.dispatcher.Serve(runCtx, os.Stdin, os.Stdout)
	a.shutdown()
	return serveErr
}

// repairLoop retries failed vector writes in the background so degraded
// stores converge without operator action.
func (a *App) repairLoop(ctx context.Context) {
	if a.cfg.RepairInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.RepairInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.consistency.RepairPending(ctx, 100)
			if err != nil {
				a.log.Warn("repair pass failed", "error", err)
				continue
			}
			if report.Processed > 0 {
				a.log.Info("repair pass",
					"processed", report.Processed,
					"repaired", report.Repaired,
					"quarantined", report.Quarantined)
			}
		}
	}
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown", "error", err)
		}
	}
	if err := a.index.Checkpoint(ctx); err != nil {
		a.log.Warn("vector index checkpoint", "error", err)
	}
	if err := a.index.Close(); err != nil {
		a.log.Warn("vector index close", "error", err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close", "error", err)
		}
	}
	if a.neo4j != nil {
		if err := a.neo4j.Close(ctx); err != nil {
			a.log.Warn("graph close", "error", err)
		}
	}
	if err := a.sqlite.Close(); err != nil {
		a.log.Warn("sqlite close", "error", err)
	}
	a.log.Info("engine stopped")
	a.log.Sync()
}
