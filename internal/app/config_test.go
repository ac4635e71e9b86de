package app

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	if cfg.DBPath != "data/ltmc.db" {
		t.Fatalf("db path: want=data/ltmc.db got=%s", cfg.DBPath)
	}
	if cfg.EmbeddingDim != 384 || cfg.EmbeddingProvider != "local" {
		t.Fatalf("embedding defaults: dim=%d provider=%s", cfg.EmbeddingDim, cfg.EmbeddingProvider)
	}
	if cfg.ChunkSize != 512 || cfg.ChunkOverlap != 50 {
		t.Fatalf("chunk defaults: size=%d overlap=%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.ToolTimeout != 30*time.Second || cfg.RepairInterval != 60*time.Second {
		t.Fatalf("duration defaults: timeout=%v repair=%v", cfg.ToolTimeout, cfg.RepairInterval)
	}
	if issues := cfg.Validate(); len(issues) != 0 {
		t.Fatalf("defaults must validate cleanly: %v", issues)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("RECENCY_TAU", "3600")
	t.Setenv("BREAKER_COOLDOWN_S", "10")
	t.Setenv("ENABLE_AUTH", "true")
	t.Setenv("API_TOKEN", "secret")

	cfg := LoadConfig()
	if cfg.EmbeddingDim != 128 {
		t.Fatalf("dim override: want=128 got=%d", cfg.EmbeddingDim)
	}
	if cfg.RecencyTau != time.Hour {
		t.Fatalf("bare-seconds duration: want=1h got=%v", cfg.RecencyTau)
	}
	if cfg.BreakerCooldown != 10*time.Second {
		t.Fatalf("cooldown override: want=10s got=%v", cfg.BreakerCooldown)
	}
	if !cfg.EnableAuth || cfg.APIToken != "secret" {
		t.Fatalf("auth settings: enabled=%v token=%q", cfg.EnableAuth, cfg.APIToken)
	}
}

func TestValidateFlagsBrokenSettings(t *testing.T) {
	cfg := LoadConfig()
	cfg.EmbeddingProvider = "remote"
	cfg.ChunkOverlap = cfg.ChunkSize
	cfg.RankBeta = -1
	cfg.EnableAuth = true
	cfg.APIToken = ""

	issues := cfg.Validate()
	for _, want := range []string{
		"EMBEDDING_PROVIDER",
		"CHUNK_OVERLAP",
		"RANK_BETA",
		"API_TOKEN",
	} {
		found := false
		for _, issue := range issues {
			if strings.Contains(issue, want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("issue mentioning %s missing from %v", want, issues)
		}
	}
}

func TestExportRedactsToken(t *testing.T) {
	cfg := LoadConfig()
	cfg.APIToken = "super-secret"
	cfg.CacheHost = "localhost"

	out := cfg.Export()
	if out["api_token"] != "[REDACTED]" {
		t.Fatalf("token leaked: %v", out["api_token"])
	}
	if out["cache_configured"] != true {
		t.Fatalf("cache_configured: %v", out["cache_configured"])
	}

	cfg.APIToken = ""
	if got := cfg.Export()["api_token"]; got != "" {
		t.Fatalf("empty token must export empty, got %v", got)
	}
}

func TestSchemaCoversEveryOption(t *testing.T) {
	schema := LoadConfig().Schema()
	seen := make(map[string]bool, len(schema))
	for _, opt := range schema {
		if opt.Name == "" || opt.Type == "" || opt.Description == "" {
			t.Fatalf("incomplete option: %+v", opt)
		}
		if seen[opt.Name] {
			t.Fatalf("duplicate option %s", opt.Name)
		}
		seen[opt.Name] = true
	}
	for _, name := range []string{"DB_PATH", "EMBEDDING_DIM", "RANK_ALPHA", "GRAPH_URI", "API_TOKEN"} {
		if !seen[name] {
			t.Fatalf("schema missing %s", name)
		}
	}
}
