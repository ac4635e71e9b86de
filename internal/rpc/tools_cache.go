package rpc

import (
	"context"
	"errors"
	"time"

	goredis "github.com/contextkeep/ltmc/internal/clients/redis"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

const defaultCacheTTL = time.Hour

func cacheTool(deps Deps) *Tool {
	return &Tool{
		Name:        "cache",
		Description: "Direct access to the acceleration cache tier, with miss semantics when the tier is down.",
		WriteShaped: true,
		Actions: map[string]Handler{
			"get":          cacheGet(deps),
			"set":          cacheSet(deps),
			"del":          cacheDel(deps),
			"flush":        cacheFlush(deps),
			"stats":        cacheStats(deps),
			"health_check": cacheHealthCheck(deps),
		},
	}
}

func cacheGet(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		if deps.Cache == nil {
			return map[string]any{"found": false, "degraded": true}, nil
		}
		value, err := deps.Cache.Get(ctx, key)
		if errors.Is(err, goredis.ErrNotFound) {
			return map[string]any{"found": false}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"found": true, "value": value}, nil
	}
}

func cacheSet(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		value, ok := args["value"].(string)
		if !ok {
			return nil, ltmerr.Newf(ltmerr.KindInvalidParams, "cache.set", "argument \"value\" must be a string")
		}
		ttl := time.Duration(optIntArg(args, "ttl_seconds", 0)) * time.Second
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		if deps.Cache == nil {
			// Dropped write: the cache only ever holds rebuildable state.
			return map[string]any{"stored": false, "degraded": true}, nil
		}
		if err := deps.Cache.SetEx(ctx, key, value, ttl); err != nil {
			return nil, err
		}
		return map[string]any{"stored": true, "ttl_seconds": int(ttl.Seconds())}, nil
	}
}

func cacheDel(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		if deps.Cache == nil {
			return map[string]any{"deleted": false, "degraded": true}, nil
		}
		if err := deps.Cache.Del(ctx, key); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	}
}

func cacheFlush(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		if deps.Cache == nil {
			return map[string]any{"flushed": 0, "degraded": true}, nil
		}
		n, err := deps.Cache.FlushPrefix(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"flushed": n}, nil
	}
}

func cacheStats(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		if deps.Cache == nil {
			return map[string]any{"connected": false, "keys": 0, "degraded": true}, nil
		}
		keys, err := deps.Cache.Keys(ctx, "*")
		if err != nil {
			return nil, err
		}
		return map[string]any{"connected": true, "keys": len(keys)}, nil
	}
}

func cacheHealthCheck(deps Deps) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		if deps.Cache == nil {
			return map[string]any{"healthy": false, "configured": false}, nil
		}
		started := time.Now()
		if err := deps.Cache.Ping(ctx); err != nil {
			return map[string]any{"healthy": false, "configured": true, "error": err.Error()}, nil
		}
		return map[string]any{
			"healthy":    true,
			"configured": true,
			"latency_ms": float64(time.Since(started).Microseconds()) / 1000.0,
		}, nil
	}
}
