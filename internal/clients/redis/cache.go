// Package redis is the cache tier. It is optional: when CACHE_HOST is unset
// or CACHE_ENABLED is false, NewCache returns (nil, nil) and everything reads
// through to SQLite.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/contextkeep/ltmc/internal/platform/envutil"
	"github.com/contextkeep/ltmc/internal/platform/logger"
)

// All keys carry this prefix so a shared Redis can be flushed per-service.
const keyPrefix = "ltmc:"

// sessionHeadTTL bounds how long a reasoning session's head pointer lives.
const sessionHeadTTL = 24 * time.Hour

// ErrNotFound reports a cache miss.
var ErrNotFound = errors.New("redis: key not found")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)

	// AdvanceHead moves a session's head pointer with a CAS loop so two
	// writers cannot both win.
	AdvanceHead(ctx context.Context, sessionID, prevID, nextID string) error

	FlushPrefix(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

type cache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewCache(log *logger.Logger) (Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	host := envutil.String("CACHE_HOST", "")
	if host == "" || !envutil.Bool("CACHE_ENABLED", true) {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        fmt.Sprintf("%s:%d", host, envutil.Int("CACHE_PORT", 6379)),
		Password:    envutil.String("CACHE_PASSWORD", ""),
		DB:          envutil.Int("CACHE_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &cache{
		log: log.With("client", "RedisCache"),
		rdb: rdb,
	}, nil
}

func (c *cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (c *cache) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (c *cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	return c.rdb.Del(ctx, prefixed...).Err()
}

func (c *cache) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, keyPrefix+key).Result()
}

func (c *cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			out = append(out, k[len(keyPrefix):])
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (c *cache) AdvanceHead(ctx context.Context, sessionID, prevID, nextID string) error {
	key := keyPrefix + "session:" + sessionID + ":head"

	txn := func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if cur != "" && cur != prevID {
			return fmt.Errorf("redis: session %s head moved: have %s want %s", sessionID, cur, prevID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, nextID, sessionHeadTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := c.rdb.Watch(ctx, txn, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis: session %s head contended, giving up", sessionID)
}

func (c *cache) FlushPrefix(ctx context.Context) (int64, error) {
	var removed int64
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", 200).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			removed += n
			if err != nil {
				return removed, err
			}
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func (c *cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *cache) Close() error {
	return c.rdb.Close()
}
