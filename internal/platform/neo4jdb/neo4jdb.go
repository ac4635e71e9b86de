// Package neo4jdb wraps the Neo4j driver. The graph tier is optional: when
// GRAPH_URI is unset or GRAPH_ENABLED is false, NewFromEnv returns (nil, nil)
// and callers run without it.
package neo4jdb

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/contextkeep/ltmc/internal/platform/envutil"
	"github.com/contextkeep/ltmc/internal/platform/logger"
)

type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}

	uri := envutil.String("GRAPH_URI", "")
	if uri == "" || !envutil.Bool("GRAPH_ENABLED", true) {
		return nil, nil
	}

	user := envutil.String("GRAPH_USER", "neo4j")
	password := envutil.String("GRAPH_PASSWORD", "")
	database := envutil.String("GRAPH_DATABASE", "")
	timeout := time.Duration(envutil.Int("GRAPH_TIMEOUT_SECONDS", 10)) * time.Second
	maxPool := envutil.Int("GRAPH_MAX_POOL_SIZE", 50)

	auth := neo4j.BasicAuth(user, password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	return &Client{
		Driver:   driver,
		Database: database,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return fmt.Errorf("neo4jdb: not connected")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return c.Driver.VerifyConnectivity(ctx)
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
