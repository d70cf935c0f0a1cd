package neo4jdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/ragerr"
)

// Client owns the driver for one session of graph work: opened once, shared by
// every operation, closed exactly once on the way out. Operations after Close
// fail with ragerr.KindConnectionClosed.
type Client struct {
	Database string

	mu     sync.RWMutex
	driver neo4j.DriverWithContext
	log    *logger.Logger
}

func New(ctx context.Context, cfg config.Neo4jConfig, log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4jdb: uri required")
	}

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
		}
		if cfg.Timeout > 0 {
			c.SocketConnectTimeout = cfg.Timeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	verifyCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	return &Client{
		Database: cfg.Database,
		driver:   driver,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

// Driver returns the live driver, or an error once the client is closed.
func (c *Client) Driver() (neo4j.DriverWithContext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.driver == nil {
		return nil, ragerr.Newf(ragerr.KindConnectionClosed, "neo4jdb: use after close")
	}
	return c.driver, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	driver := c.driver
	c.driver = nil
	c.mu.Unlock()
	if driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := driver.Close(ctx)
	c.log.Info("graph connection closed")
	return err
}
