package redisdb

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
)

// Cache is a small advisory key/value cache over Redis. All errors are
// swallowed: a cache miss and a cache failure look the same to callers.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

// New returns nil when no Redis address is configured; a nil *Cache is safe
// to call and behaves as an always-miss cache.
func New(cfg config.RedisConfig, log *logger.Logger) *Cache {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{
		rdb: rdb,
		ttl: cfg.TTL,
		log: log.With("client", "RedisCache"),
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (c *Cache) Set(ctx context.Context, key string, val []byte) {
	if c == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.log.Debug("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
