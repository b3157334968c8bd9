// Package redis implements the lookup cache on a Redis instance so
// repeated runs and multiple workers share resolved terms.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "swatchsync:lookup:"

// Config parameterizes the Redis connection and entry lifetime.
type Config struct {
	Addr string
	DB   int
	TTL  time.Duration
}

// Cache is a swatch.LookupCache backed by Redis. Read errors degrade
// to misses so a flapping cache never fails a run.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl, logger: logger.Named("cache")}, nil
}

// Get looks up the cached value for term. Errors are logged and
// reported as misses.
func (c *Cache) Get(ctx context.Context, term string) (string, bool, error) {
	value, err := c.client.Get(ctx, key(term)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		c.logger.Warn("cache read failed, treating as miss",
			zap.String("term", term), zap.Error(err))
		return "", false, nil
	}
	return value, true, nil
}

// Set stores the resolved value for term with the configured TTL.
func (c *Cache) Set(ctx context.Context, term, value string) error {
	if err := c.client.Set(ctx, key(term), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache write for %q: %w", term, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func key(term string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(term))
}
