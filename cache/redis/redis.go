// Package redis caches search responses in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/academick/academick"
)

// Defaults for the cache.
const (
	DefaultTTL    = time.Hour
	DefaultPrefix = "academick:search:"
)

// Cache implements academick.SearchCache. Entries expire after the TTL and
// are all dropped by Invalidate.
type Cache struct {
	rdb    goredis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

var _ academick.SearchCache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime. Default: 1h.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithPrefix sets the key namespace.
func WithPrefix(p string) Option {
	return func(c *Cache) { c.prefix = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New wraps an existing client. The caller owns the client.
func New(rdb goredis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, ttl: DefaultTTL, prefix: DefaultPrefix, logger: academick.NopLogger}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials addr and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *Cache) Get(ctx context.Context, key string) (academick.SearchResponse, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return academick.SearchResponse{}, false, nil
	}
	if err != nil {
		return academick.SearchResponse{}, false, fmt.Errorf("redis get: %w", err)
	}
	var resp academick.SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// A stale or foreign entry; treat as a miss.
		c.logger.Warn("drop undecodable cache entry", "key", key, "error", err)
		_ = c.rdb.Del(ctx, c.prefix+key).Err()
		return academick.SearchResponse{}, false, nil
	}
	return resp, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, resp academick.SearchResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode search response: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate deletes every key under the prefix, scanning in batches.
func (c *Cache) Invalidate(ctx context.Context) error {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, c.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Debug("search cache invalidated", "keys", deleted)
	return nil
}
