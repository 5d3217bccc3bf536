// Package cache memoises search results in Redis. Keys include the index
// fingerprint, so results computed against one listing are never served for
// another, whether the index changed by a rebuild, a restart or on a
// different replica sharing the same Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/redis"
)

const keyPrefix = "zsearch:"

// KV is the subset of the Redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	client KV
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client KV, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, fingerprint string, terms []string, limit int) (*executor.SearchResult, bool) {
	key := buildKey(fingerprint, terms, limit)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "terms", terms, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, fingerprint string, terms []string, limit int, result *executor.SearchResult) {
	key := buildKey(fingerprint, terms, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached result or runs computeFn once per key, even
// when many requests miss at the same time. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	terms []string,
	limit int,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, fingerprint, terms, limit); ok {
		return result, true, nil
	}
	key := buildKey(fingerprint, terms, limit)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, fingerprint, terms, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate drops every cached result. Fingerprint-scoped keys make this
// optional after a rebuild; it reclaims memory before the TTL does.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey sorts terms but keeps repeats: order never changes a score,
// multiplicity does.
func buildKey(fingerprint string, terms []string, limit int) string {
	sorted := append([]string(nil), terms...)
	sort.Strings(sorted)
	var b strings.Builder
	fmt.Fprintf(&b, "index=%s;limit=%d;n=%d", fingerprint, limit, len(sorted))
	for _, t := range sorted {
		fmt.Fprintf(&b, ";%d:%s", len(t), t)
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%s:%x", keyPrefix, fingerprint, hash[:16])
}
