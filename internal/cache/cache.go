// Package cache stores succeeded extraction outputs keyed by tenant, content hash and pipeline
// version, so an identical re-upload does not pay for a second extraction.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
)

const (
	keyPrefix  = "orderex:result:"
	DefaultTTL = 7 * 24 * time.Hour
)

// Entry is a cached succeeded result.
type Entry struct {
	Variant     string            `json:"variant"`
	Output      *canonical.Output `json:"output"`
	Fingerprint string            `json:"layout_fingerprint,omitempty"`
}

// ResultCache is consulted by run_extraction and filled by succeeded runs.
type ResultCache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Put(ctx context.Context, key string, e Entry) error
}

// Key derives the cache key for content uploaded by tenantID.
func Key(tenantID string, content []byte) string {
	sum := sha256.Sum256(content)
	return keyPrefix + tenantID + ":" + constants.PipelineVersion + ":" + hex.EncodeToString(sum[:])
}

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache stores entries as JSON with a TTL. Read failures count as misses.
type RedisCache struct {
	rdb    redisKV
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(logger *slog.Logger, rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache.get.failed", "key", key, "error", err)
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Output == nil {
		c.logger.Warn("cache.decode.failed", "key", key, "error", err)
		return Entry{}, false
	}
	return e, true
}

func (c *RedisCache) Put(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// MemoryCache is an unbounded in-process cache for the CLI and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return Entry{Variant: e.Variant, Output: e.Output.Clone()}, true
}

func (c *MemoryCache) Put(_ context.Context, key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Variant: e.Variant, Output: e.Output.Clone()}
	return nil
}
