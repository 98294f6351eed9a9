package pagedoc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStats summarizes cache contents and effectiveness.
type CacheStats struct {
	TotalItems int
	TotalSize  int64
	HitRate    float64
	OldestItem time.Time
}

// ContentCache stores processed content keyed by deterministic content
// hashes. Implementations must be safe for concurrent use.
type ContentCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	Stats(ctx context.Context) CacheStats
}

// CacheKey derives a deterministic cache key from the processor type, the
// content, and the subset of context fields that affect layout. Two requests
// that would render identically share a key; anything that can change layout
// (margins, page-number flags, TOC flags, the pre-render flag) must be part
// of the hash.
func CacheKey(processorType, content string, pctx *ProcessingContext) string {
	parts := []any{processorType, content}
	if pctx != nil {
		page := pctx.Page.withDefaults()
		parts = append(parts,
			page.Size, page.Orientation, page.Margins,
			page.ShowPageNumbers, page.HeaderTemplate, page.FooterTemplate,
			pctx.TOC, pctx.IsPreRender,
		)
	}
	data, _ := json.Marshal(parts)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s", processorType, hex.EncodeToString(sum[:]))
}

// memoryEntry is one cached value with optional expiry.
type memoryEntry struct {
	value     string
	storedAt  time.Time
	expiresAt time.Time // zero = no expiry
}

// MemoryCache is an in-memory ContentCache for single-process use.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	hits    int64
	misses  int64
}

// Compile-time interface checks.
var (
	_ ContentCache = (*MemoryCache)(nil)
	_ ContentCache = (*RedisCache)(nil)
)

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		delete(c.entries, key)
		c.misses++
		return "", false
	}
	c.hits++
	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) {
	e := memoryEntry{value: value, storedAt: time.Now()}
	if ttl > 0 {
		e.expiresAt = e.storedAt.Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	return ok && (e.expiresAt.IsZero() || time.Now().Before(e.expiresAt))
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
}

func (c *MemoryCache) Stats(_ context.Context) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{TotalItems: len(c.entries)}
	for _, e := range c.entries {
		s.TotalSize += int64(len(e.value))
		if s.OldestItem.IsZero() || e.storedAt.Before(s.OldestItem) {
			s.OldestItem = e.storedAt
		}
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// RedisCache is a Redis-backed ContentCache for multi-instance deployments.
// Keys are namespaced under a configurable prefix.
type RedisCache struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	hits   int64
	misses int64
}

// NewRedisCache creates a Redis-backed cache. An empty prefix defaults to
// "pagedoc".
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "pagedoc"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string { return c.prefix + ":" + k }

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.misses++
		return "", false
	}
	c.hits++
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.client.Set(ctx, c.key(key), value, ttl)
}

func (c *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	return err == nil && n > 0
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	c.client.Del(ctx, c.key(key))
}

func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}

func (c *RedisCache) Stats(ctx context.Context) CacheStats {
	var s CacheStats
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		s.TotalItems++
		if size, err := c.client.StrLen(ctx, iter.Val()).Result(); err == nil {
			s.TotalSize += size
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
