package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ticketlane/insights/internal/metrics"
)

// RealtimeTTL bounds staleness of realtime payloads. Realtime keys are never
// explicitly invalidated; the fixed TTL is the backstop.
const RealtimeTTL = 60 * time.Second

// SummaryTTL is the default lifetime of summary payloads. Summary keys are
// additionally evicted whenever a write changes the scope's counters, so the
// TTL only catches missed invalidations.
const SummaryTTL = 5 * time.Minute

// ComputeFunc produces a cacheable payload on miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Cache memoizes computed dashboard payloads as JSON.
//
// Remember is plain cache-aside. RememberScoped additionally registers the
// key in the scope's summary-key set so InvalidateScope can evict everything
// derived from that scope's counters without knowing key names up front.
type Cache interface {
	Remember(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error)
	RememberScoped(ctx context.Context, scopeID, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error)
	Forget(ctx context.Context, keys ...string) error
	InvalidateScope(ctx context.Context, scopeID string) error
}

func cacheKey(parts ...string) string {
	key := "insights:cache"
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func scopeKeySet(scopeID string) string {
	return fmt.Sprintf("insights:cache:scope:%s:keys", scopeID)
}

// RedisCache implements Cache on Redis. All store errors fail open: a broken
// cache degrades to computing every call, never to failing it.
type RedisCache struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client *redis.Client, logger *zap.Logger, m *metrics.Metrics) *RedisCache {
	return &RedisCache{client: client, logger: logger, metrics: m}
}

// Remember returns the cached payload for key, computing and storing it on
// miss.
func (c *RedisCache) Remember(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	cached, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if c.metrics != nil {
			c.metrics.RecordCacheHit("summary")
		}
		return cached, nil
	}
	if err != redis.Nil {
		c.logger.Warn("cache read failed, computing", zap.String("key", key), zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.RecordCacheMiss("summary")
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache payload: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return payload, nil
}

// RememberScoped is Remember plus summary-key tracking for the scope.
func (c *RedisCache) RememberScoped(ctx context.Context, scopeID, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, scopeKeySet(scopeID), key)
	pipe.Expire(ctx, scopeKeySet(scopeID), 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache key tracking failed", zap.String("scope_id", scopeID), zap.Error(err))
	}
	return c.Remember(ctx, key, ttl, compute)
}

// Forget drops the given keys.
func (c *RedisCache) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache eviction failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// InvalidateScope evicts every tracked summary key for the scope.
func (c *RedisCache) InvalidateScope(ctx context.Context, scopeID string) error {
	keys, err := c.client.SMembers(ctx, scopeKeySet(scopeID)).Result()
	if err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("scope_id", scopeID), zap.Error(err))
		return err
	}

	keys = append(keys, scopeKeySet(scopeID))
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("scope_id", scopeID), zap.Error(err))
		return err
	}
	if c.metrics != nil {
		c.metrics.CacheInvalidations.WithLabelValues("scope").Inc()
	}
	return nil
}

type memoryCacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// InMemoryCache implements Cache without Redis, for development and tests.
// The clock is injectable so expiry is testable without sleeping.
type InMemoryCache struct {
	mu        sync.Mutex
	entries   map[string]memoryCacheEntry
	scopeKeys map[string]map[string]bool
	now       func() time.Time
}

// NewInMemoryCache creates an in-memory cache on the real clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheAt(time.Now)
}

// NewInMemoryCacheAt creates an in-memory cache on the given clock.
func NewInMemoryCacheAt(now func() time.Time) *InMemoryCache {
	return &InMemoryCache{
		entries:   make(map[string]memoryCacheEntry),
		scopeKeys: make(map[string]map[string]bool),
		now:       now,
	}
}

func (c *InMemoryCache) Remember(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.payload, nil
	}
	c.mu.Unlock()

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache payload: %w", err)
	}

	c.mu.Lock()
	c.entries[key] = memoryCacheEntry{payload: payload, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return payload, nil
}

func (c *InMemoryCache) RememberScoped(ctx context.Context, scopeID, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	c.mu.Lock()
	if c.scopeKeys[scopeID] == nil {
		c.scopeKeys[scopeID] = make(map[string]bool)
	}
	c.scopeKeys[scopeID][key] = true
	c.mu.Unlock()
	return c.Remember(ctx, key, ttl, compute)
}

func (c *InMemoryCache) Forget(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *InMemoryCache) InvalidateScope(ctx context.Context, scopeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.scopeKeys[scopeID] {
		delete(c.entries, k)
	}
	delete(c.scopeKeys, scopeID)
	return nil
}
