package optionchain

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/chainfeed/internal/model"
)

// DepthCache memoizes the latest depth snapshot per (underlying, strike, side).
type DepthCache interface {
	Get(key string) (DepthSnapshot, bool)
	Set(key string, snap DepthSnapshot)
}

// CacheKey builds the cache key for one contract, e.g. NIFTY_24800_CE.
func CacheKey(underlying string, strike float64, side model.Side) string {
	return underlying + "_" + FormatStrike(strike) + "_" + string(side)
}

// Memory cache defaults.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 30 * time.Second
)

type cacheEntry struct {
	snap    DepthSnapshot
	expires time.Time
}

// MemoryCache is a bounded in-process cache with a fixed per-entry TTL.
// When full, expired entries are purged first, then the entry closest to
// expiry is evicted.
type MemoryCache struct {
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewMemoryCache creates a cache. Non-positive arguments take the defaults.
func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry, maxSize),
	}
}

// Get returns the live entry for key.
func (c *MemoryCache) Get(key string) (DepthSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return DepthSnapshot{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return DepthSnapshot{}, false
	}
	return e.snap, true
}

// Set stores snap under key, evicting if the cache is full.
func (c *MemoryCache) Set(key string, snap DepthSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked(now)
	}
	c.entries[key] = cacheEntry{snap: snap, expires: now.Add(c.ttl)}
}

// Len returns the number of stored entries, including any not yet purged.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(c.entries) >= c.maxSize && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// RedisCache stores snapshots in Redis so other processes can read the
// latest top of book. Entries expire server-side after the TTL.
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// RedisCacheConfig configures a RedisCache.
type RedisCacheConfig struct {
	Prefix  string        // Key prefix, e.g. "chainfeed:depth:"
	TTL     time.Duration // Expiry set on every write
	Timeout time.Duration // Per-command deadline
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient, cfg RedisCacheConfig, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	return &RedisCache{
		client:  client,
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Get reads key. Any Redis error is treated as a miss.
func (c *RedisCache) Get(key string) (DepthSnapshot, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("depth cache get failed", "key", key, "error", err)
		}
		return DepthSnapshot{}, false
	}

	var snap DepthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("depth cache entry corrupt", "key", key, "error", err)
		return DepthSnapshot{}, false
	}
	return snap, true
}

// Set writes key with the configured expiry. Failures are logged and dropped.
func (c *RedisCache) Set(key string, snap DepthSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("depth cache encode failed", "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Debug("depth cache set failed", "key", key, "error", err)
	}
}
