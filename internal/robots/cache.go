package robots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Record is a fetched robots.txt as stored in a Cache.
type Record struct {
	Status    int       `json:"status"`
	Body      []byte    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache stores raw robots.txt records keyed by site origin.
type Cache interface {
	Get(ctx context.Context, origin string) (Record, bool, error)
	Set(ctx context.Context, origin string, rec Record, ttl time.Duration) error
}

type memoryItem struct {
	rec     Record
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.Mutex
	clock crawler.Clock
	items map[string]memoryItem
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache(clock crawler.Clock) *MemoryCache {
	return &MemoryCache{clock: clock, items: make(map[string]memoryItem)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, origin string) (Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[origin]
	if !ok {
		return Record{}, false, nil
	}
	if !item.expires.IsZero() && !c.clock.Now().Before(item.expires) {
		delete(c.items, origin)
		return Record{}, false, nil
	}
	return item.rec, true, nil
}

// Set implements Cache. A ttl of zero never expires.
func (c *MemoryCache) Set(_ context.Context, origin string, rec Record, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := memoryItem{rec: rec}
	if ttl > 0 {
		item.expires = c.clock.Now().Add(ttl)
	}
	c.items[origin] = item
	return nil
}

// redisClient is the subset of *redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisCache shares robots.txt records between crawler processes.
type RedisCache struct {
	client redisClient
	prefix string
}

// RedisConfig locates the Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisCache connects to Redis and pings it.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCacheWithClient(client, cfg.Prefix), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redisClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "robots:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, origin string) (Record, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+origin).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get robots record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode robots record: %w", err)
	}
	return rec, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, origin string, rec Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode robots record: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+origin, payload, ttl).Err(); err != nil {
		return fmt.Errorf("set robots record: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
