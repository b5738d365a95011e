package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

// Store keeps fetched content between requests.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CachedFetcher serves FetchText from a Store and falls back to the
// wrapped fetcher on a miss. Store failures degrade to uncached fetches.
type CachedFetcher struct {
	next   Fetcher
	store  Store
	ttl    time.Duration
	prefix string
	logger logging.Logger
}

// NewCachedFetcher wraps next with store.
func NewCachedFetcher(next Fetcher, store Store, ttl time.Duration, logger logging.Logger) *CachedFetcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CachedFetcher{
		next:   next,
		store:  store,
		ttl:    ttl,
		prefix: "searchparts:content:",
		logger: logger.WithComponent("fetch"),
	}
}

// FetchText implements Fetcher.
func (c *CachedFetcher) FetchText(ctx context.Context, location string) (string, error) {
	key := c.prefix + location
	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn(ctx, err, "Content cache read failed", "location", location)
	} else if ok {
		return value, nil
	}

	value, err = c.next.FetchText(ctx, location)
	if err != nil {
		return "", err
	}
	if err := c.store.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn(ctx, err, "Content cache write failed", "location", location)
	}
	return value, nil
}

// Head implements Fetcher. It always reaches the underlying fetcher.
func (c *CachedFetcher) Head(ctx context.Context, location string) error {
	return c.next.Head(ctx, location)
}

// Invalidate drops the cached content for location.
func (c *CachedFetcher) Invalidate(ctx context.Context, location string) error {
	return c.store.Delete(ctx, c.prefix+location)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	cache *ristretto.Cache
}

// NewMemoryStore creates a MemoryStore holding at most maxCost bytes.
func NewMemoryStore(numCounters, maxCost int64) (*MemoryStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        numCounters,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create content cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	cost := int64(len(value)) + 1
	if ttl > 0 {
		m.cache.SetWithTTL(key, value, cost, ttl)
	} else {
		m.cache.Set(key, value, cost)
	}
	m.cache.Wait()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Del(key)
	return nil
}

// Close releases the cache.
func (m *MemoryStore) Close() error {
	m.cache.Close()
	return nil
}

// RedisConfig describes the connection to a shared content cache.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisStore keeps fetched content in Redis so several processes share it.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close closes the connection.
func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
