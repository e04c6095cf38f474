package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/chatty/internal/storage"
)

// Cache is a key/value store with per-entry expiry. Get returns
// storage.ErrNotFound for missing and expired keys alike.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete reports whether a live entry was removed.
	Delete(ctx context.Context, key string) (bool, error)
}

// SQLiteCache keeps entries in the store's cache_entries table.
type SQLiteCache struct {
	store *storage.Store
}

func NewSQLiteCache(store *storage.Store) *SQLiteCache {
	return &SQLiteCache{store: store}
}

func (c *SQLiteCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return c.store.CacheSet(key, value, ttl)
}

func (c *SQLiteCache) Get(_ context.Context, key string) ([]byte, error) {
	return c.store.CacheGet(key)
}

func (c *SQLiteCache) Delete(_ context.Context, key string) (bool, error) {
	return c.store.CacheDelete(key)
}

// RedisCache keeps entries in Redis with native key expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redisURL (redis://host:port/db) and pings it.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	return b, err
}

func (c *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Del(ctx, key).Result()
	return n > 0, err
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
