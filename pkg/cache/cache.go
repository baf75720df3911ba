// Package cache stores small values in Redis. hacpd uses it to remember
// which CRM webhook deliveries it has already processed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// Key derives a stable key from a scope and a raw body.
func (c *Cache) Key(scope string, body []byte) string {
	hash := sha256.Sum256(body)
	return c.prefix + ":" + scope + ":" + hex.EncodeToString(hash[:])
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, key, value, c.ttl).Err()
}

// FirstSeen records key and reports whether this call was the first to do
// so within the TTL.
func (c *Cache) FirstSeen(ctx context.Context, key string) (bool, error) {
	return c.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
}
