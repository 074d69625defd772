package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DenyKeyPrefix namespaces deny entries in Redis.
const DenyKeyPrefix = "qck:revoked:access:"

// RedisRevocationCache stores deny entries as Redis keys with a TTL.
//
// The client is owned by the caller and never closed here.
type RedisRevocationCache struct {
	rdb redis.UniversalClient
}

// NewRedisRevocationCache wraps a go-redis client.
func NewRedisRevocationCache(rdb redis.UniversalClient) *RedisRevocationCache {
	return &RedisRevocationCache{rdb: rdb}
}

func denyKey(jti string) string { return DenyKeyPrefix + jti }

func (c *RedisRevocationCache) Deny(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 || jti == "" {
		return nil
	}
	// Sub-second remainders round up so the entry never lapses early.
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := c.rdb.Set(ctx, denyKey(jti), "1", ttl).Err(); err != nil {
		return StorageError{Op: "session.RevocationCache.Deny", Err: err}
	}
	return nil
}

func (c *RedisRevocationCache) IsDenied(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, denyKey(jti)).Result()
	if err != nil {
		return false, StorageError{Op: "session.RevocationCache.IsDenied", Err: err}
	}
	return n > 0, nil
}
