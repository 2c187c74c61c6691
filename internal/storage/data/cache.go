package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/redis"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
)

// RedisCache JSON 编码的缓存，实现 biz.Cache
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ biz.Cache = (*RedisCache)(nil)

// NewRedisCache prefix 会加在所有键前，可为空
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), raw, ttl)
}

// Get 未命中返回 (false, nil)
func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.GetBytes(ctx, c.key(key))
	if err != nil {
		if redis.IsNil(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	_, err := c.client.Del(ctx, prefixed...)
	return err
}

func (c *RedisCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_, err := c.client.DeleteByPattern(ctx, c.key(pattern))
	return err
}
