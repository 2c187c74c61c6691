package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有者才能释放或续期
var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Lock 获取分布式锁，返回释放时需要的 token。锁已被占用时返回 ErrLockNotAcquired
func (c *Client) Lock(ctx context.Context, key string, expiration time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, token, expiration).Result()
	if err != nil {
		c.logger.Error("redis lock failed", zap.String("key", key), zap.Error(err))
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
	}
	c.logger.Debug("redis lock acquired", zap.String("key", key), zap.Duration("expiration", expiration))
	return token, nil
}

// Unlock 释放分布式锁
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		c.logger.Error("redis unlock failed", zap.String("key", key), zap.Error(err))
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, key)
	}
	return nil
}

// Extend 续期仍由 token 持有的锁
func (c *Client) Extend(ctx context.Context, key, token string, expiration time.Duration) error {
	n, err := extendScript.Run(ctx, c.rdb, []string{key}, token, expiration.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, key)
	}
	return nil
}

// WithLock 在锁保护下执行 fn；释放使用独立的 context，避免调用方取消后锁残留到过期
func (c *Client) WithLock(ctx context.Context, key string, expiration time.Duration, fn func(ctx context.Context) error) error {
	token, err := c.Lock(ctx, key, expiration)
	if err != nil {
		return err
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := c.Unlock(uctx, key, token); err != nil {
			c.logger.Warn("failed to unlock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn(ctx)
}
