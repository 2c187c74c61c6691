package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const scanBatch = 200

// Set 设置键值（支持过期时间）
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	err := c.rdb.Set(ctx, key, value, expiration).Err()
	if err != nil {
		c.logger.Error("redis set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Get 获取键值，键不存在时返回 ErrNil
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil && !IsNil(err) {
		c.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
	}
	return val, err
}

// GetBytes 以字节形式获取键值
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil && !IsNil(err) {
		c.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
	}
	return val, err
}

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("redis del failed", zap.Strings("keys", keys), zap.Error(err))
	}
	return n, err
}

// Exists 返回存在的键数量
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Exists(ctx, keys...).Result()
}

// TTL 获取剩余过期时间
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

// DeleteByPattern 用 SCAN 分批删除匹配的键，不使用阻塞的 KEYS。
// 集群模式下遍历每个主节点。
func (c *Client) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	var total int64
	scan := func(ctx context.Context, node redis.UniversalClient) error {
		iter := node.Scan(ctx, 0, pattern, scanBatch).Iterator()
		batch := make([]string, 0, scanBatch)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			// 集群模式下同一批键可能跨槽，逐个删除
			for _, k := range batch {
				n, err := node.Del(ctx, k).Result()
				if err != nil {
					return err
				}
				total += n
			}
			batch = batch[:0]
			return nil
		}
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == scanBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		return flush()
	}

	var err error
	if cluster, ok := c.rdb.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scan(ctx, node)
		})
	} else {
		err = scan(ctx, c.rdb)
	}
	if err != nil {
		c.logger.Error("redis delete by pattern failed", zap.String("pattern", pattern), zap.Error(err))
	}
	return total, err
}

// Publish 发布消息，返回收到消息的订阅者数量
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) (int64, error) {
	n, err := c.rdb.Publish(ctx, channel, message).Result()
	if err != nil {
		c.logger.Error("redis publish failed", zap.String("channel", channel), zap.Error(err))
		return 0, err
	}
	c.logger.Debug("redis message published", zap.String("channel", channel), zap.Int64("receivers", n))
	return n, nil
}

// Subscribe 订阅频道
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}
