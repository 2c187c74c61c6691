package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// 预定义错误
var (
	ErrNil = redis.Nil // Key 不存在

	ErrLockNotAcquired = errors.New("redis: lock is held by another owner")
	ErrLockNotHeld     = errors.New("redis: lock not held")
)

// IsNil 判断是否是 Key 不存在错误
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
