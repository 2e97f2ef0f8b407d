package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock 基于 Redis SETNX 的实现
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// SET key value NX EX ttl
	// value 可以是随机字符串或机器ID，用于释放时校验归属 (这里简化暂不校验)
	success, err := l.client.SetNX(ctx, "lock:"+key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

func (l *RedisLock) Release(ctx context.Context, key string) error {
	// 生产环境严谨做法: 需要 Lua 脚本检查 Value 是否属于自己再删除
	return l.client.Del(ctx, "lock:"+key).Err()
}
