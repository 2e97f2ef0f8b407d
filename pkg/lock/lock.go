package lock

import (
	"context"
	"sync"
	"time"
)

// DistributedLock 定义分布式锁接口
type DistributedLock interface {
	// Acquire 尝试获取锁 (非阻塞)
	// key: 锁的唯一标识
	// ttl: 锁的过期时间
	// 返回: (是否成功, error)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release 释放锁
	Release(ctx context.Context, key string) error
}

// AcquireWithTimeout 在 timeout 内轮询获取锁。
// 超时未拿到返回 false (调用方应映射为 Busy 并让客户端重试)。
func AcquireWithTimeout(ctx context.Context, l DistributedLock, key string, ttl, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.Acquire(ctx, key, ttl)
		if err != nil || ok {
			return ok, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// LocalLock 进程内 keyed 锁，实现与 RedisLock 相同的接口。
// 单实例部署和单元测试使用; 多实例部署换成 RedisLock 即可。
type LocalLock struct {
	mu   sync.Mutex
	held map[string]time.Time // key -> expiry
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]time.Time)}
}

func (l *LocalLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	// 过期的锁视为已释放 (与 Redis 的 TTL 行为一致)
	l.held[key] = now.Add(ttl)
	return true, nil
}

func (l *LocalLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
