// Package lock 提供单写者保护：同一交易账户只允许一个实例执行对账与状态快照写入。
package lock

import (
	"context"
	"errors"
	"time"

	"podmesh/logger"
	"podmesh/metrics"
)

// ErrNotAcquired 锁已被其他实例持有
var ErrNotAcquired = errors.New("锁已被其他实例持有")

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// Lock 获取锁，阻塞直到成功或 ctx 结束
	Lock(ctx context.Context, key string, ttl time.Duration) error

	// TryLock 尝试获取锁，立即返回
	// 返回 true 表示成功获取锁，false 表示锁已被占用
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Extend 延长锁的过期时间
	Extend(ctx context.Context, key string, ttl time.Duration) error

	// Close 关闭连接
	Close() error
}

// WithLock 在持有 key 的锁期间执行 fn。锁被占用时不执行 fn 并返回 ErrNotAcquired；
// 锁服务本身出错时记录告警后照常执行 fn，单实例部署不因锁服务故障停摆。
func WithLock(ctx context.Context, l DistributedLock, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	pm := metrics.GetPrometheusMetrics()

	acquired, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		pm.RecordLockAcquire(key, "error")
		logger.Warn("⚠️ 获取锁 %s 失败，降级为无锁执行: %v", key, err)
		return fn(ctx)
	}
	if !acquired {
		pm.RecordLockAcquire(key, "conflict")
		logger.Debug("🔒 锁 %s 已被其他实例持有，跳过", key)
		return ErrNotAcquired
	}
	pm.RecordLockAcquire(key, "success")

	start := time.Now()
	defer func() {
		pm.RecordLockHoldDuration(key, time.Since(start))
		if err := l.Unlock(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn("⚠️ 释放锁 %s 失败: %v", key, err)
		}
	}()
	return fn(ctx)
}

// NopLock 空实现（单实例模式）
type NopLock struct{}

func NewNopLock() *NopLock {
	return &NopLock{}
}

func (n *NopLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (n *NopLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (n *NopLock) Unlock(ctx context.Context, key string) error {
	return nil
}

func (n *NopLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (n *NopLock) Close() error {
	return nil
}
