package state

import (
	"context"
	"errors"
	"time"

	"podmesh/lock"
	"podmesh/logger"
	"podmesh/metrics"
)

const checkpointLockKey = "checkpoint"

// Saver 周期性保存状态快照。多实例部署时只有持锁的实例写入。
type Saver struct {
	store    Store
	snapshot func() *Checkpoint
	lock     lock.DistributedLock
	interval time.Duration
	ttl      time.Duration
}

// NewSaver 创建快照任务，snapshot 负责在 pod 锁内生成一致的快照
func NewSaver(store Store, snapshot func() *Checkpoint, distributedLock lock.DistributedLock, interval time.Duration) *Saver {
	if distributedLock == nil {
		distributedLock = lock.NewNopLock()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Saver{
		store:    store,
		snapshot: snapshot,
		lock:     distributedLock,
		interval: interval,
		ttl:      3 * interval,
	}
}

// Start 启动快照协程，ctx 结束后退出（退出前不保存，由调用方执行最终保存）
func (s *Saver) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.SaveNow(ctx); err != nil && !errors.Is(err, lock.ErrNotAcquired) && ctx.Err() == nil {
					logger.Error("❌ 保存状态快照失败: %v", err)
				}
			}
		}
	}()
	logger.Info("✅ 状态快照任务已启动 (间隔: %v)", s.interval)
	return done
}

// SaveNow 立即保存一次
func (s *Saver) SaveNow(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.GetPrometheusMetrics().RecordCycle("checkpoint", time.Since(start))
	}()
	return lock.WithLock(ctx, s.lock, checkpointLockKey, s.ttl, func(ctx context.Context) error {
		cp := s.snapshot()
		if err := s.store.Save(ctx, cp); err != nil {
			metrics.GetPrometheusMetrics().RecordLoopFailure("checkpoint")
			return err
		}
		logger.Debug("💾 状态快照已保存 (cycle=%d, 全局模式=%s)", cp.LastCycle, cp.GlobalMode)
		return nil
	})
}
