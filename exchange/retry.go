package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"podmesh/config"
	"podmesh/logger"
	"podmesh/metrics"
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxAttempts int           // 总尝试次数（含第一次）
	BaseDelay   time.Duration // 指数退避基数
	MaxDelay    time.Duration // 退避上限（不含抖动）
	MaxJitter   time.Duration // 抖动上限，取值 [0, MaxJitter)
}

// PolicyFromConfig 从配置构建重试策略
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		MaxJitter:   time.Duration(cfg.MaxJitterMs) * time.Millisecond,
	}
}

// CriticalHandler 严重错误（凭证失效）回调
type CriticalHandler func(op string, err error)

// Retrier 与交易所无关的重试执行器，错误分类通过注入的 Classifier 完成。
// 多个 pod 共享同一个 Retrier，抖动用于错开它们的重试时间。
type Retrier struct {
	policy   RetryPolicy
	classify Classifier
	sleep    func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	rng        *rand.Rand
	onCritical CriticalHandler
}

// NewRetrier 创建重试执行器，classify 为 nil 时使用 Classify
func NewRetrier(policy RetryPolicy, classify Classifier) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if classify == nil {
		classify = Classify
	}
	return &Retrier{
		policy:   policy,
		classify: classify,
		sleep:    sleepContext,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnCritical 设置严重错误回调
func (r *Retrier) OnCritical(h CriticalHandler) {
	r.mu.Lock()
	r.onCritical = h
	r.mu.Unlock()
}

// Policy 当前策略
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Delay 第 attempt 次失败后的等待时间：交易所给出 retry-after 时原样使用，
// 否则 min(base·2^(attempt-1), max) 加 [0, maxJitter) 的随机抖动
func (r *Retrier) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	if attempt < 1 {
		attempt = 1
	}
	backoff := r.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if r.policy.MaxDelay > 0 && backoff >= r.policy.MaxDelay {
			break
		}
	}
	if r.policy.MaxDelay > 0 && backoff > r.policy.MaxDelay {
		backoff = r.policy.MaxDelay
	}
	return backoff + r.jitter()
}

func (r *Retrier) jitter() time.Duration {
	if r.policy.MaxJitter <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.rng.Int63n(int64(r.policy.MaxJitter)))
}

func (r *Retrier) critical(op string, err error) {
	r.mu.Lock()
	h := r.onCritical
	r.mu.Unlock()
	if h != nil {
		h(op, err)
	}
}

// Do 执行 fn，可重试的错误按策略退避重试，不可重试的错误立即返回。
// 重试次数用尽后返回最后一次的错误。
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	pm := metrics.GetPrometheusMetrics()
	start := time.Now()

	var zero T
	var lastErr error
	var lastCategory Category
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			pm.RecordAPICall(op, "ok", time.Since(start))
			return result, nil
		}
		lastErr = err

		c := r.classify(err)
		lastCategory = c.Category
		if c.Category == CategoryRateLimit {
			pm.RecordAPIRateLimitHit()
		}

		if !Retriable(c.Category) {
			if Critical(c.Category) {
				logger.Error("🚨 [%s] 凭证错误，需要人工介入: %v", op, err)
				r.critical(op, err)
			}
			pm.RecordAPICall(op, string(c.Category), time.Since(start))
			return zero, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.Delay(attempt, c.RetryAfter)
		pm.RecordAPIRetry(op, string(c.Category))
		logger.Warn("⚠️ [%s] 第 %d/%d 次尝试失败（%s），%v 后重试: %v",
			op, attempt, r.policy.MaxAttempts, c.Category, delay, err)
		if err := r.sleep(ctx, delay); err != nil {
			pm.RecordAPICall(op, string(c.Category), time.Since(start))
			return zero, fmt.Errorf("%s 重试等待被取消: %w", op, errors.Join(lastErr, err))
		}
	}

	pm.RecordAPICall(op, string(lastCategory), time.Since(start))
	logger.Error("❌ [%s] 重试 %d 次后仍失败: %v", op, r.policy.MaxAttempts, lastErr)
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
