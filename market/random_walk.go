package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"podmesh/logger"
)

// RandomWalk DryRun 模式的模拟行情：几何随机游走，按固定间隔推送到 Feed
type RandomWalk struct {
	feed     *Feed
	sigma    float64
	interval time.Duration

	mu    sync.Mutex
	price float64
	rng   *rand.Rand
}

// NewRandomWalk 创建模拟行情，seed 为 0 时使用当前时间
func NewRandomWalk(feed *Feed, start, sigma float64, interval time.Duration, seed int64) *RandomWalk {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &RandomWalk{
		feed:     feed,
		sigma:    sigma,
		interval: interval,
		price:    start,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Step 前进一步并推送价格，价格保留两位小数
func (w *RandomWalk) Step() float64 {
	w.mu.Lock()
	w.price *= math.Exp(w.sigma * w.rng.NormFloat64())
	w.price = math.Round(w.price*100) / 100
	price := w.price
	w.mu.Unlock()

	w.feed.Push(price, time.Now())
	return price
}

// Run 阻塞运行直到 ctx 取消
func (w *RandomWalk) Run(ctx context.Context) {
	logger.Info("🎲 模拟行情启动: %s 起始价 %.2f，间隔 %v", w.feed.Symbol(), w.price, w.interval)
	w.Step()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step()
		}
	}
}
