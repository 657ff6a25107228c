package market

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"podmesh/config"
	"podmesh/indicators"
	"podmesh/metrics"
	"podmesh/schema"
)

// FeedConfig 行情窗口参数
type FeedConfig struct {
	Symbol          string
	Window          int           // 保留的价格点数
	StaleAfter      time.Duration // 超过该时长未更新为 DELAYED
	GapAfter        time.Duration // 超过该时长未更新为 GAPPED
	VolatilityScale float64       // 收益率标准差除以该系数后截断到 [0, 1]
}

// FeedConfigFrom 从配置构建
func FeedConfigFrom(cfg *config.Config) FeedConfig {
	return FeedConfig{
		Symbol:          cfg.App.Symbol,
		Window:          cfg.Market.Window,
		StaleAfter:      config.Interval(cfg.Market.StaleAfterSec),
		GapAfter:        config.Interval(cfg.Market.GapAfterSec),
		VolatilityScale: cfg.Market.VolatilityScale,
	}
}

// Feed 滚动价格窗口，由行情源推送价格，交易循环读取快照
type Feed struct {
	cfg FeedConfig
	now func() time.Time

	mu     sync.RWMutex
	prices []float64
	lastAt time.Time
	ready  chan struct{}
	once   sync.Once
}

// NewFeed 创建行情窗口
func NewFeed(cfg FeedConfig) *Feed {
	if cfg.Window < 2 {
		cfg.Window = 30
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Second
	}
	if cfg.GapAfter <= cfg.StaleAfter {
		cfg.GapAfter = 6 * cfg.StaleAfter
	}
	if cfg.VolatilityScale <= 0 {
		cfg.VolatilityScale = 0.02
	}
	return &Feed{
		cfg:   cfg,
		now:   time.Now,
		ready: make(chan struct{}),
	}
}

// Symbol 行情合约
func (f *Feed) Symbol() string {
	return f.cfg.Symbol
}

// Push 写入一个价格，非正价格被忽略
func (f *Feed) Push(price float64, at time.Time) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	if at.IsZero() {
		at = f.now()
	}
	f.mu.Lock()
	f.prices = append(f.prices, price)
	if len(f.prices) > f.cfg.Window {
		f.prices = f.prices[len(f.prices)-f.cfg.Window:]
	}
	if at.After(f.lastAt) {
		f.lastAt = at
	}
	f.mu.Unlock()
	f.once.Do(func() { close(f.ready) })
}

// WaitReady 等待第一个价格，超时返回错误
func (f *Feed) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%v 内未收到 %s 行情", timeout, f.cfg.Symbol)
	}
}

// LastPrice 最新价格，合约不匹配或没有数据时返回 0
func (f *Feed) LastPrice(symbol string) float64 {
	if symbol != "" && !strings.EqualFold(symbol, f.cfg.Symbol) {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.prices) == 0 {
		return 0
	}
	return f.prices[len(f.prices)-1]
}

// Snapshot 生成当前快照
func (f *Feed) Snapshot(ctx context.Context) (Snapshot, error) {
	f.mu.RLock()
	if len(f.prices) == 0 {
		f.mu.RUnlock()
		return Snapshot{}, ErrNoData
	}
	history := make([]float64, len(f.prices))
	copy(history, f.prices)
	lastAt := f.lastAt
	f.mu.RUnlock()

	snap := Snapshot{
		Symbol:     f.cfg.Symbol,
		Price:      history[len(history)-1],
		Timestamp:  lastAt,
		Quality:    f.quality(f.now().Sub(lastAt)),
		Volatility: f.volatility(history),
		History:    history,
	}
	metrics.GetPrometheusMetrics().SetMarket(snap.Symbol, snap.Price, snap.Volatility, snap.Quality != schema.DataQualityGood)
	return snap, nil
}

func (f *Feed) quality(age time.Duration) schema.DataQuality {
	switch {
	case age > f.cfg.GapAfter:
		return schema.DataQualityGapped
	case age > f.cfg.StaleAfter:
		return schema.DataQualityDelayed
	}
	return schema.DataQualityGood
}

// volatility 收益率标准差 / 归一化系数，截断到 [0, 1]
func (f *Feed) volatility(history []float64) float64 {
	returns := indicators.Returns(history)
	if len(returns) == 0 {
		return 0
	}
	v := indicators.PopulationStdDev(returns) / f.cfg.VolatilityScale
	return math.Max(0, math.Min(1, v))
}
