// Package market 提供交易循环使用的行情快照：滚动价格窗口、数据质量判定、
// 归一化波动率，以及 DryRun 的随机游走行情和 OKX tickers 行情接入。
package market

import (
	"context"
	"errors"
	"time"

	"podmesh/schema"
)

// ErrNoData 尚未收到任何价格
var ErrNoData = errors.New("尚未收到行情数据")

// Snapshot 单次行情快照。History 为窗口内的历史价格（含当前价），供策略计算指标。
type Snapshot struct {
	Symbol     string
	Price      float64
	Timestamp  time.Time
	Quality    schema.DataQuality
	Volatility float64 // [0, 1]
	History    []float64
}

// Event 转换为行情事件
func (s Snapshot) Event() schema.MarketEvent {
	return schema.MarketEvent{
		Symbol:      s.Symbol,
		Price:       s.Price,
		Volatility:  s.Volatility,
		DataQuality: s.Quality,
		Timestamp:   s.Timestamp,
	}
}

// Source 行情快照来源
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// SourceFunc 函数适配器
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Snapshot 实现 Source
func (f SourceFunc) Snapshot(ctx context.Context) (Snapshot, error) { return f(ctx) }
