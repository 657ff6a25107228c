package strategy

import (
	"math"

	"podmesh/indicators"
	"podmesh/market"
	"podmesh/schema"
)

// CoreTrendParams 双均线趋势参数
type CoreTrendParams struct {
	FastPeriod     int
	SlowPeriod     int
	BaseConfidence float64 // 均线刚分开时的置信度
	MaxConfidence  float64
	SpreadScale    float64 // 均线间距（百分比）每 1% 增加的置信度
}

// DefaultCoreTrendParams 低频趋势默认参数
func DefaultCoreTrendParams() CoreTrendParams {
	return CoreTrendParams{
		FastPeriod:     5,
		SlowPeriod:     20,
		BaseConfidence: 0.55,
		MaxConfidence:  0.9,
		SpreadScale:    0.5,
	}
}

// CoreTrend 快线在慢线之上买入，之下卖出；历史不足时观望
func CoreTrend(p CoreTrendParams) Func {
	return func(podID string, snap market.Snapshot) schema.SignalEvent {
		fast, okFast := indicators.Last(indicators.EMA(snap.History, p.FastPeriod))
		slow, okSlow := indicators.Last(indicators.EMA(snap.History, p.SlowPeriod))
		if !okFast || !okSlow || slow == 0 {
			return signal(podID, snap, schema.ActionHold, 0)
		}

		spread := (fast - slow) / slow * 100
		if spread == 0 {
			return signal(podID, snap, schema.ActionHold, p.BaseConfidence)
		}
		action := schema.ActionBuy
		if spread < 0 {
			action = schema.ActionSell
		}
		confidence := math.Min(p.MaxConfidence, p.BaseConfidence+math.Abs(spread)*p.SpreadScale)
		return signal(podID, snap, action, confidence)
	}
}
