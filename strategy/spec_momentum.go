package strategy

import (
	"math"

	"podmesh/indicators"
	"podmesh/market"
	"podmesh/schema"
)

// SpecMomentumParams 短周期动量参数
type SpecMomentumParams struct {
	Period        int     // ROC 回看点数
	MinROC        float64 // 低于该变化率（百分比）时观望
	Confidence    float64
	BoostPerUnit  float64 // 每 1% 变化率增加的置信度
	MaxConfidence float64
}

// DefaultSpecMomentumParams 高杠杆动量默认参数
func DefaultSpecMomentumParams() SpecMomentumParams {
	return SpecMomentumParams{
		Period:        10,
		MinROC:        0.01,
		Confidence:    0.7,
		BoostPerUnit:  0.1,
		MaxConfidence: 0.95,
	}
}

// SpecMomentum 顺着最近 Period 个点的变化率方向交易
func SpecMomentum(p SpecMomentumParams) Func {
	return func(podID string, snap market.Snapshot) schema.SignalEvent {
		roc, ok := indicators.Last(indicators.RateOfChange(snap.History, p.Period))
		if !ok || math.Abs(roc) < p.MinROC {
			return signal(podID, snap, schema.ActionHold, 0)
		}
		action := schema.ActionBuy
		if roc < 0 {
			action = schema.ActionSell
		}
		confidence := math.Min(p.MaxConfidence, p.Confidence+math.Abs(roc)*p.BoostPerUnit)
		return signal(podID, snap, action, confidence)
	}
}
