// Package risk 实现下单前的三道风控闸门：交易前检查、下单权限、执行准入。
package risk

import (
	"fmt"
	"time"

	"podmesh/config"
	"podmesh/schema"
)

// Result 闸门判定结果。拒绝只用于上报，不会重试。
type Result struct {
	Allowed bool
	Reason  string
}

// Allow 放行
func Allow() Result {
	return Result{Allowed: true}
}

// Deny 拒绝并附带原因
func Deny(format string, args ...interface{}) Result {
	return Result{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Intent 下单意图（尚未经过执行准入）
type Intent struct {
	PodID         string
	Symbol        string
	Side          schema.Side
	Quantity      float64
	ReduceOnly    bool
	StopLossPrice float64 // 0 表示没有止损
	ClientOrderID string
	Timestamp     time.Time
}

// Event 转换为审计事件
func (i Intent) Event() schema.OrderIntentEvent {
	return schema.OrderIntentEvent{
		PodID:         i.PodID,
		Symbol:        i.Symbol,
		Side:          i.Side,
		Quantity:      i.Quantity,
		ReduceOnly:    i.ReduceOnly,
		StopLossPrice: i.StopLossPrice,
		ClientOrderID: i.ClientOrderID,
		Timestamp:     i.Timestamp,
	}
}

// ApprovedIntent 通过执行准入的意图，只能由 Admit 构造
type ApprovedIntent struct {
	intent Intent
}

// Intent 原始意图
func (a ApprovedIntent) Intent() Intent {
	return a.intent
}

// PreTrade 交易前检查：全局与 pod 模式都为 NORMAL 且行情质量为 GOOD
func PreTrade(global, pod schema.Mode, quality schema.DataQuality) Result {
	if global != schema.ModeNormal {
		return Deny("全局模式为 %s", global)
	}
	if pod != schema.ModeNormal {
		return Deny("pod 模式为 %s", pod)
	}
	if quality != schema.DataQualityGood {
		return Deny("行情质量为 %s", quality)
	}
	return Allow()
}

// OrderPermission 下单权限检查。只减仓订单不受持仓数量以外的任何限制，
// 且持仓数量限制本身也只针对非只减仓订单，所以只减仓订单总是放行。
func OrderPermission(limits config.RiskLimits, intent Intent, openPositions int) Result {
	if !intent.ReduceOnly && openPositions >= limits.MaxOpenPositions {
		return Deny("持仓数 %d 已达上限 %d", openPositions, limits.MaxOpenPositions)
	}
	if intent.ReduceOnly {
		return Allow()
	}
	if limits.RequireStopLoss && intent.StopLossPrice <= 0 {
		return Deny("缺少止损价")
	}
	if !limits.AllowScaleIn && openPositions > 0 {
		return Deny("不允许加仓")
	}
	notional := intent.Quantity * limits.Leverage
	if notional > limits.MaxNotionalPerTrade {
		return Deny("名义价值 %.4f 超过单笔上限 %.4f", notional, limits.MaxNotionalPerTrade)
	}
	return Allow()
}

// Admit 执行准入：数量必须为正
func Admit(intent Intent) (ApprovedIntent, Result) {
	if intent.Quantity <= 0 {
		return ApprovedIntent{}, Deny("数量必须大于0")
	}
	return ApprovedIntent{intent: intent}, Allow()
}
