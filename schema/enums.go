// Package schema 定义引擎各组件共享的值类型：模式、方向、订单状态以及事件记录。
package schema

import "strings"

// Mode 运行模式（严重程度递增）
type Mode string

const (
	ModeNormal   Mode = "NORMAL"
	ModeSafe     Mode = "SAFE"
	ModeCrash    Mode = "CRASH"
	ModeDisabled Mode = "DISABLED"
)

// Rank 返回模式的严重等级，未知模式返回 -1
func (m Mode) Rank() int {
	switch m {
	case ModeNormal:
		return 0
	case ModeSafe:
		return 1
	case ModeCrash:
		return 2
	case ModeDisabled:
		return 3
	default:
		return -1
	}
}

// Valid 是否为已知模式
func (m Mode) Valid() bool {
	return m.Rank() >= 0
}

// ParseMode 解析模式字符串，无法识别时返回 NORMAL 和 false
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return ModeNormal, false
	}
	return m, true
}

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign 买为 +1，卖为 -1
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// OrderStatus 订单生命周期状态
type OrderStatus string

const (
	OrderStatusAck      OrderStatus = "ACK"
	OrderStatusPartial  OrderStatus = "PARTIAL"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// IsTerminal 终态不再接受任何生命周期事件
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// DataQuality 行情数据质量
type DataQuality string

const (
	DataQualityGood    DataQuality = "GOOD"
	DataQualityDelayed DataQuality = "DELAYED"
	DataQualityGapped  DataQuality = "GAPPED"
)

// Action 策略信号方向
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Suggestion AI 建议
type Suggestion string

const (
	SuggestionApprove Suggestion = "APPROVE"
	SuggestionReject  Suggestion = "REJECT"
	SuggestionAbstain Suggestion = "ABSTAIN"
)

// Decision 共识结果
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionAbstain  Decision = "ABSTAIN"
)

// Severity 风险事件级别
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)
