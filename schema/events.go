package schema

import "time"

// Kind 事件类型判别字段
type Kind string

const (
	KindMarket         Kind = "MarketEvent"
	KindSignal         Kind = "SignalEvent"
	KindAdvisory       Kind = "AiRecommendationEvent"
	KindConsensus      Kind = "ConsensusDecisionEvent"
	KindOrderIntent    Kind = "OrderIntentEvent"
	KindOrderLifecycle Kind = "OrderLifecycleEvent"
	KindFill           Kind = "FillEvent"
	KindPosition       Kind = "PositionEvent"
	KindRisk           Kind = "RiskEvent"
	KindModeChange     Kind = "ModeChangeEvent"
	KindReconciliation Kind = "ReconciliationEvent"
	KindHeartbeat      Kind = "HeartbeatEvent"
	KindTradeReport    Kind = "TradeReport"
)

// Event 事件记录。isEvent 未导出，事件集合只能在本包内扩展，
// 消费方可以对具体类型做穷举 type switch。
type Event interface {
	Kind() Kind
	Time() time.Time
	isEvent()
}

// MarketEvent 行情快照
type MarketEvent struct {
	Symbol      string      `json:"symbol"`
	Price       float64     `json:"price"`
	Volatility  float64     `json:"volatility"`
	DataQuality DataQuality `json:"dataQuality"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SignalEvent 策略信号
type SignalEvent struct {
	PodID      string    `json:"podId"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// AdvisoryEvent AI 建议
type AdvisoryEvent struct {
	PodID      string     `json:"podId"`
	Suggestion Suggestion `json:"suggestion"`
	Confidence float64    `json:"confidence"`
	Notes      string     `json:"notes,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ConsensusEvent 共识决策
type ConsensusEvent struct {
	PodID      string    `json:"podId"`
	Decision   Decision  `json:"decision"`
	Vetoed     bool      `json:"vetoed"`
	VoteWeight float64   `json:"voteWeight"`
	Rationale  string    `json:"rationale"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderIntentEvent 下单意图（未审批）
type OrderIntentEvent struct {
	PodID         string    `json:"podId"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"`
	ReduceOnly    bool      `json:"reduceOnly"`
	StopLossPrice float64   `json:"stopLossPrice,omitempty"`
	ClientOrderID string    `json:"clientOrderId"`
	Timestamp     time.Time `json:"timestamp"`
}

// OrderLifecycleEvent 订单生命周期事件
type OrderLifecycleEvent struct {
	ClientOrderID  string      `json:"clientOrderId"`
	Status         OrderStatus `json:"status"`
	FilledQuantity float64     `json:"filledQuantity"`
	PodID          string      `json:"podId"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Reason         string      `json:"reason,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// FillEvent 成交事件
type FillEvent struct {
	ClientOrderID string    `json:"clientOrderId"`
	PodID         string    `json:"podId"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
}

// PositionEvent 持仓变化
type PositionEvent struct {
	PodID        string    `json:"podId"`
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	AveragePrice float64   `json:"averagePrice"`
	Timestamp    time.Time `json:"timestamp"`
}

// RiskEvent 风险事件，PodID 为空表示全局
type RiskEvent struct {
	PodID     string    `json:"podId,omitempty"`
	Level     Severity  `json:"level"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ModeChangeEvent 模式切换，PodID 为空表示全局模式
type ModeChangeEvent struct {
	PodID     string    `json:"podId,omitempty"`
	From      Mode      `json:"from"`
	To        Mode      `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// ReconciliationEvent 单次对账汇总
type ReconciliationEvent struct {
	Success           bool      `json:"success"`
	ExchangeOrders    int       `json:"exchangeOrders"`
	ExchangePositions int       `json:"exchangePositions"`
	CanceledOrphans   int       `json:"canceledOrphans"`
	ClosedOrphans     int       `json:"closedOrphans"`
	AvailableBalance  float64   `json:"availableBalance"`
	Error             string    `json:"error,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// PodStatus 心跳中的 pod 状态
type PodStatus struct {
	ID                     string  `json:"id"`
	Mode                   Mode    `json:"mode"`
	APIErrors              int     `json:"apiErrors"`
	ReconciliationFailures int     `json:"reconciliationFailures"`
	CurrentCapital         float64 `json:"currentCapital"`
	OpenPositions          int     `json:"openPositions"`
	LearningPaused         bool    `json:"learningPaused"`
}

// HeartbeatEvent 心跳
type HeartbeatEvent struct {
	GlobalMode Mode        `json:"globalMode"`
	Cycle      int64       `json:"cycle"`
	Pods       []PodStatus `json:"pods"`
	MemoryRSS  uint64      `json:"memoryRss"`
	CPUPercent float64     `json:"cpuPercent"`
	Goroutines int         `json:"goroutines"`
	Timestamp  time.Time   `json:"timestamp"`
}

// TradeReport 单个 pod 单个周期的决策审计记录
type TradeReport struct {
	PodID          string               `json:"podId,omitempty"`
	Cycle          int64                `json:"cycle"`
	Snapshot       *MarketEvent         `json:"snapshot,omitempty"`
	Signal         *SignalEvent         `json:"signal,omitempty"`
	Advisory       *AdvisoryEvent       `json:"aiRecommendation,omitempty"`
	Consensus      *ConsensusEvent      `json:"consensus,omitempty"`
	OrderLifecycle *OrderLifecycleEvent `json:"orderLifecycle,omitempty"`
	Risk           *RiskEvent           `json:"riskEvent,omitempty"`
	Details        string               `json:"details"`
	Timestamp      time.Time            `json:"timestamp"`
}

func (e MarketEvent) Kind() Kind         { return KindMarket }
func (e SignalEvent) Kind() Kind         { return KindSignal }
func (e AdvisoryEvent) Kind() Kind       { return KindAdvisory }
func (e ConsensusEvent) Kind() Kind      { return KindConsensus }
func (e OrderIntentEvent) Kind() Kind    { return KindOrderIntent }
func (e OrderLifecycleEvent) Kind() Kind { return KindOrderLifecycle }
func (e FillEvent) Kind() Kind           { return KindFill }
func (e PositionEvent) Kind() Kind       { return KindPosition }
func (e RiskEvent) Kind() Kind           { return KindRisk }
func (e ModeChangeEvent) Kind() Kind     { return KindModeChange }
func (e ReconciliationEvent) Kind() Kind { return KindReconciliation }
func (e HeartbeatEvent) Kind() Kind      { return KindHeartbeat }
func (e TradeReport) Kind() Kind         { return KindTradeReport }

func (e MarketEvent) Time() time.Time         { return e.Timestamp }
func (e SignalEvent) Time() time.Time         { return e.Timestamp }
func (e AdvisoryEvent) Time() time.Time       { return e.Timestamp }
func (e ConsensusEvent) Time() time.Time      { return e.Timestamp }
func (e OrderIntentEvent) Time() time.Time    { return e.Timestamp }
func (e OrderLifecycleEvent) Time() time.Time { return e.Timestamp }
func (e FillEvent) Time() time.Time           { return e.Timestamp }
func (e PositionEvent) Time() time.Time       { return e.Timestamp }
func (e RiskEvent) Time() time.Time           { return e.Timestamp }
func (e ModeChangeEvent) Time() time.Time     { return e.Timestamp }
func (e ReconciliationEvent) Time() time.Time { return e.Timestamp }
func (e HeartbeatEvent) Time() time.Time      { return e.Timestamp }
func (e TradeReport) Time() time.Time         { return e.Timestamp }

func (MarketEvent) isEvent()         {}
func (SignalEvent) isEvent()         {}
func (AdvisoryEvent) isEvent()       {}
func (ConsensusEvent) isEvent()      {}
func (OrderIntentEvent) isEvent()    {}
func (OrderLifecycleEvent) isEvent() {}
func (FillEvent) isEvent()           {}
func (PositionEvent) isEvent()       {}
func (RiskEvent) isEvent()           {}
func (ModeChangeEvent) isEvent()     {}
func (ReconciliationEvent) isEvent() {}
func (HeartbeatEvent) isEvent()      {}
func (TradeReport) isEvent()         {}

// NewRiskEvent 创建风险事件
func NewRiskEvent(podID string, level Severity, reason string) RiskEvent {
	return RiskEvent{PodID: podID, Level: level, Reason: reason, Timestamp: time.Now()}
}

// PodIDOf 提取事件所属 pod，没有 pod 维度的事件返回空字符串
func PodIDOf(e Event) string {
	switch ev := e.(type) {
	case SignalEvent:
		return ev.PodID
	case AdvisoryEvent:
		return ev.PodID
	case ConsensusEvent:
		return ev.PodID
	case OrderIntentEvent:
		return ev.PodID
	case OrderLifecycleEvent:
		return ev.PodID
	case FillEvent:
		return ev.PodID
	case PositionEvent:
		return ev.PodID
	case RiskEvent:
		return ev.PodID
	case ModeChangeEvent:
		return ev.PodID
	case TradeReport:
		return ev.PodID
	}
	return ""
}
