package fsm

import (
	"math"
	"sort"
	"time"

	"podmesh/schema"
)

// flatEpsilon 小于该值的持仓数量视为平仓，吸收浮点累计误差
const flatEpsilon = 1e-9

// PositionRecord (pod, 合约) 维度的持仓
type PositionRecord struct {
	PodID        string    `json:"podId"`
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"` // 多为正，空为负
	AveragePrice float64   `json:"averagePrice"`
	LastUpdate   time.Time `json:"lastUpdate"`
}

// IsFlat 是否无持仓
func (p PositionRecord) IsFlat() bool {
	return p.Quantity == 0
}

type positionKey struct {
	podID  string
	symbol string
}

// PositionMachine 持仓状态机，按成交更新数量与成交量加权均价
type PositionMachine struct {
	positions map[positionKey]PositionRecord
}

// NewPositionMachine 创建空的持仓状态机
func NewPositionMachine() *PositionMachine {
	return &PositionMachine{positions: make(map[positionKey]PositionRecord)}
}

// Apply 应用成交：Q' = Q + q；Q' 为 0 时均价归零，否则 A' = (A*Q + p*q) / Q'
func (m *PositionMachine) Apply(fill schema.FillEvent) PositionRecord {
	key := positionKey{podID: fill.PodID, symbol: fill.Symbol}
	prev := m.positions[key]

	signed := fill.Quantity * fill.Side.Sign()
	qty := prev.Quantity + signed
	if math.Abs(qty) < flatEpsilon {
		qty = 0
	}

	avg := 0.0
	if qty != 0 {
		avg = (prev.AveragePrice*prev.Quantity + fill.Price*signed) / qty
	}

	at := fill.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	rec := PositionRecord{
		PodID:        fill.PodID,
		Symbol:       fill.Symbol,
		Quantity:     qty,
		AveragePrice: avg,
		LastUpdate:   at,
	}
	m.positions[key] = rec
	return rec
}

// Get 查询持仓记录（可能是已平仓的记录）
func (m *PositionMachine) Get(podID, symbol string) (PositionRecord, bool) {
	rec, ok := m.positions[positionKey{podID: podID, symbol: symbol}]
	return rec, ok
}

// OpenPositions 所有非零持仓，按 pod、合约排序
func (m *PositionMachine) OpenPositions() []PositionRecord {
	open := make([]PositionRecord, 0)
	for _, rec := range m.positions {
		if !rec.IsFlat() {
			open = append(open, rec)
		}
	}
	sortPositions(open)
	return open
}

// Snapshot 导出所有持仓记录（含已平仓）
func (m *PositionMachine) Snapshot() []PositionRecord {
	all := make([]PositionRecord, 0, len(m.positions))
	for _, rec := range m.positions {
		all = append(all, rec)
	}
	sortPositions(all)
	return all
}

// Hydrate 用快照替换当前状态
func (m *PositionMachine) Hydrate(records []PositionRecord) {
	m.positions = make(map[positionKey]PositionRecord, len(records))
	for _, rec := range records {
		m.positions[positionKey{podID: rec.PodID, symbol: rec.Symbol}] = rec
	}
}

func sortPositions(records []PositionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].PodID != records[j].PodID {
			return records[i].PodID < records[j].PodID
		}
		return records[i].Symbol < records[j].Symbol
	})
}
