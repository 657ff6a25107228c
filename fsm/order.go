package fsm

import (
	"sort"
	"time"

	"podmesh/schema"
)

// OrderRecord 订单的内部视图
type OrderRecord struct {
	ClientOrderID  string             `json:"clientOrderId"`
	Status         schema.OrderStatus `json:"status"`
	FilledQuantity float64            `json:"filledQuantity"`
	PodID          string             `json:"podId"`
	Symbol         string             `json:"symbol"`
	Side           schema.Side        `json:"side"`
	LastUpdate     time.Time          `json:"lastUpdate"`
}

// OrderSnapshot 订单状态机的可序列化快照
type OrderSnapshot struct {
	Orders []OrderRecord `json:"orders"`
	Seen   []string      `json:"seen"`
}

// OrderMachine 订单状态机。终态吸收后续所有事件，seen 记录所有出现过的 clientOrderId。
// 不做线程保护，由所属 pod 的锁串行化访问。
type OrderMachine struct {
	orders map[string]OrderRecord
	seen   map[string]struct{}
}

// NewOrderMachine 创建空的订单状态机
func NewOrderMachine() *OrderMachine {
	return &OrderMachine{
		orders: make(map[string]OrderRecord),
		seen:   make(map[string]struct{}),
	}
}

// Apply 应用生命周期事件并返回结果记录。已处于终态的订单原样返回。
func (m *OrderMachine) Apply(ev schema.OrderLifecycleEvent) OrderRecord {
	if existing, ok := m.orders[ev.ClientOrderID]; ok && existing.Status.IsTerminal() {
		return existing
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	rec := OrderRecord{
		ClientOrderID:  ev.ClientOrderID,
		Status:         ev.Status,
		FilledQuantity: ev.FilledQuantity,
		PodID:          ev.PodID,
		Symbol:         ev.Symbol,
		Side:           ev.Side,
		LastUpdate:     at,
	}
	m.orders[ev.ClientOrderID] = rec
	m.seen[ev.ClientOrderID] = struct{}{}
	return rec
}

// IsDuplicate clientOrderId 是否曾经被应用过
func (m *OrderMachine) IsDuplicate(clientOrderID string) bool {
	_, ok := m.seen[clientOrderID]
	return ok
}

// Get 查询订单记录
func (m *OrderMachine) Get(clientOrderID string) (OrderRecord, bool) {
	rec, ok := m.orders[clientOrderID]
	return rec, ok
}

// Len 订单数量
func (m *OrderMachine) Len() int {
	return len(m.orders)
}

// Snapshot 导出快照，按 clientOrderId 排序
func (m *OrderMachine) Snapshot() OrderSnapshot {
	snap := OrderSnapshot{
		Orders: make([]OrderRecord, 0, len(m.orders)),
		Seen:   make([]string, 0, len(m.seen)),
	}
	for _, rec := range m.orders {
		snap.Orders = append(snap.Orders, rec)
	}
	for id := range m.seen {
		snap.Seen = append(snap.Seen, id)
	}
	sort.Slice(snap.Orders, func(i, j int) bool {
		return snap.Orders[i].ClientOrderID < snap.Orders[j].ClientOrderID
	})
	sort.Strings(snap.Seen)
	return snap
}

// Hydrate 用快照替换当前状态
func (m *OrderMachine) Hydrate(snap OrderSnapshot) {
	m.orders = make(map[string]OrderRecord, len(snap.Orders))
	m.seen = make(map[string]struct{}, len(snap.Seen))
	for _, rec := range snap.Orders {
		m.orders[rec.ClientOrderID] = rec
		m.seen[rec.ClientOrderID] = struct{}{}
	}
	for _, id := range snap.Seen {
		m.seen[id] = struct{}{}
	}
}
