package exchange

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"podmesh/logger"
)

// SimOptions DryRun 模拟撮合参数
type SimOptions struct {
	Balance   float64
	FillRatio float64 // 完全成交概率，其余订单以 0 成交量挂在 PARTIAL
	Seed      int64
	// Prices 市价单的成交价来源，返回 0 表示无报价
	Prices func(symbol string) float64
}

// SimBroker 本地模拟交易所，不访问网络。
// 完全成交的订单立即更新 (pod, symbol) 维度的持仓。
type SimBroker struct {
	opts SimOptions

	mu        sync.Mutex
	rng       *rand.Rand
	orders    map[string]Order
	positions map[string]Position
	marks     map[string]float64
	failErr   error
	failLeft  int
}

// NewSimBroker 创建模拟交易所
func NewSimBroker(opts SimOptions) *SimBroker {
	if opts.FillRatio < 0 || opts.FillRatio > 1 {
		opts.FillRatio = 0.8
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &SimBroker{
		opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		orders:    make(map[string]Order),
		positions: make(map[string]Position),
		marks:     make(map[string]float64),
	}
}

// Name 交易所名称
func (b *SimBroker) Name() string {
	return "sim"
}

// SetMarkPrice 设置标记价格，优先于 Prices
func (b *SimBroker) SetMarkPrice(symbol string, price float64) {
	b.mu.Lock()
	b.marks[symbol] = price
	b.mu.Unlock()
}

// InjectFailure 之后的 n 次调用都返回 err，用于模拟交易所故障
func (b *SimBroker) InjectFailure(err error, n int) {
	b.mu.Lock()
	b.failErr = err
	b.failLeft = n
	b.mu.Unlock()
}

// AddOrder 直接写入一笔挂单（模拟外部下的单）
func (b *SimBroker) AddOrder(o Order) {
	b.mu.Lock()
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}
	b.orders[o.ClientOrderID] = o
	b.mu.Unlock()
}

// SetPosition 直接设置持仓（模拟外部持仓）
func (b *SimBroker) SetPosition(p Position) {
	b.mu.Lock()
	b.positions[positionKey(p.PodID, p.Symbol)] = p
	b.mu.Unlock()
}

func (b *SimBroker) injected() error {
	if b.failLeft <= 0 {
		return nil
	}
	b.failLeft--
	return b.failErr
}

func (b *SimBroker) markPrice(symbol string) float64 {
	if p := b.marks[symbol]; p > 0 {
		return p
	}
	if b.opts.Prices != nil {
		return b.opts.Prices(symbol)
	}
	return 0
}

// PlaceOrder 以 FillRatio 的概率完全成交，否则挂单 PARTIAL
func (b *SimBroker) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(); err != nil {
		return Order{}, err
	}
	if req.Quantity <= 0 {
		return Order{}, &APIError{Op: "sim.PlaceOrder", Category: CategoryInvalidOrder, Message: "数量必须大于 0"}
	}
	price := req.Price
	if price <= 0 {
		price = b.markPrice(req.Symbol)
	}
	if price <= 0 {
		return Order{}, &APIError{Op: "sim.PlaceOrder", Category: CategoryInvalidOrder, Message: "没有可用的成交价: " + req.Symbol}
	}

	order := Order{
		ClientOrderID: req.ClientOrderID,
		PodID:         req.PodID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Price:         price,
		ReduceOnly:    req.ReduceOnly,
		Status:        OrderStatusPartial,
		Timestamp:     time.Now(),
	}
	if b.rng.Float64() < b.opts.FillRatio {
		order.Status = OrderStatusFilled
		order.FilledQuantity = req.Quantity
		order.AveragePrice = price
		b.applyFill(order)
	}
	b.orders[order.ClientOrderID] = order
	logger.Debug("[Sim] 下单 %s %s %s %.6f @ %.2f -> %s", order.ClientOrderID, order.Symbol, order.Side, order.Quantity, price, order.Status)
	return order, nil
}

func (b *SimBroker) applyFill(o Order) {
	key := positionKey(o.PodID, o.Symbol)
	pos, ok := b.positions[key]
	if !ok {
		pos = Position{PodID: o.PodID, Symbol: o.Symbol}
	}
	qty := pos.Quantity + o.Side.Sign()*o.FilledQuantity
	if math.Abs(qty) < 1e-9 {
		qty = 0
	}
	avg := 0.0
	if qty != 0 {
		avg = (pos.AveragePrice*pos.Quantity + o.AveragePrice*o.Side.Sign()*o.FilledQuantity) / qty
	}
	pos.Quantity = qty
	pos.AveragePrice = avg
	b.positions[key] = pos
}

// CancelOrder 撤销挂单，订单不存在返回 nil, nil
func (b *SimBroker) CancelOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(); err != nil {
		return nil, err
	}
	o, ok := b.orders[clientOrderID]
	if !ok {
		return nil, nil
	}
	o.Status = OrderStatusCanceled
	o.Timestamp = time.Now()
	b.orders[clientOrderID] = o
	return &o, nil
}

// FetchOrders 返回仍在挂单的订单，按客户端订单号排序
func (b *SimBroker) FetchOrders(ctx context.Context) ([]Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		if o.Status.Open() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientOrderID < out[j].ClientOrderID })
	return out, nil
}

// FetchPositions 返回非零持仓，按 pod、symbol 排序
func (b *SimBroker) FetchPositions(ctx context.Context) ([]Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Quantity != 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PodID != out[j].PodID {
			return out[i].PodID < out[j].PodID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// FetchBalance 返回账户余额
func (b *SimBroker) FetchBalance(ctx context.Context) (Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected(); err != nil {
		return Balance{}, err
	}
	return Balance{Total: b.opts.Balance, Available: b.opts.Balance}, nil
}

func positionKey(podID, symbol string) string {
	return podID + ":" + symbol
}
