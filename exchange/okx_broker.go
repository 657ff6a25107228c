package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"podmesh/exchange/okx"
	"podmesh/logger"
	"podmesh/schema"
)

// PodResolver 根据合约查找持仓归属的 pod，找不到返回空串
type PodResolver func(symbol string) string

// OKXBroker 基于 OKX 签名 REST 客户端的 Broker 实现（Paper / Live）。
// 订单的 tag 字段写入 podId，用于把交易所订单归属回 pod。
type OKXBroker struct {
	client  *okx.Client
	retrier *Retrier
	tdMode  string
	resolve PodResolver
}

// NewOKXBroker 创建 OKX Broker
func NewOKXBroker(client *okx.Client, retrier *Retrier, tdMode string, resolve PodResolver) *OKXBroker {
	if tdMode == "" {
		tdMode = "cross"
	}
	if resolve == nil {
		resolve = func(string) string { return "" }
	}
	return &OKXBroker{client: client, retrier: retrier, tdMode: tdMode, resolve: resolve}
}

// Name 交易所名称
func (b *OKXBroker) Name() string {
	if b.client.Simulated() {
		return "okx-paper"
	}
	return "okx"
}

// call 通过重试器执行一次 OKX 调用，并把 okx.Error 转换为已分类的 APIError
func call[T any](ctx context.Context, b *OKXBroker, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Do(ctx, b.retrier, op, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil {
			return v, toAPIError(op, err)
		}
		return v, nil
	})
}

func toAPIError(op string, err error) error {
	var oe *okx.Error
	if !errors.As(err, &oe) {
		return err
	}
	return &APIError{
		Op:         op,
		Category:   ClassifyInfo(ErrorInfo{Code: oe.Code, HTTPStatus: oe.Status, Transport: oe.Transport()}),
		Code:       oe.Code,
		Message:    oe.Message,
		HTTPStatus: oe.Status,
		RetryAfter: oe.RetryAfter,
		Err:        err,
	}
}

// PlaceOrder 下单后按 clOrdId 查询一次订单状态
func (b *OKXBroker) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	ordType := "market"
	px := ""
	if req.Price > 0 {
		ordType = "limit"
		px = decimal.NewFromFloat(req.Price).String()
	}
	placeReq := okx.PlaceOrderRequest{
		InstID:     req.Symbol,
		TdMode:     b.tdMode,
		Side:       strings.ToLower(string(req.Side)),
		OrdType:    ordType,
		Sz:         decimal.NewFromFloat(req.Quantity).String(),
		Px:         px,
		ClOrdID:    req.ClientOrderID,
		Tag:        req.PodID,
		ReduceOnly: req.ReduceOnly,
	}

	logger.Info("📝 [OKX审计] 下单 %s pod=%s %s %s sz=%s reduceOnly=%v",
		req.ClientOrderID, req.PodID, req.Symbol, placeReq.Side, placeReq.Sz, req.ReduceOnly)

	if _, err := call(ctx, b, "okx.PlaceOrder", func(ctx context.Context) (*okx.PlaceOrderResult, error) {
		return b.client.PlaceOrder(ctx, placeReq)
	}); err != nil {
		logger.Warn("⚠️ [OKX审计] 下单失败 %s: %v", req.ClientOrderID, err)
		return Order{}, err
	}

	raw, err := call(ctx, b, "okx.GetOrder", func(ctx context.Context) (*okx.Order, error) {
		return b.client.GetOrder(ctx, req.Symbol, req.ClientOrderID)
	})
	if err != nil {
		// 订单可能已在交易所，不在本地落账，由对账处理
		return Order{}, fmt.Errorf("查询已提交订单 %s 失败: %w", req.ClientOrderID, err)
	}

	order := mapOKXOrder(*raw)
	if order.PodID == "" {
		order.PodID = req.PodID
	}
	order.ReduceOnly = req.ReduceOnly
	logger.Info("📝 [OKX审计] 订单 %s 状态 %s 成交 %.6f", order.ClientOrderID, order.Status, order.FilledQuantity)
	return order, nil
}

// CancelOrder 撤单，订单已不在挂单列表时返回 nil, nil
func (b *OKXBroker) CancelOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	open, err := b.FetchOrders(ctx)
	if err != nil {
		return nil, err
	}
	var target *Order
	for i := range open {
		if open[i].ClientOrderID == clientOrderID {
			target = &open[i]
			break
		}
	}
	if target == nil {
		logger.Debug("[OKX审计] 撤单 %s: 订单不在挂单列表", clientOrderID)
		return nil, nil
	}

	logger.Info("📝 [OKX审计] 撤单 %s %s", clientOrderID, target.Symbol)
	_, err = call(ctx, b, "okx.CancelOrder", func(ctx context.Context) (*okx.CancelOrderResult, error) {
		return b.client.CancelOrder(ctx, target.Symbol, clientOrderID)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && orderGone(apiErr.Code) {
			return nil, nil
		}
		return nil, err
	}
	canceled := *target
	canceled.Status = OrderStatusCanceled
	canceled.Timestamp = time.Now()
	return &canceled, nil
}

// orderGone 51400-51402: 订单已成交、已撤销或不存在
func orderGone(code string) bool {
	return code == "51400" || code == "51401" || code == "51402"
}

// FetchOrders 查询未完成订单，podId 取自订单 tag
func (b *OKXBroker) FetchOrders(ctx context.Context) ([]Order, error) {
	raw, err := call(ctx, b, "okx.FetchOrders", func(ctx context.Context) ([]okx.Order, error) {
		return b.client.GetOpenOrders(ctx, "")
	})
	if err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, mapOKXOrder(o))
	}
	logger.Debug("[OKX审计] 未完成订单 %d 笔", len(orders))
	return orders, nil
}

// FetchPositions 查询持仓，podId 由合约归属决定
func (b *OKXBroker) FetchPositions(ctx context.Context) ([]Position, error) {
	raw, err := call(ctx, b, "okx.FetchPositions", func(ctx context.Context) ([]okx.Position, error) {
		return b.client.GetPositions(ctx, "")
	})
	if err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		qty := parseNum(p.Pos)
		if qty == 0 {
			continue
		}
		if p.PosSide == "short" && qty > 0 {
			qty = -qty
		}
		positions = append(positions, Position{
			PodID:        b.resolve(p.InstID),
			Symbol:       p.InstID,
			Quantity:     qty,
			AveragePrice: parseNum(p.AvgPx),
		})
	}
	logger.Debug("[OKX审计] 持仓 %d 个", len(positions))
	return positions, nil
}

// FetchBalance 总权益 + USDT 可用余额
func (b *OKXBroker) FetchBalance(ctx context.Context) (Balance, error) {
	raw, err := call(ctx, b, "okx.FetchBalance", func(ctx context.Context) ([]okx.Balance, error) {
		return b.client.GetBalance(ctx)
	})
	if err != nil {
		return Balance{}, err
	}
	var bal Balance
	if len(raw) == 0 {
		return bal, nil
	}
	bal.Total = parseNum(raw[0].TotalEq)
	for _, d := range raw[0].Details {
		if d.Ccy != "USDT" {
			continue
		}
		if d.AvailBal != "" {
			bal.Available = parseNum(d.AvailBal)
		} else {
			bal.Available = parseNum(d.AvailEq)
		}
	}
	return bal, nil
}

func mapOKXOrder(o okx.Order) Order {
	order := Order{
		ClientOrderID:  o.ClOrdID,
		PodID:          o.Tag,
		Symbol:         o.InstID,
		Side:           schema.Side(strings.ToUpper(o.Side)),
		Quantity:       parseNum(o.Sz),
		Price:          parseNum(o.Px),
		Status:         mapOKXState(o.State),
		FilledQuantity: parseNum(o.AccFillSz),
		AveragePrice:   parseNum(o.AvgPx),
		Timestamp:      time.Now(),
	}
	ts := o.UTime
	if ts == "" {
		ts = o.CTime
	}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil && ms > 0 {
		order.Timestamp = time.UnixMilli(ms)
	}
	if order.Price == 0 {
		order.Price = order.AveragePrice
	}
	return order
}

func mapOKXState(state string) OrderStatus {
	switch state {
	case "live":
		return OrderStatusNew
	case "partially_filled":
		return OrderStatusPartial
	case "filled":
		return OrderStatusFilled
	case "canceled", "mmp_canceled":
		return OrderStatusCanceled
	}
	return OrderStatusRejected
}

func parseNum(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
