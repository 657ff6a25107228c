// Package exchange 定义交易所能力接口、错误分类与重试，以及 DryRun 模拟撮合与 OKX 适配。
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"podmesh/schema"
)

// TradingMode 凭证作用域，启动时确定一次
type TradingMode string

const (
	DryRun TradingMode = "DRY_RUN" // 不访问网络，本地模拟撮合
	Paper  TradingMode = "PAPER"   // OKX 模拟盘凭证
	Live   TradingMode = "LIVE"    // OKX 实盘凭证
)

// ParseTradingMode 解析交易模式
func ParseTradingMode(s string) (TradingMode, error) {
	switch TradingMode(strings.ToUpper(strings.TrimSpace(s))) {
	case DryRun, "":
		return DryRun, nil
	case Paper:
		return Paper, nil
	case Live:
		return Live, nil
	}
	return "", fmt.Errorf("未知的交易模式: %s", s)
}

// OrderStatus 交易所侧订单状态
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusPartial  OrderStatus = "PARTIAL"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// Open 是否仍在交易所挂单
func (s OrderStatus) Open() bool {
	return s == OrderStatusNew || s == OrderStatusPartial
}

// OrderRequest 下单请求
type OrderRequest struct {
	ClientOrderID string
	PodID         string
	Symbol        string
	Side          schema.Side
	Quantity      float64
	Price         float64 // 0 表示市价
	ReduceOnly    bool
}

// Order 交易所返回的订单
type Order struct {
	ClientOrderID  string
	PodID          string
	Symbol         string
	Side           schema.Side
	Quantity       float64
	Price          float64
	ReduceOnly     bool
	Status         OrderStatus
	FilledQuantity float64
	AveragePrice   float64
	Timestamp      time.Time
}

// Position 交易所持仓，数量带符号
type Position struct {
	PodID        string
	Symbol       string
	Quantity     float64
	AveragePrice float64
}

// Balance 账户余额
type Balance struct {
	Total     float64
	Available float64
}

// Broker 交易所能力接口
type Broker interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	// CancelOrder 订单不存在（或已不在挂单列表）时返回 nil, nil
	CancelOrder(ctx context.Context, clientOrderID string) (*Order, error)
	FetchOrders(ctx context.Context) ([]Order, error)
	FetchPositions(ctx context.Context) ([]Position, error)
	FetchBalance(ctx context.Context) (Balance, error)
}
