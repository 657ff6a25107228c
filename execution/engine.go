// Package execution 把通过准入的下单意图提交到交易所，并转换为订单生命周期事件与成交事件。
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"podmesh/exchange"
	"podmesh/logger"
	"podmesh/metrics"
	"podmesh/risk"
	"podmesh/schema"
)

// Result 一次执行的产出：一个生命周期事件，完全成交时附带一个成交事件
type Result struct {
	OrderEvent schema.OrderLifecycleEvent
	FillEvent  *schema.FillEvent
}

// Engine 执行引擎
type Engine struct {
	broker exchange.Broker
}

// NewEngine 创建执行引擎
func NewEngine(broker exchange.Broker) *Engine {
	return &Engine{broker: broker}
}

// Execute 提交订单。交易所状态 PARTIAL / FILLED 原样映射，其余一律视为 REJECTED；
// 只有完全成交才生成成交事件，部分成交由对账兜底。
// 交易所以 INVALID_ORDER / INSUFFICIENT_BALANCE 拒单时返回 REJECTED 事件而不是错误；
// 其它错误原样返回，调用方不应落账。
func (e *Engine) Execute(ctx context.Context, approved risk.ApprovedIntent) (Result, error) {
	intent := approved.Intent()
	pm := metrics.GetPrometheusMetrics()

	order, err := e.broker.PlaceOrder(ctx, exchange.OrderRequest{
		ClientOrderID: intent.ClientOrderID,
		PodID:         intent.PodID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Quantity:      intent.Quantity,
		ReduceOnly:    intent.ReduceOnly,
	})
	if err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.Category == exchange.CategoryInvalidOrder || apiErr.Category == exchange.CategoryInsufficientBalance) {
			logger.Warn("⚠️ [%s] 订单 %s 被交易所拒绝: %v", intent.PodID, intent.ClientOrderID, err)
			pm.RecordOrder(intent.PodID, intent.Symbol, string(intent.Side), string(schema.OrderStatusRejected))
			return Result{OrderEvent: schema.OrderLifecycleEvent{
				ClientOrderID: intent.ClientOrderID,
				Status:        schema.OrderStatusRejected,
				PodID:         intent.PodID,
				Symbol:        intent.Symbol,
				Side:          intent.Side,
				Reason:        string(apiErr.Category),
				Timestamp:     time.Now(),
			}}, nil
		}
		return Result{}, fmt.Errorf("提交订单 %s 失败: %w", intent.ClientOrderID, err)
	}

	res := Result{OrderEvent: schema.OrderLifecycleEvent{
		ClientOrderID: order.ClientOrderID,
		Status:        mapStatus(order.Status),
		PodID:         order.PodID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Timestamp:     order.Timestamp,
	}}
	if res.OrderEvent.ClientOrderID == "" {
		res.OrderEvent.ClientOrderID = intent.ClientOrderID
	}
	if res.OrderEvent.PodID == "" {
		res.OrderEvent.PodID = intent.PodID
	}
	if res.OrderEvent.Timestamp.IsZero() {
		res.OrderEvent.Timestamp = time.Now()
	}

	switch res.OrderEvent.Status {
	case schema.OrderStatusFilled:
		qty := order.FilledQuantity
		if qty <= 0 {
			qty = order.Quantity
		}
		price := order.AveragePrice
		if price <= 0 {
			price = order.Price
		}
		res.OrderEvent.FilledQuantity = qty
		res.FillEvent = &schema.FillEvent{
			ClientOrderID: res.OrderEvent.ClientOrderID,
			PodID:         res.OrderEvent.PodID,
			Symbol:        res.OrderEvent.Symbol,
			Side:          res.OrderEvent.Side,
			Quantity:      qty,
			Price:         price,
			Timestamp:     res.OrderEvent.Timestamp,
		}
		pm.RecordFill(res.OrderEvent.PodID, res.OrderEvent.Symbol, string(res.OrderEvent.Side), qty)
	case schema.OrderStatusPartial:
		res.OrderEvent.FilledQuantity = order.FilledQuantity
	default:
		res.OrderEvent.Reason = fmt.Sprintf("交易所状态 %s", order.Status)
	}

	pm.RecordOrder(res.OrderEvent.PodID, res.OrderEvent.Symbol, string(res.OrderEvent.Side), string(res.OrderEvent.Status))
	logger.Info("✅ [%s] 订单 %s %s %s %.6f -> %s",
		res.OrderEvent.PodID, res.OrderEvent.ClientOrderID, res.OrderEvent.Symbol, res.OrderEvent.Side, intent.Quantity, res.OrderEvent.Status)
	return res, nil
}

func mapStatus(s exchange.OrderStatus) schema.OrderStatus {
	switch s {
	case exchange.OrderStatusPartial:
		return schema.OrderStatusPartial
	case exchange.OrderStatusFilled:
		return schema.OrderStatusFilled
	}
	return schema.OrderStatusRejected
}
