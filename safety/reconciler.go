// Package safety 实现对账循环：把交易所的挂单与持仓和各 pod 的内部状态比对，
// 撤销孤儿订单、只减仓平掉孤儿持仓，交易所不可达时按错误预算升级全局模式。
package safety

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"podmesh/config"
	"podmesh/database"
	"podmesh/event"
	"podmesh/exchange"
	"podmesh/execution"
	"podmesh/lock"
	"podmesh/logger"
	"podmesh/metrics"
	"podmesh/pod"
	"podmesh/risk"
	"podmesh/schema"
	"podmesh/utils"
)

const (
	reconcileLockKey = "reconcile"

	diffOrphanOrder    = "orphan_order"
	diffOrphanPosition = "orphan_position"
	diffFetchFailure   = "fetch_failure"
)

// Reconciler 对账器
type Reconciler struct {
	manager  *pod.Manager
	broker   exchange.Broker
	engine   *execution.Engine
	sink     event.Sink
	lock     lock.DistributedLock
	storage  database.Database // 可选，记录对账差异
	interval time.Duration
	lockTTL  time.Duration

	mu           sync.Mutex // 同一时刻只有一次对账
	lastSuccess  time.Time
	lastBalance  exchange.Balance
	reconcileNum int64
}

// NewReconciler 创建对账器
func NewReconciler(cfg *config.Config, manager *pod.Manager, broker exchange.Broker, engine *execution.Engine,
	sink event.Sink, distributedLock lock.DistributedLock) *Reconciler {
	if distributedLock == nil {
		distributedLock = lock.NewNopLock()
	}
	interval := config.Interval(cfg.Trading.ReconcileInterval)
	if interval <= 0 {
		interval = 2 * time.Second
	}
	// 锁的有效期覆盖一次对账的最长耗时（含重试退避）
	ttl := 10 * interval
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return &Reconciler{
		manager:  manager,
		broker:   broker,
		engine:   engine,
		sink:     sink,
		lock:     distributedLock,
		interval: interval,
		lockTTL:  ttl,
	}
}

// SetStorage 设置存储服务（可选）
func (r *Reconciler) SetStorage(storage database.Database) {
	r.storage = storage
}

// Start 启动对账协程，ctx 结束后退出
func (r *Reconciler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("⏹️ 对账协程已停止")
				return
			case <-ticker.C:
				if err := r.Reconcile(ctx); err != nil && !errors.Is(err, lock.ErrNotAcquired) && ctx.Err() == nil {
					logger.Error("❌ [对账失败] %v", err)
				}
			}
		}
	}()
	logger.Info("✅ 对账已启动 (间隔: %v)", r.interval)
	return done
}

// LastSuccess 最近一次成功对账的时间与余额
func (r *Reconciler) LastSuccess() (time.Time, exchange.Balance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSuccess, r.lastBalance
}

// Reconcile 执行一次对账。拉取失败时不在本轮重试，只累计错误预算。
func (r *Reconciler) Reconcile(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pm := metrics.GetPrometheusMetrics()
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("❌ 对账 panic: %v\n%s", rec, debug.Stack())
			pm.RecordLoopFailure("reconcile")
			r.emit(schema.NewRiskEvent("", schema.SeverityCritical, fmt.Sprintf("Reconciliation loop panic: %v", rec)))
			err = fmt.Errorf("对账 panic: %v", rec)
		}
		pm.RecordCycle("reconcile", time.Since(start))
	}()

	return lock.WithLock(ctx, r.lock, reconcileLockKey, r.lockTTL, r.reconcile)
}

type remoteState struct {
	orders    []exchange.Order
	positions []exchange.Position
	balance   exchange.Balance
}

func (r *Reconciler) fetch(ctx context.Context) (remoteState, error) {
	var st remoteState
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orders, err := r.broker.FetchOrders(gctx)
		if err != nil {
			return fmt.Errorf("查询挂单失败: %w", err)
		}
		st.orders = orders
		return nil
	})
	g.Go(func() error {
		positions, err := r.broker.FetchPositions(gctx)
		if err != nil {
			return fmt.Errorf("查询持仓失败: %w", err)
		}
		st.positions = positions
		return nil
	})
	g.Go(func() error {
		balance, err := r.broker.FetchBalance(gctx)
		if err != nil {
			return fmt.Errorf("查询余额失败: %w", err)
		}
		st.balance = balance
		return nil
	})
	return st, g.Wait()
}

func (r *Reconciler) reconcile(ctx context.Context) error {
	pm := metrics.GetPrometheusMetrics()
	r.reconcileNum++

	st, err := r.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.onFailure(ctx, err)
		return err
	}

	summary := schema.ReconciliationEvent{
		Success:           true,
		ExchangeOrders:    len(st.orders),
		ExchangePositions: len(st.positions),
		AvailableBalance:  st.balance.Available,
	}

	for _, o := range st.orders {
		p, ok := r.manager.Pod(o.PodID)
		if !ok {
			logger.Debug("[对账] 挂单 %s 的 pod %q 未知，跳过", o.ClientOrderID, o.PodID)
			continue
		}
		if r.cancelOrphanOrder(ctx, p, o) {
			summary.CanceledOrphans++
		}
	}

	for _, rp := range st.positions {
		if rp.PodID == "" {
			if r.closeSharedPosition(ctx, rp) {
				summary.ClosedOrphans++
			}
			continue
		}
		p, ok := r.manager.Pod(rp.PodID)
		if !ok {
			logger.Debug("[对账] 持仓 %s 的 pod %q 未知，跳过", rp.Symbol, rp.PodID)
			continue
		}
		if r.closeOrphanPosition(ctx, p, rp) {
			summary.ClosedOrphans++
		}
	}

	r.manager.CapCapital(st.balance.Available)

	r.lastSuccess = time.Now()
	r.lastBalance = st.balance
	summary.Timestamp = r.lastSuccess
	r.emit(summary)
	pm.RecordReconciliation("success")

	if summary.CanceledOrphans > 0 || summary.ClosedOrphans > 0 {
		logger.Warn("⚠️ [对账 #%d] 挂单 %d 持仓 %d，撤销孤儿订单 %d，平掉孤儿持仓 %d",
			r.reconcileNum, summary.ExchangeOrders, summary.ExchangePositions, summary.CanceledOrphans, summary.ClosedOrphans)
	} else {
		logger.Debug("[对账 #%d] 一致：挂单 %d 持仓 %d 可用余额 %.2f",
			r.reconcileNum, summary.ExchangeOrders, summary.ExchangePositions, st.balance.Available)
	}
	return nil
}

// cancelOrphanOrder 撤销内部从未见过的挂单。检查与落账都在 pod 锁内完成，
// 交易循环持锁下单并落账，所以已落账的订单不会被误撤。
func (r *Reconciler) cancelOrphanOrder(ctx context.Context, p *pod.Runtime, o exchange.Order) bool {
	p.Lock()
	defer p.Unlock()

	if p.Orders.IsDuplicate(o.ClientOrderID) {
		return false
	}
	pm := metrics.GetPrometheusMetrics()
	pm.RecordReconciliationDiff(diffOrphanOrder)
	logger.Warn("⚠️ [%s] 发现孤儿订单 %s %s %s %.6f，撤单", p.ID(), o.ClientOrderID, o.Symbol, o.Side, o.Quantity)

	canceled, err := r.broker.CancelOrder(ctx, o.ClientOrderID)
	if err != nil {
		logger.Error("❌ [%s] 撤销孤儿订单 %s 失败: %v", p.ID(), o.ClientOrderID, err)
		r.record(ctx, p.ID(), o.Symbol, diffOrphanOrder, o.ClientOrderID, o, false, err)
		return false
	}
	if canceled == nil {
		logger.Info("ℹ️ [%s] 孤儿订单 %s 已不在交易所", p.ID(), o.ClientOrderID)
	}

	ev := schema.OrderLifecycleEvent{
		ClientOrderID:  o.ClientOrderID,
		Status:         schema.OrderStatusCanceled,
		FilledQuantity: 0,
		PodID:          p.ID(),
		Symbol:         o.Symbol,
		Side:           o.Side,
		Reason:         "reconciliation orphan",
		Timestamp:      time.Now(),
	}
	p.Orders.Apply(ev)
	r.emit(ev)
	r.emit(schema.TradeReport{
		PodID:          p.ID(),
		Cycle:          r.manager.Cycle(),
		OrderLifecycle: &ev,
		Details:        "Canceled unknown order during reconciliation",
		Timestamp:      ev.Timestamp,
	})
	r.record(ctx, p.ID(), o.Symbol, diffOrphanOrder, o.ClientOrderID, o, true, nil)
	return true
}

// closeOrphanPosition 交易所有持仓而内部没有（或内部为 0）时，只减仓平掉。
// 平仓只落订单生命周期，不落成交，内部持仓保持为空。
func (r *Reconciler) closeOrphanPosition(ctx context.Context, p *pod.Runtime, rp exchange.Position) bool {
	if rp.Quantity == 0 {
		return false
	}
	p.Lock()
	defer p.Unlock()

	if rec, ok := p.Positions.Get(p.ID(), rp.Symbol); ok && !rec.IsFlat() {
		return false
	}
	return r.closeLocked(ctx, p, rp)
}

// closeSharedPosition 处理无法归属到单个 pod 的持仓（多个 pod 声明了同一合约，
// 交易所只报告净持仓）。只要任一 pod 内部持有该合约就不动，内部合计与交易所不一致时只告警；
// 所有 pod 内部都为空才视为孤儿，由配置中第一个声明该合约的 pod 只减仓平掉。
// 按配置顺序锁住全部相关 pod，期间交易循环无法在这些 pod 上开仓。
func (r *Reconciler) closeSharedPosition(ctx context.Context, rp exchange.Position) bool {
	if rp.Quantity == 0 {
		return false
	}
	var owners []*pod.Runtime
	for _, p := range r.manager.Pods() {
		if p.Config.OwnsInstrument(rp.Symbol) {
			owners = append(owners, p)
		}
	}
	if len(owners) == 0 {
		logger.Debug("[对账] 持仓 %s 不属于任何 pod，跳过", rp.Symbol)
		return false
	}
	for _, p := range owners {
		p.Lock()
		defer p.Unlock()
	}

	internal := 0.0
	holders := 0
	for _, p := range owners {
		if rec, ok := p.Positions.Get(p.ID(), rp.Symbol); ok && !rec.IsFlat() {
			internal += rec.Quantity
			holders++
		}
	}
	if holders > 0 {
		if math.Abs(internal-rp.Quantity) > 1e-9 {
			logger.Warn("⚠️ [对账] %s 交易所净持仓 %.6f 与 %d 个 pod 内部合计 %.6f 不一致，不自动平仓",
				rp.Symbol, rp.Quantity, holders, internal)
		}
		return false
	}
	return r.closeLocked(ctx, owners[0], rp)
}

// closeLocked 发出只减仓平仓单，调用方持有 p 的锁
func (r *Reconciler) closeLocked(ctx context.Context, p *pod.Runtime, rp exchange.Position) bool {
	pm := metrics.GetPrometheusMetrics()
	pm.RecordReconciliationDiff(diffOrphanPosition)

	side := schema.SideSell
	if rp.Quantity < 0 {
		side = schema.SideBuy
	}
	intent := risk.Intent{
		PodID:         p.ID(),
		Symbol:        rp.Symbol,
		Side:          side,
		Quantity:      math.Abs(rp.Quantity),
		ReduceOnly:    true,
		ClientOrderID: utils.NewClientOrderID(p.Config.OrderTagPrefix, utils.TagReconcile),
		Timestamp:     time.Now(),
	}
	logger.Warn("⚠️ [%s] 发现孤儿持仓 %s %.6f，只减仓平仓 %s %s",
		p.ID(), rp.Symbol, rp.Quantity, intent.Side, intent.ClientOrderID)
	r.emit(intent.Event())

	approved, res := risk.Admit(intent)
	if !res.Allowed {
		pm.RecordGateDenial(p.ID(), "admission")
		r.record(ctx, p.ID(), rp.Symbol, diffOrphanPosition, intent.ClientOrderID, rp, false, errors.New(res.Reason))
		return false
	}
	result, err := r.engine.Execute(ctx, approved)
	if err != nil {
		logger.Error("❌ [%s] 孤儿持仓平仓失败: %v", p.ID(), err)
		r.record(ctx, p.ID(), rp.Symbol, diffOrphanPosition, intent.ClientOrderID, rp, false, err)
		return false
	}

	ev := result.OrderEvent
	p.Orders.Apply(ev)
	r.emit(ev)
	r.emit(schema.TradeReport{
		PodID:          p.ID(),
		Cycle:          r.manager.Cycle(),
		OrderLifecycle: &ev,
		Details:        "Reduce-only close from reconciliation",
		Timestamp:      ev.Timestamp,
	})
	r.record(ctx, p.ID(), rp.Symbol, diffOrphanPosition, intent.ClientOrderID, rp, ev.Status != schema.OrderStatusRejected, nil)
	return true
}

// onFailure 交易所不可达：所有 pod 的对账失败计数 +1，按最大计数升级全局模式
func (r *Reconciler) onFailure(ctx context.Context, cause error) {
	pm := metrics.GetPrometheusMetrics()
	pm.RecordReconciliation("failure")
	pm.RecordReconciliationDiff(diffFetchFailure)

	worst := 0
	for _, p := range r.manager.Pods() {
		p.Lock()
		p.Budget.ReconciliationFailures++
		count := p.Budget.ReconciliationFailures
		p.Unlock()
		pm.SetErrorBudget(p.ID(), "reconciliation_failures", count)
		if count > worst {
			worst = count
		}
	}

	target := r.manager.Thresholds().Escalation(worst)
	if target != schema.ModeNormal {
		r.manager.Global.Upgrade(target)
	}
	logger.Error("🚨 [对账 #%d] 交易所不可达（对账失败计数 %d，全局模式 %s）: %v",
		r.reconcileNum, worst, r.manager.Global.Current(), cause)

	r.emit(schema.NewRiskEvent("", schema.SeverityCritical, "Reconciliation failure: "+cause.Error()))
	r.emit(schema.ReconciliationEvent{
		Success:   false,
		Error:     cause.Error(),
		Timestamp: time.Now(),
	})
	r.record(ctx, "", "", diffFetchFailure, "", nil, false, cause)
}

func (r *Reconciler) emit(e schema.Event) {
	if r.sink != nil {
		r.sink.Emit(e)
	}
}

func (r *Reconciler) record(ctx context.Context, podID, symbol, diffType, clientOrderID string, remote interface{}, resolved bool, cause error) {
	if r.storage == nil {
		return
	}
	rec := &database.Reconciliation{
		Exchange:      r.broker.Name(),
		PodID:         podID,
		Symbol:        symbol,
		Type:          diffType,
		ClientOrderID: clientOrderID,
		Resolved:      resolved,
		CreatedAt:     time.Now(),
	}
	if remote != nil {
		if b, err := json.Marshal(remote); err == nil {
			rec.RemoteValue = string(b)
		}
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.storage.SaveReconciliation(saveCtx, rec); err != nil {
		logger.Warn("⚠️ 保存对账记录失败: %v", err)
	}
}
