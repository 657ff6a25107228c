// Package trading 实现交易循环：每个周期取一次行情快照，先执行全局熔断，
// 再按配置顺序对每个 pod 依次执行风控闸门、策略、AI 建议、共识与下单。
package trading

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"podmesh/advisory"
	"podmesh/config"
	"podmesh/consensus"
	"podmesh/event"
	"podmesh/execution"
	"podmesh/logger"
	"podmesh/market"
	"podmesh/metrics"
	"podmesh/pod"
	"podmesh/risk"
	"podmesh/schema"
	"podmesh/strategy"
	"podmesh/utils"
)

const (
	// CrashVolatility 波动率超过该值时全局进入 CRASH
	CrashVolatility = 0.9
	// StopLossRatio 开仓止损价相对现价的比例
	StopLossRatio = 0.98
)

// Loop 交易循环
type Loop struct {
	manager    *pod.Manager
	source     market.Source
	strategies *strategy.Registry
	advise     advisory.Func
	engine     *execution.Engine
	sink       event.Sink
	interval   time.Duration

	mu sync.Mutex // 周期不可重入
}

// NewLoop 创建交易循环
func NewLoop(cfg *config.Config, manager *pod.Manager, source market.Source, strategies *strategy.Registry,
	advise advisory.Func, engine *execution.Engine, sink event.Sink) *Loop {
	interval := config.Interval(cfg.Trading.TradingInterval)
	if interval <= 0 {
		interval = 8 * time.Second
	}
	if strategies == nil {
		strategies = strategy.DefaultRegistry()
	}
	return &Loop{
		manager:    manager,
		source:     source,
		strategies: strategies,
		advise:     advise,
		engine:     engine,
		sink:       sink,
		interval:   interval,
	}
}

// Start 启动交易协程，ctx 结束后退出
func (l *Loop) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("⏹️ 交易循环已停止")
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					logger.Info("⏹️ 交易循环已停止")
					return
				}
				if err := l.RunCycle(ctx); err != nil {
					logger.Error("❌ [交易循环] %v", err)
				}
			}
		}
	}()
	logger.Info("✅ 交易循环已启动 (间隔: %v)", l.interval)
	return done
}

// RunCycle 执行一个交易周期。单个 pod 的执行失败只计入该 pod 的错误预算，不影响其它 pod。
// 周期一旦开始就会遍历完所有 pod：ctx 的取消只在周期之间生效，周期内的调用只受客户端超时约束。
func (l *Loop) RunCycle(ctx context.Context) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	pm := metrics.GetPrometheusMetrics()
	start := time.Now()
	cycle := l.manager.NextCycle()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("❌ 交易周期 #%d panic: %v\n%s", cycle, rec, debug.Stack())
			pm.RecordLoopFailure("trading")
			l.emit(schema.NewRiskEvent("", schema.SeverityCritical, fmt.Sprintf("Trading loop panic: %v", rec)))
			err = fmt.Errorf("交易周期 #%d panic: %v", cycle, rec)
		}
		pm.RecordCycle("trading", time.Since(start))
	}()

	snap, snapErr := l.source.Snapshot(ctx)
	if snapErr != nil {
		// 取不到行情按断档处理，熔断逻辑照常执行
		logger.Warn("⚠️ [周期 #%d] 获取行情失败，按 GAPPED 处理: %v", cycle, snapErr)
		snap.Quality = schema.DataQualityGapped
		snap.Timestamp = time.Now()
	}
	marketEvent := snap.Event()
	l.emit(marketEvent)

	l.circuitBreakers(snap)

	for _, p := range l.manager.Pods() {
		l.runPod(ctx, cycle, p, snap, marketEvent)
	}
	logger.Debug("[周期 #%d] 完成，全局模式 %s，耗时 %v", cycle, l.manager.Global.Current(), time.Since(start))
	return nil
}

// circuitBreakers 行情降级进入 SAFE，极端波动进入 CRASH，两者都会暂停所有 pod 的学习
func (l *Loop) circuitBreakers(snap market.Snapshot) {
	if snap.Quality != schema.DataQualityGood {
		l.manager.Global.Upgrade(schema.ModeSafe)
		l.manager.PauseLearning()
		logger.Warn("⚠️ 行情质量 %s，全局进入 SAFE", snap.Quality)
		l.emit(schema.NewRiskEvent("", schema.SeverityWarn, "Market data degraded"))
	}
	if snap.Volatility > CrashVolatility {
		l.manager.Global.Upgrade(schema.ModeCrash)
		l.manager.PauseLearning()
		logger.Error("🛑 波动率 %.2f 超过 %.2f，全局进入 CRASH", snap.Volatility, CrashVolatility)
		l.emit(schema.NewRiskEvent("", schema.SeverityCritical, "Extreme volatility"))
	}
}

func (l *Loop) runPod(ctx context.Context, cycle int64, p *pod.Runtime, snap market.Snapshot, marketEvent schema.MarketEvent) {
	pm := metrics.GetPrometheusMetrics()
	podID := p.ID()
	report := schema.TradeReport{PodID: podID, Cycle: cycle, Snapshot: &marketEvent}

	global := l.manager.Global.Current()
	podMode := p.Mode.Current()

	if global != schema.ModeNormal || podMode != schema.ModeNormal {
		if l.flatten(ctx, cycle, p) {
			return
		}
	}

	if res := risk.PreTrade(global, podMode, snap.Quality); !res.Allowed {
		pm.RecordGateDenial(podID, "pre_trade")
		report.Details = "PreTrade gate blocked: " + res.Reason
		l.finishReport(report)
		return
	}

	fn, err := l.strategies.Get(p.Config.StrategyID)
	if err != nil {
		logger.Error("❌ [%s] %v", podID, err)
		report.Details = "Strategy unavailable: " + err.Error()
		l.finishReport(report)
		return
	}
	sig := fn(podID, snap)
	l.emit(sig)
	report.Signal = &sig

	adv := l.advise(podID, p.Config.AI)
	l.emit(adv)
	report.Advisory = &adv

	decision := consensus.Decide(podID, sig, adv)
	l.emit(decision)
	report.Consensus = &decision
	pm.RecordConsensus(podID, string(decision.Decision))

	// HOLD 也走完建议与共识，保证每个周期的审计链完整，但不下单
	if sig.Action == schema.ActionHold {
		report.Details = "Strategy signal HOLD"
		l.finishReport(report)
		return
	}

	if decision.Decision != schema.DecisionApproved {
		report.Details = "Consensus did not approve trade"
		l.finishReport(report)
		return
	}

	side := schema.SideSell
	if sig.Action == schema.ActionBuy {
		side = schema.SideBuy
	}
	intent := risk.Intent{
		PodID:         podID,
		Symbol:        sig.Symbol,
		Side:          side,
		Quantity:      p.Config.Risk.MaxNotionalPerTrade,
		StopLossPrice: snap.Price * StopLossRatio,
		ClientOrderID: utils.NewClientOrderID(p.Config.OrderTagPrefix, utils.TagTrade),
		Timestamp:     time.Now(),
	}

	p.Lock()
	defer p.Unlock()

	if res := risk.OrderPermission(p.Config.Risk, intent, p.OpenPositionCount()); !res.Allowed {
		pm.RecordGateDenial(podID, "order_permission")
		report.Details = "Order permission gate blocked: " + res.Reason
		l.finishReport(report)
		return
	}
	approved, res := risk.Admit(intent)
	if !res.Allowed {
		pm.RecordGateDenial(podID, "admission")
		report.Details = "Execution admission gate blocked: " + res.Reason
		l.finishReport(report)
		return
	}
	l.emit(intent.Event())

	result, err := l.engine.Execute(ctx, approved)
	if err != nil {
		l.onExecutionError(p, err)
		report.Details = "Execution failed: " + err.Error()
		l.finishReport(report)
		return
	}
	l.apply(p, result)

	p.CurrentCapital -= intent.Quantity
	pm.SetPodCapital(podID, p.CurrentCapital)
	if p.Config.DisableOnDepletion && p.CurrentCapital <= 0 {
		if p.Mode.Upgrade(schema.ModeDisabled) {
			logger.Error("🛑 [%s] 资金耗尽 (%.4f)，pod 已禁用", podID, p.CurrentCapital)
		}
	}

	report.OrderLifecycle = &result.OrderEvent
	report.Details = "Executed trade"
	l.finishReport(report)
}

// flatten 非 NORMAL 模式下只减仓平掉第一个非零持仓，每个周期最多一笔。
// 没有持仓时返回 false，由交易前检查给出拒绝报告。
func (l *Loop) flatten(ctx context.Context, cycle int64, p *pod.Runtime) bool {
	p.Lock()
	defer p.Unlock()

	open := p.Positions.OpenPositions()
	if len(open) == 0 {
		return false
	}
	pos := open[0]
	side := schema.SideSell
	if pos.Quantity < 0 {
		side = schema.SideBuy
	}
	intent := risk.Intent{
		PodID:         p.ID(),
		Symbol:        pos.Symbol,
		Side:          side,
		Quantity:      math.Abs(pos.Quantity),
		ReduceOnly:    true,
		ClientOrderID: utils.NewClientOrderID(p.Config.OrderTagPrefix, utils.TagSafe),
		Timestamp:     time.Now(),
	}
	approved, res := risk.Admit(intent)
	if !res.Allowed {
		return true
	}
	l.emit(intent.Event())
	logger.Warn("⚠️ [%s] 模式非 NORMAL，只减仓平仓 %s %s %.6f", p.ID(), pos.Symbol, side, intent.Quantity)

	report := schema.TradeReport{PodID: p.ID(), Cycle: cycle}
	result, err := l.engine.Execute(ctx, approved)
	if err != nil {
		l.onExecutionError(p, err)
		report.Details = "Reduce-only close failed: " + err.Error()
		l.finishReport(report)
		return true
	}
	l.apply(p, result)
	report.OrderLifecycle = &result.OrderEvent
	report.Details = "Reduce-only due to SAFE/CRASH mode"
	l.finishReport(report)
	return true
}

// apply 落账执行结果，调用方持有 pod 锁
func (l *Loop) apply(p *pod.Runtime, result execution.Result) {
	p.Orders.Apply(result.OrderEvent)
	l.emit(result.OrderEvent)
	if result.FillEvent == nil {
		return
	}
	rec := p.Positions.Apply(*result.FillEvent)
	l.emit(*result.FillEvent)
	l.emit(schema.PositionEvent{
		PodID:        rec.PodID,
		Symbol:       rec.Symbol,
		Quantity:     rec.Quantity,
		AveragePrice: rec.AveragePrice,
		Timestamp:    rec.LastUpdate,
	})
	metrics.GetPrometheusMetrics().SetPosition(rec.PodID, rec.Symbol, rec.Quantity)
}

// onExecutionError 执行失败计入 pod 的 API 错误预算并按阈值升级 pod 模式，调用方持有 pod 锁
func (l *Loop) onExecutionError(p *pod.Runtime, err error) {
	p.Budget.APIErrors++
	count := p.Budget.APIErrors
	metrics.GetPrometheusMetrics().SetErrorBudget(p.ID(), "api_errors", count)

	if target := l.manager.Thresholds().Escalation(count); target != schema.ModeNormal {
		p.Mode.Upgrade(target)
	}
	logger.Error("❌ [%s] 下单失败（API 错误计数 %d，模式 %s）: %v", p.ID(), count, p.Mode.Current(), err)
	l.emit(schema.NewRiskEvent(p.ID(), schema.SeverityWarn, "Execution error: "+err.Error()))
}

func (l *Loop) finishReport(r schema.TradeReport) {
	r.Timestamp = time.Now()
	l.emit(r)
}

func (l *Loop) emit(e schema.Event) {
	if l.sink != nil {
		l.sink.Emit(e)
	}
}
