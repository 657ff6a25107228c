package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 订单指标
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_order_total",
			Help: "Total number of order lifecycle results applied",
		},
		[]string{"pod", "symbol", "side", "status"},
	)

	fillVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_fill_volume_total",
			Help: "Total filled quantity",
		},
		[]string{"pod", "symbol", "side"},
	)

	// 风控闸门
	gateDenialTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_gate_denial_total",
			Help: "Total number of risk gate denials",
		},
		[]string{"pod", "gate"},
	)

	consensusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_consensus_total",
			Help: "Consensus decisions by outcome",
		},
		[]string{"pod", "decision"},
	)

	// 模式与错误预算
	modeRank = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podmesh_mode",
			Help: "Operating mode rank (0=NORMAL, 1=SAFE, 2=CRASH, 3=DISABLED); scope is 'global' or the pod id",
		},
		[]string{"scope"},
	)

	modeChangeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_mode_change_total",
			Help: "Total number of accepted mode transitions",
		},
		[]string{"scope", "to"},
	)

	errorBudget = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podmesh_error_budget",
			Help: "Error budget counters per pod",
		},
		[]string{"pod", "kind"},
	)

	podCapital = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podmesh_pod_capital",
			Help: "Current capital per pod",
		},
		[]string{"pod"},
	)

	positionQuantity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podmesh_position_quantity",
			Help: "Signed internal position quantity",
		},
		[]string{"pod", "symbol"},
	)

	// 交易所调用
	apiCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_exchange_call_total",
			Help: "Exchange calls by operation and result category",
		},
		[]string{"op", "result"},
	)

	apiCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podmesh_exchange_call_duration_seconds",
			Help:    "Exchange call duration including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)

	apiRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_exchange_retry_total",
			Help: "Exchange call retries by category",
		},
		[]string{"op", "category"},
	)

	apiRateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "podmesh_exchange_rate_limit_hits_total",
			Help: "Total number of rate-limit responses",
		},
	)

	// 对账
	reconciliationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_reconciliation_total",
			Help: "Reconciliation passes by result",
		},
		[]string{"result"},
	)

	reconciliationDiff = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_reconciliation_diff_found_total",
			Help: "Orphans found by reconciliation",
		},
		[]string{"type"},
	)

	// 循环
	cycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podmesh_loop_cycle_duration_seconds",
			Help:    "Duration of one loop iteration",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"loop"},
	)

	loopFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_loop_failure_total",
			Help: "Unexpected loop failures recovered at the loop boundary",
		},
		[]string{"loop"},
	)

	// 行情
	marketPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podmesh_market_price",
			Help: "Last snapshot price",
		},
		[]string{"symbol"},
	)

	marketVolatility = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podmesh_market_volatility",
			Help: "Normalised volatility in [0,1]",
		},
		[]string{"symbol"},
	)

	marketQualityDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "podmesh_market_quality_degraded",
			Help: "1 when the last snapshot quality was not GOOD",
		},
		[]string{"symbol"},
	)

	// 事件
	eventTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_event_total",
			Help: "Events emitted by kind",
		},
		[]string{"kind"},
	)

	// 分布式锁
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podmesh_lock_acquire_total",
			Help: "Distributed lock acquisitions by status",
		},
		[]string{"key", "status"},
	)

	lockHoldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podmesh_lock_hold_duration_seconds",
			Help:    "Distributed lock hold duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"key"},
	)

	// 系统
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "podmesh_goroutines",
			Help: "Number of goroutines",
		},
	)

	memoryAlloc = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "podmesh_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	gcPause = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "podmesh_gc_pause_seconds",
			Help:    "Most recent GC pause",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct{}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// RecordOrder 记录订单生命周期结果
func (pm *PrometheusMetrics) RecordOrder(pod, symbol, side, status string) {
	orderTotal.WithLabelValues(pod, symbol, side, status).Inc()
}

// RecordFill 记录成交数量
func (pm *PrometheusMetrics) RecordFill(pod, symbol, side string, qty float64) {
	fillVolume.WithLabelValues(pod, symbol, side).Add(qty)
}

// RecordGateDenial 记录闸门拒绝
func (pm *PrometheusMetrics) RecordGateDenial(pod, gate string) {
	gateDenialTotal.WithLabelValues(pod, gate).Inc()
}

// RecordConsensus 记录共识结果
func (pm *PrometheusMetrics) RecordConsensus(pod, decision string) {
	consensusTotal.WithLabelValues(pod, decision).Inc()
}

// SetMode 设置模式等级，scope 为 global 或 pod id
func (pm *PrometheusMetrics) SetMode(scope string, rank int) {
	modeRank.WithLabelValues(scope).Set(float64(rank))
}

// RecordModeChange 记录模式切换
func (pm *PrometheusMetrics) RecordModeChange(scope, to string) {
	modeChangeTotal.WithLabelValues(scope, to).Inc()
}

// SetErrorBudget 设置错误预算，kind 为 api_errors 或 reconciliation_failures
func (pm *PrometheusMetrics) SetErrorBudget(pod, kind string, value int) {
	errorBudget.WithLabelValues(pod, kind).Set(float64(value))
}

// SetPodCapital 设置 pod 当前资金
func (pm *PrometheusMetrics) SetPodCapital(pod string, capital float64) {
	podCapital.WithLabelValues(pod).Set(capital)
}

// SetPosition 设置内部持仓数量
func (pm *PrometheusMetrics) SetPosition(pod, symbol string, qty float64) {
	positionQuantity.WithLabelValues(pod, symbol).Set(qty)
}

// RecordAPICall 记录一次交易所调用（含重试）的结果与耗时
func (pm *PrometheusMetrics) RecordAPICall(op, result string, duration time.Duration) {
	apiCallTotal.WithLabelValues(op, result).Inc()
	apiCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordAPIRetry 记录一次重试
func (pm *PrometheusMetrics) RecordAPIRetry(op, category string) {
	apiRetryTotal.WithLabelValues(op, category).Inc()
}

// RecordAPIRateLimitHit 记录限流响应
func (pm *PrometheusMetrics) RecordAPIRateLimitHit() {
	apiRateLimitHits.Inc()
}

// RecordReconciliation 记录对账结果
func (pm *PrometheusMetrics) RecordReconciliation(result string) {
	reconciliationTotal.WithLabelValues(result).Inc()
}

// RecordReconciliationDiff 记录对账发现的差异，diffType 为 orphan_order 或 orphan_position
func (pm *PrometheusMetrics) RecordReconciliationDiff(diffType string) {
	reconciliationDiff.WithLabelValues(diffType).Inc()
}

// RecordCycle 记录循环耗时
func (pm *PrometheusMetrics) RecordCycle(loop string, duration time.Duration) {
	cycleDuration.WithLabelValues(loop).Observe(duration.Seconds())
}

// RecordLoopFailure 记录循环边界捕获的异常
func (pm *PrometheusMetrics) RecordLoopFailure(loop string) {
	loopFailureTotal.WithLabelValues(loop).Inc()
}

// SetMarket 设置行情指标
func (pm *PrometheusMetrics) SetMarket(symbol string, price, volatility float64, degraded bool) {
	marketPrice.WithLabelValues(symbol).Set(price)
	marketVolatility.WithLabelValues(symbol).Set(volatility)
	v := 0.0
	if degraded {
		v = 1
	}
	marketQualityDegraded.WithLabelValues(symbol).Set(v)
}

// RecordEvent 记录事件
func (pm *PrometheusMetrics) RecordEvent(kind string) {
	eventTotal.WithLabelValues(kind).Inc()
}

// RecordLockAcquire 记录锁获取，status 为 success / conflict / error
func (pm *PrometheusMetrics) RecordLockAcquire(key, status string) {
	lockAcquireTotal.WithLabelValues(key, status).Inc()
}

// RecordLockHoldDuration 记录锁持有时间
func (pm *PrometheusMetrics) RecordLockHoldDuration(key string, duration time.Duration) {
	lockHoldDuration.WithLabelValues(key).Observe(duration.Seconds())
}

// SetGoroutineCount 设置 goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置堆内存
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAlloc.Set(float64(bytes))
}

// RecordGCPause 记录 GC 停顿
func (pm *PrometheusMetrics) RecordGCPause(duration time.Duration) {
	gcPause.Observe(duration.Seconds())
}

var globalPrometheusMetrics *PrometheusMetrics

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = NewPrometheusMetrics()
	})
	return globalPrometheusMetrics
}
