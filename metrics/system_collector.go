package metrics

import (
	"context"
	"runtime"
	"time"
)

// SystemMetricsCollector 系统指标采集器
type SystemMetricsCollector struct {
	pm        *PrometheusMetrics
	interval  time.Duration
	lastNumGC uint32
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
	}
}

// Start 启动采集，ctx 取消后退出
func (smc *SystemMetricsCollector) Start(ctx context.Context) {
	go smc.collectLoop(ctx)
}

func (smc *SystemMetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	// 立即采集一次
	smc.collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

// collect 采集系统指标
func (smc *SystemMetricsCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Goroutine 数量
	smc.pm.SetGoroutineCount(runtime.NumGoroutine())

	smc.pm.SetMemoryAlloc(m.Alloc)

	// 只在出现新的 GC 时记录最近一次停顿，PauseNs 是长度 256 的环形缓冲
	if m.NumGC > smc.lastNumGC {
		smc.lastNumGC = m.NumGC
		if pauseNs := m.PauseNs[(m.NumGC+255)%256]; pauseNs > 0 {
			smc.pm.RecordGCPause(time.Duration(pauseNs))
		}
	}
}
