// Package monitor 周期性心跳：全局模式、每个 pod 的模式与错误预算，以及进程资源占用。
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"podmesh/config"
	"podmesh/event"
	"podmesh/logger"
	"podmesh/pod"
	"podmesh/schema"
)

// Heartbeat 心跳任务
type Heartbeat struct {
	manager   *pod.Manager
	sink      event.Sink
	collector *Collector // 可为空，为空时不采集资源指标
	interval  time.Duration

	mu     sync.RWMutex
	latest *schema.HeartbeatEvent
}

// NewHeartbeat 创建心跳任务
func NewHeartbeat(cfg *config.Config, manager *pod.Manager, sink event.Sink) *Heartbeat {
	interval := config.Interval(cfg.Trading.HeartbeatInterval)
	if interval <= 0 {
		interval = 15 * time.Second
	}
	collector, err := NewCollector()
	if err != nil {
		logger.Warn("⚠️ 进程资源采集不可用: %v", err)
		collector = nil
	}
	return &Heartbeat{
		manager:   manager,
		sink:      sink,
		collector: collector,
		interval:  interval,
	}
}

// Start 启动心跳协程，启动时立即发送一次
func (h *Heartbeat) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Beat()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Beat()
			}
		}
	}()
	return done
}

// Beat 生成并发送一次心跳
func (h *Heartbeat) Beat() schema.HeartbeatEvent {
	hb := schema.HeartbeatEvent{
		GlobalMode: h.manager.Global.Current(),
		Cycle:      h.manager.Cycle(),
		Pods:       h.manager.Statuses(),
		Timestamp:  time.Now(),
	}
	if h.collector != nil {
		if m, err := h.collector.Collect(); err != nil {
			logger.Debug("采集进程资源失败: %v", err)
		} else {
			hb.MemoryRSS = m.MemoryRSS
			hb.CPUPercent = m.CPUPercent
			hb.Goroutines = m.Goroutines
		}
	}

	h.mu.Lock()
	h.latest = &hb
	h.mu.Unlock()

	logger.Info("💓 [心跳] 全局=%s 周期=%d %s", hb.GlobalMode, hb.Cycle, formatPods(hb.Pods))
	if h.sink != nil {
		h.sink.Emit(hb)
	}
	return hb
}

// Latest 最近一次心跳，尚未发送过时返回 false
func (h *Heartbeat) Latest() (schema.HeartbeatEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return schema.HeartbeatEvent{}, false
	}
	return *h.latest, true
}

func formatPods(pods []schema.PodStatus) string {
	var b strings.Builder
	for i, p := range pods {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", p.ID, p.Mode)
		if p.APIErrors > 0 || p.ReconciliationFailures > 0 {
			fmt.Fprintf(&b, "(api=%d,rec=%d)", p.APIErrors, p.ReconciliationFailures)
		}
	}
	return b.String()
}
