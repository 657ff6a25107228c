// Package strategy 可插拔的策略信号函数及其注册表
package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"podmesh/market"
	"podmesh/schema"
)

// Func 策略函数：输入 pod 与行情快照，输出方向信号与置信度
type Func func(podID string, snap market.Snapshot) schema.SignalEvent

// 内置策略标识
const (
	CoreTrendID    = "CORE_TREND"
	SpecMomentumID = "SPEC_MOMENTUM"
)

// Registry 策略注册表（按策略标识查找）
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Func
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Func)}
}

// DefaultRegistry 注册了内置策略的注册表
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CoreTrendID, CoreTrend(DefaultCoreTrendParams()))
	r.Register(SpecMomentumID, SpecMomentum(DefaultSpecMomentumParams()))
	return r
}

// Register 注册策略，同名覆盖
func (r *Registry) Register(id string, fn Func) {
	r.mu.Lock()
	r.strategies[id] = fn
	r.mu.Unlock()
}

// Get 查找策略
func (r *Registry) Get(id string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("未注册的策略: %s", id)
	}
	return fn, nil
}

// IDs 已注册的策略标识（排序）
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func signal(podID string, snap market.Snapshot, action schema.Action, confidence float64) schema.SignalEvent {
	return schema.SignalEvent{
		PodID:      podID,
		Symbol:     snap.Symbol,
		Action:     action,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}
}
