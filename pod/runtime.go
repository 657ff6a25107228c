// Package pod 管理每个 pod 的运行时状态：三个状态机、错误预算、资金与学习暂停标记。
package pod

import (
	"sync"

	"podmesh/config"
	"podmesh/fsm"
	"podmesh/schema"
	"podmesh/state"
)

// ErrorBudget 错误预算计数
type ErrorBudget = state.ErrorBudget

// Runtime 单个 pod 的运行时状态。
// 交易循环与对账循环都会读写同一个 pod，访问 Orders / Positions / Budget /
// CurrentCapital / LearningPaused 前必须持有 Lock；Mode 自带锁。
type Runtime struct {
	mu sync.Mutex

	Config         config.PodConfig
	Mode           *fsm.ModeMachine
	Orders         *fsm.OrderMachine
	Positions      *fsm.PositionMachine
	Budget         ErrorBudget
	CurrentCapital float64
	LearningPaused bool
}

// NewRuntime 按配置创建 pod，cp 不为空时从快照恢复
func NewRuntime(cfg config.PodConfig, cp *state.PodCheckpoint, observer fsm.ModeObserver) *Runtime {
	r := &Runtime{
		Config:         cfg,
		Mode:           fsm.NewModeMachine(cfg.ID, schema.ModeNormal, observer),
		Orders:         fsm.NewOrderMachine(),
		Positions:      fsm.NewPositionMachine(),
		CurrentCapital: cfg.CapitalPool,
	}
	if cp != nil {
		r.Mode = fsm.NewModeMachine(cfg.ID, cp.Mode, observer)
		r.Orders.Hydrate(fsm.OrderSnapshot{Orders: cp.Orders, Seen: cp.Seen})
		r.Positions.Hydrate(cp.Positions)
		r.Budget = cp.ErrorBudget
		if cp.CurrentCapital != nil {
			r.CurrentCapital = *cp.CurrentCapital
		}
		r.LearningPaused = cp.LearningPaused
	}
	return r
}

// ID pod 标识
func (r *Runtime) ID() string {
	return r.Config.ID
}

// Lock 获取 pod 锁
func (r *Runtime) Lock() {
	r.mu.Lock()
}

// Unlock 释放 pod 锁
func (r *Runtime) Unlock() {
	r.mu.Unlock()
}

// OpenPositionCount 非零持仓数量，调用方持有锁
func (r *Runtime) OpenPositionCount() int {
	return len(r.Positions.OpenPositions())
}

// Checkpoint 生成快照，调用方持有锁
func (r *Runtime) Checkpoint() state.PodCheckpoint {
	orders := r.Orders.Snapshot()
	capital := r.CurrentCapital
	return state.PodCheckpoint{
		PodID:          r.Config.ID,
		Mode:           r.Mode.Current(),
		Orders:         orders.Orders,
		Seen:           orders.Seen,
		Positions:      r.Positions.Snapshot(),
		ErrorBudget:    r.Budget,
		CurrentCapital: &capital,
		LearningPaused: r.LearningPaused,
	}
}

// Status 心跳用的状态摘要，调用方持有锁
func (r *Runtime) Status() schema.PodStatus {
	return schema.PodStatus{
		ID:                     r.Config.ID,
		Mode:                   r.Mode.Current(),
		APIErrors:              r.Budget.APIErrors,
		ReconciliationFailures: r.Budget.ReconciliationFailures,
		CurrentCapital:         r.CurrentCapital,
		OpenPositions:          r.OpenPositionCount(),
		LearningPaused:         r.LearningPaused,
	}
}
