// Package fsm 包含模式、订单、持仓三个状态机
package fsm

import (
	"sync"
	"time"

	"podmesh/schema"
)

// ModeChange 一次被接受的模式切换
type ModeChange struct {
	PodID string // 为空表示全局模式机
	From  schema.Mode
	To    schema.Mode
	At    time.Time
}

// ModeObserver 模式切换回调
type ModeObserver func(ModeChange)

// ModeMachine 模式状态机：只能升级，Reset 是唯一的降级操作
type ModeMachine struct {
	mu       sync.RWMutex
	podID    string
	mode     schema.Mode
	observer ModeObserver
}

// NewModeMachine 创建模式状态机，无效的初始模式按 NORMAL 处理
func NewModeMachine(podID string, initial schema.Mode, observer ModeObserver) *ModeMachine {
	if !initial.Valid() {
		initial = schema.ModeNormal
	}
	return &ModeMachine{podID: podID, mode: initial, observer: observer}
}

// PodID 所属 pod，全局模式机为空
func (m *ModeMachine) PodID() string {
	return m.podID
}

// SetObserver 设置模式切换回调
func (m *ModeMachine) SetObserver(observer ModeObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

// Current 当前模式
func (m *ModeMachine) Current() schema.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Upgrade 升级到更严重的模式。目标不高于当前模式时不做任何事并返回 false。
func (m *ModeMachine) Upgrade(target schema.Mode) bool {
	m.mu.Lock()
	current := m.mode
	if !target.Valid() || target.Rank() <= current.Rank() {
		m.mu.Unlock()
		return false
	}
	m.mode = target
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(ModeChange{PodID: m.podID, From: current, To: target, At: time.Now()})
	}
	return true
}

// Reset 无条件回到 NORMAL（人工恢复用）
func (m *ModeMachine) Reset() {
	m.mu.Lock()
	current := m.mode
	m.mode = schema.ModeNormal
	observer := m.observer
	m.mu.Unlock()

	if current != schema.ModeNormal && observer != nil {
		observer(ModeChange{PodID: m.podID, From: current, To: schema.ModeNormal, At: time.Now()})
	}
}
