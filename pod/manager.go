package pod

import (
	"sync"
	"sync/atomic"
	"time"

	"podmesh/config"
	"podmesh/fsm"
	"podmesh/logger"
	"podmesh/schema"
	"podmesh/state"
)

// Thresholds 错误预算阈值（支持热更新）
type Thresholds struct {
	mu    sync.RWMutex
	safe  int
	crash int
}

// NewThresholds 创建阈值
func NewThresholds(safe, crash int) *Thresholds {
	return &Thresholds{safe: safe, crash: crash}
}

// Get 返回 SAFE / CRASH 阈值
func (t *Thresholds) Get() (safe, crash int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.safe, t.crash
}

// Set 更新阈值
func (t *Thresholds) Set(safe, crash int) {
	t.mu.Lock()
	t.safe, t.crash = safe, crash
	t.mu.Unlock()
}

// Escalation 计数达到阈值时应升级到的模式，未达到返回 NORMAL
func (t *Thresholds) Escalation(count int) schema.Mode {
	safe, crash := t.Get()
	switch {
	case count >= crash:
		return schema.ModeCrash
	case count >= safe:
		return schema.ModeSafe
	}
	return schema.ModeNormal
}

// Manager 持有全局模式机与按配置顺序排列的所有 pod
type Manager struct {
	Global *fsm.ModeMachine

	pods       []*Runtime
	thresholds *Thresholds
	cycle      atomic.Int64
}

// NewManager 按配置创建所有 pod，cp 不为空时从快照恢复。
// 快照中存在但配置中已删除的 pod 会被忽略。
func NewManager(cfg *config.Config, cp *state.Checkpoint, observer fsm.ModeObserver) *Manager {
	m := &Manager{
		Global:     fsm.NewModeMachine("", schema.ModeNormal, observer),
		thresholds: NewThresholds(cfg.Risk.SafeThreshold, cfg.Risk.CrashThreshold),
	}
	if cp != nil {
		m.Global = fsm.NewModeMachine("", cp.GlobalMode, observer)
		m.cycle.Store(cp.LastCycle)
	}
	for _, pc := range cfg.Pods {
		var podCP *state.PodCheckpoint
		if p, ok := cp.Pod(pc.ID); ok {
			podCP = &p
		}
		r := NewRuntime(pc, podCP, observer)
		m.pods = append(m.pods, r)
		logger.Info("📦 pod %s (%s) 模式=%s 资金=%.2f/%.2f 策略=%s",
			pc.ID, pc.Name, r.Mode.Current(), r.CurrentCapital, pc.CapitalPool, pc.StrategyID)
	}
	return m
}

// Pods 按配置顺序返回所有 pod
func (m *Manager) Pods() []*Runtime {
	return m.pods
}

// Pod 按 id 查找
func (m *Manager) Pod(id string) (*Runtime, bool) {
	for _, p := range m.pods {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// Thresholds 错误预算阈值
func (m *Manager) Thresholds() *Thresholds {
	return m.thresholds
}

// Cycle 最近一次交易周期编号
func (m *Manager) Cycle() int64 {
	return m.cycle.Load()
}

// NextCycle 开始新周期并返回其编号
func (m *Manager) NextCycle() int64 {
	return m.cycle.Add(1)
}

// PauseLearning 暂停所有 pod 的学习（不会自动恢复）
func (m *Manager) PauseLearning() {
	for _, p := range m.pods {
		p.Lock()
		p.LearningPaused = true
		p.Unlock()
	}
}

// LearningPaused 查询 pod 的学习暂停标记
func (m *Manager) LearningPaused(podID string) bool {
	p, ok := m.Pod(podID)
	if !ok {
		return false
	}
	p.Lock()
	defer p.Unlock()
	return p.LearningPaused
}

// Snapshot 生成全局快照，逐个持有 pod 锁
func (m *Manager) Snapshot() *state.Checkpoint {
	cp := &state.Checkpoint{
		GlobalMode: m.Global.Current(),
		LastCycle:  m.cycle.Load(),
		SavedAt:    time.Now(),
	}
	for _, p := range m.pods {
		p.Lock()
		cp.Pods = append(cp.Pods, p.Checkpoint())
		p.Unlock()
	}
	return cp
}

// Statuses 所有 pod 的状态摘要
func (m *Manager) Statuses() []schema.PodStatus {
	out := make([]schema.PodStatus, 0, len(m.pods))
	for _, p := range m.pods {
		p.Lock()
		out = append(out, p.Status())
		p.Unlock()
	}
	return out
}
