// Package state 定义状态快照的结构，以及读写快照的 Store。
package state

import (
	"context"
	"errors"
	"time"

	"podmesh/fsm"
	"podmesh/schema"
)

// ErrNoCheckpoint 尚无任何快照（首次启动）
var ErrNoCheckpoint = errors.New("没有可用的状态快照")

// ErrorBudget pod 的错误预算
type ErrorBudget struct {
	APIErrors              int `json:"apiErrors"`
	ReconciliationFailures int `json:"reconciliationFailures"`
}

// PodCheckpoint 单个 pod 的快照
type PodCheckpoint struct {
	PodID          string               `json:"podId"`
	Mode           schema.Mode          `json:"mode"`
	Orders         []fsm.OrderRecord    `json:"orders"`
	Seen           []string             `json:"seen"`
	Positions      []fsm.PositionRecord `json:"positions"`
	ErrorBudget    ErrorBudget          `json:"errorBudget"`
	CurrentCapital *float64             `json:"currentCapital,omitempty"` // 旧快照没有该字段时按资金池恢复
	LearningPaused bool                 `json:"learningPaused"`
}

// Checkpoint 全局快照
type Checkpoint struct {
	GlobalMode schema.Mode     `json:"globalMode"`
	Pods       []PodCheckpoint `json:"pods"`
	LastCycle  int64           `json:"lastCycle"`
	SavedAt    time.Time       `json:"savedAt"`
}

// Pod 按 id 查找 pod 快照
func (c *Checkpoint) Pod(id string) (PodCheckpoint, bool) {
	if c == nil {
		return PodCheckpoint{}, false
	}
	for _, p := range c.Pods {
		if p.PodID == id {
			return p, true
		}
	}
	return PodCheckpoint{}, false
}

// Store 快照读写。启动时 Load 一次，之后按间隔 Save。
type Store interface {
	// Load 读取最新快照，没有时返回 ErrNoCheckpoint
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
}
