// Package advisory AI 顾问：按 pod 的权重配置给出 APPROVE / REJECT / ABSTAIN 建议
package advisory

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"podmesh/config"
	"podmesh/schema"
)

// Func 顾问函数
type Func func(podID string, profile config.AIProfile) schema.AdvisoryEvent

// LearningPausedFunc 查询 pod 的学习暂停标记
type LearningPausedFunc func(podID string) bool

// Orchestrator 默认顾问实现：随机建议，置信度取 regimeWeight + riskWeight。
// pod 学习暂停时在备注中标注，建议本身不受影响。
type Orchestrator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	paused LearningPausedFunc
}

// NewOrchestrator 创建顾问，seed 为 0 时使用当前时间
func NewOrchestrator(seed int64, paused LearningPausedFunc) *Orchestrator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Orchestrator{rng: rand.New(rand.NewSource(seed)), paused: paused}
}

// Advise 实现 Func
func (o *Orchestrator) Advise(podID string, profile config.AIProfile) schema.AdvisoryEvent {
	o.mu.Lock()
	first, second := o.rng.Float64(), o.rng.Float64()
	o.mu.Unlock()

	suggestion := schema.SuggestionAbstain
	switch {
	case first > 0.6:
		suggestion = schema.SuggestionApprove
	case second > 0.5:
		suggestion = schema.SuggestionReject
	}

	notes := "stubbed-ai"
	if o.paused != nil && o.paused(podID) {
		notes += ";learning-paused"
	}
	return schema.AdvisoryEvent{
		PodID:      podID,
		Suggestion: suggestion,
		Confidence: math.Round((profile.RegimeWeight+profile.RiskWeight)*100) / 100,
		Notes:      notes,
		Timestamp:  time.Now(),
	}
}

// Fixed 固定建议，测试和人工干预使用
func Fixed(suggestion schema.Suggestion, confidence float64) Func {
	return func(podID string, _ config.AIProfile) schema.AdvisoryEvent {
		return schema.AdvisoryEvent{
			PodID:      podID,
			Suggestion: suggestion,
			Confidence: confidence,
			Timestamp:  time.Now(),
		}
	}
}
