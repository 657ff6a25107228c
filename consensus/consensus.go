// Package consensus 把策略信号与 AI 建议合成为一个可否决的加权决策
package consensus

import (
	"fmt"
	"time"

	"podmesh/schema"
)

// 投票权重与通过线
const (
	SignalWeight   = 0.6
	AdvisoryWeight = 0.4
	ApproveAbove   = 0.6
)

// Decide 加权投票：AI 建议 REJECT 时一票否决，否则加权分严格大于 0.6 才通过
func Decide(podID string, signal schema.SignalEvent, advisory schema.AdvisoryEvent) schema.ConsensusEvent {
	vote := signal.Confidence*SignalWeight + advisory.Confidence*AdvisoryWeight
	vetoed := advisory.Suggestion == schema.SuggestionReject

	decision := schema.DecisionAbstain
	switch {
	case vetoed:
		decision = schema.DecisionRejected
	case vote > ApproveAbove:
		decision = schema.DecisionApproved
	}

	return schema.ConsensusEvent{
		PodID:      podID,
		Decision:   decision,
		Vetoed:     vetoed,
		VoteWeight: vote,
		Rationale:  fmt.Sprintf("voteWeight=%.2f", vote),
		Timestamp:  time.Now(),
	}
}
