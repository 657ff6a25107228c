package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"podmesh/schema"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		signal     float64
		suggestion schema.Suggestion
		advisory   float64
		want       schema.Decision
		vetoed     bool
	}{
		{"高分通过", 0.7, schema.SuggestionApprove, 0.5, schema.DecisionApproved, false},
		{"否决优先于高分", 1, schema.SuggestionReject, 1, schema.DecisionRejected, true},
		{"恰好 0.6 不通过", 0.6, schema.SuggestionApprove, 0.6, schema.DecisionAbstain, false},
		{"弃权建议仍可通过", 0.9, schema.SuggestionAbstain, 0.5, schema.DecisionApproved, false},
		{"低分弃权", 0.55, schema.SuggestionApprove, 0.5, schema.DecisionAbstain, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide("core",
				schema.SignalEvent{Confidence: tt.signal},
				schema.AdvisoryEvent{Suggestion: tt.suggestion, Confidence: tt.advisory})
			assert.Equal(t, tt.want, got.Decision)
			assert.Equal(t, tt.vetoed, got.Vetoed)
			assert.InDelta(t, tt.signal*0.6+tt.advisory*0.4, got.VoteWeight, 1e-12)
			assert.Equal(t, "core", got.PodID)
		})
	}
}
