package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"podmesh/config"
	"podmesh/schema"
)

func TestPreTradeTruthTable(t *testing.T) {
	modes := []schema.Mode{schema.ModeNormal, schema.ModeSafe, schema.ModeCrash, schema.ModeDisabled}
	qualities := []schema.DataQuality{schema.DataQualityGood, schema.DataQualityDelayed, schema.DataQualityGapped}

	for _, g := range modes {
		for _, p := range modes {
			for _, q := range qualities {
				res := PreTrade(g, p, q)
				want := g == schema.ModeNormal && p == schema.ModeNormal && q == schema.DataQualityGood
				assert.Equalf(t, want, res.Allowed, "global=%s pod=%s quality=%s", g, p, q)
				if !res.Allowed {
					assert.NotEmpty(t, res.Reason)
				}
			}
		}
	}
}

func coreLimits() config.RiskLimits {
	return config.RiskLimits{
		Leverage:            1,
		MaxOpenPositions:    3,
		MaxNotionalPerTrade: 100,
		RequireStopLoss:     true,
		AllowScaleIn:        false,
	}
}

func TestOrderPermissionReduceOnlyBypass(t *testing.T) {
	limits := coreLimits()
	limits.Leverage = 1000
	intent := Intent{Side: schema.SideSell, Quantity: 5, ReduceOnly: true}

	for _, open := range []int{0, 1, 3, 50} {
		res := OrderPermission(limits, intent, open)
		assert.Truef(t, res.Allowed, "open=%d reason=%s", open, res.Reason)
	}
}

func TestOrderPermissionChecks(t *testing.T) {
	base := Intent{Side: schema.SideBuy, Quantity: 100, StopLossPrice: 98}

	tests := []struct {
		name    string
		limits  func(l *config.RiskLimits)
		intent  func(i *Intent)
		open    int
		allowed bool
	}{
		{name: "正常放行", allowed: true},
		{name: "持仓数达上限", open: 3},
		{name: "缺少止损", intent: func(i *Intent) { i.StopLossPrice = 0 }},
		{name: "不要求止损时放行", limits: func(l *config.RiskLimits) { l.RequireStopLoss = false }, intent: func(i *Intent) { i.StopLossPrice = 0 }, allowed: true},
		{name: "不允许加仓", open: 1},
		{name: "允许加仓", open: 1, limits: func(l *config.RiskLimits) { l.AllowScaleIn = true }, allowed: true},
		{name: "名义价值超限", limits: func(l *config.RiskLimits) { l.Leverage = 2 }},
		{name: "恰好等于上限", intent: func(i *Intent) { i.Quantity = 100 }, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := coreLimits()
			if tt.limits != nil {
				tt.limits(&limits)
			}
			intent := base
			if tt.intent != nil {
				tt.intent(&intent)
			}
			res := OrderPermission(limits, intent, tt.open)
			assert.Equal(t, tt.allowed, res.Allowed, res.Reason)
		})
	}
}

func TestAdmit(t *testing.T) {
	_, res := Admit(Intent{Quantity: 0})
	assert.False(t, res.Allowed)
	_, res = Admit(Intent{Quantity: -1})
	assert.False(t, res.Allowed)

	approved, res := Admit(Intent{PodID: "core", Quantity: 1, ClientOrderID: "CORE-1"})
	assert.True(t, res.Allowed)
	assert.Equal(t, "CORE-1", approved.Intent().ClientOrderID)
}
