package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/market"
	"podmesh/schema"
)

func series(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestCoreTrend(t *testing.T) {
	fn := CoreTrend(DefaultCoreTrendParams())

	up := fn("core", market.Snapshot{Symbol: "BTC-USDT-SWAP", History: series(100, 1, 30)})
	assert.Equal(t, schema.ActionBuy, up.Action)
	assert.Equal(t, "core", up.PodID)
	assert.Greater(t, up.Confidence, 0.55)
	assert.LessOrEqual(t, up.Confidence, 0.9)

	down := fn("core", market.Snapshot{History: series(200, -1, 30)})
	assert.Equal(t, schema.ActionSell, down.Action)

	short := fn("core", market.Snapshot{History: series(100, 1, 5)})
	assert.Equal(t, schema.ActionHold, short.Action)
	assert.Zero(t, short.Confidence)
}

func TestSpecMomentum(t *testing.T) {
	fn := SpecMomentum(DefaultSpecMomentumParams())

	up := fn("spec", market.Snapshot{History: series(100, 1, 11)})
	assert.Equal(t, schema.ActionBuy, up.Action)
	assert.InDelta(t, 0.95, up.Confidence, 1e-9) // ROC 10% 截断

	flat := fn("spec", market.Snapshot{History: series(100, 0, 11)})
	assert.Equal(t, schema.ActionHold, flat.Action)

	down := fn("spec", market.Snapshot{History: []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 99.9}})
	assert.Equal(t, schema.ActionSell, down.Action)
	assert.InDelta(t, 0.71, down.Confidence, 1e-9)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{CoreTrendID, SpecMomentumID}, r.IDs())

	_, err := r.Get("MISSING")
	assert.Error(t, err)

	r.Register("FIXED", func(podID string, snap market.Snapshot) schema.SignalEvent {
		return schema.SignalEvent{PodID: podID, Action: schema.ActionBuy, Confidence: 1}
	})
	fn, err := r.Get("FIXED")
	require.NoError(t, err)
	assert.Equal(t, schema.ActionBuy, fn("x", market.Snapshot{}).Action)
}
