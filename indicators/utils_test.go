package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA(t *testing.T) {
	assert.Equal(t, []float64{2, 3, 4}, SMA([]float64{1, 2, 3, 4, 5}, 3))
	assert.Nil(t, SMA([]float64{1, 2}, 3))
}

func TestEMA(t *testing.T) {
	got := EMA([]float64{1, 2, 3, 4, 5}, 3)
	// 种子为前三个值的 SMA=2，系数 0.5
	assert.InDeltaSlice(t, []float64{2, 3, 4}, got, 1e-9)
	assert.Nil(t, EMA([]float64{1}, 0))
}

func TestStdDevAndReturns(t *testing.T) {
	assert.InDelta(t, 2.0, PopulationStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, Returns([]float64{100, 110, 99}), 1e-9)
	assert.Len(t, StdDev([]float64{1, 2, 3, 4}, 2), 3)
	assert.Zero(t, PopulationStdDev(nil))
}

func TestRateOfChange(t *testing.T) {
	assert.InDeltaSlice(t, []float64{10, -10}, RateOfChange([]float64{100, 100, 110, 90}, 2), 1e-9)
	assert.Nil(t, RateOfChange([]float64{1, 2}, 2))
}

func TestCross(t *testing.T) {
	assert.True(t, CrossOver([]float64{1, 3}, []float64{2, 2}))
	assert.False(t, CrossOver([]float64{3, 3}, []float64{2, 2}))
	assert.True(t, CrossUnder([]float64{3, 1}, []float64{2, 2}))
	v, ok := Last([]float64{1, 2})
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
}
