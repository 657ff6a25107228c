package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/schema"
)

func TestModeMachineUpgradeIsMonotonic(t *testing.T) {
	var changes []ModeChange
	m := NewModeMachine("core", schema.ModeNormal, func(c ModeChange) {
		changes = append(changes, c)
	})

	assert.False(t, m.Upgrade(schema.ModeNormal), "相同模式不应切换")
	assert.True(t, m.Upgrade(schema.ModeCrash))
	assert.False(t, m.Upgrade(schema.ModeSafe), "不允许降级")
	assert.False(t, m.Upgrade(schema.ModeCrash))
	assert.Equal(t, schema.ModeCrash, m.Current())
	assert.True(t, m.Upgrade(schema.ModeDisabled))

	require.Len(t, changes, 2)
	assert.Equal(t, ModeChange{PodID: "core", From: schema.ModeNormal, To: schema.ModeCrash, At: changes[0].At}, changes[0])
	assert.Equal(t, schema.ModeCrash, changes[1].From)
	assert.Equal(t, schema.ModeDisabled, changes[1].To)
}

func TestModeMachineResetAlwaysNormal(t *testing.T) {
	notified := 0
	m := NewModeMachine("", schema.ModeDisabled, func(ModeChange) { notified++ })

	m.Reset()
	assert.Equal(t, schema.ModeNormal, m.Current())
	assert.Equal(t, 1, notified)

	m.Reset()
	assert.Equal(t, schema.ModeNormal, m.Current())
	assert.Equal(t, 1, notified, "已是 NORMAL 时重置不产生通知")
}

func TestModeMachineRejectsUnknownModes(t *testing.T) {
	m := NewModeMachine("", schema.Mode("PANIC"), nil)
	assert.Equal(t, schema.ModeNormal, m.Current())
	assert.False(t, m.Upgrade(schema.Mode("PANIC")))
}

func TestOrderMachineTerminalAbsorbs(t *testing.T) {
	m := NewOrderMachine()

	m.Apply(schema.OrderLifecycleEvent{ClientOrderID: "CORE-1", Status: schema.OrderStatusPartial, FilledQuantity: 0.5})
	rec := m.Apply(schema.OrderLifecycleEvent{ClientOrderID: "CORE-1", Status: schema.OrderStatusFilled, FilledQuantity: 1})
	assert.Equal(t, schema.OrderStatusFilled, rec.Status)

	for _, status := range []schema.OrderStatus{schema.OrderStatusAck, schema.OrderStatusPartial, schema.OrderStatusCanceled, schema.OrderStatusRejected} {
		rec = m.Apply(schema.OrderLifecycleEvent{ClientOrderID: "CORE-1", Status: status, FilledQuantity: 9})
		assert.Equal(t, schema.OrderStatusFilled, rec.Status)
		assert.Equal(t, 1.0, rec.FilledQuantity)
	}
}

func TestOrderMachineNoAdjacencyValidation(t *testing.T) {
	m := NewOrderMachine()
	m.Apply(schema.OrderLifecycleEvent{ClientOrderID: "A", Status: schema.OrderStatusPartial})
	rec := m.Apply(schema.OrderLifecycleEvent{ClientOrderID: "A", Status: schema.OrderStatusAck})
	assert.Equal(t, schema.OrderStatusAck, rec.Status)
}

func TestOrderMachineSnapshotRoundTrip(t *testing.T) {
	m := NewOrderMachine()
	assert.False(t, m.IsDuplicate("B"))
	m.Apply(schema.OrderLifecycleEvent{ClientOrderID: "B", Status: schema.OrderStatusRejected, PodID: "spec"})
	m.Apply(schema.OrderLifecycleEvent{ClientOrderID: "A", Status: schema.OrderStatusAck, PodID: "core"})
	assert.True(t, m.IsDuplicate("B"))

	snap := m.Snapshot()
	require.Len(t, snap.Orders, 2)
	assert.Equal(t, "A", snap.Orders[0].ClientOrderID)
	assert.Equal(t, []string{"A", "B"}, snap.Seen)

	restored := NewOrderMachine()
	restored.Hydrate(snap)
	assert.True(t, restored.IsDuplicate("A"))
	rec := restored.Apply(schema.OrderLifecycleEvent{ClientOrderID: "B", Status: schema.OrderStatusFilled})
	assert.Equal(t, schema.OrderStatusRejected, rec.Status)
}

func TestPositionMachineVWAP(t *testing.T) {
	m := NewPositionMachine()

	m.Apply(schema.FillEvent{PodID: "core", Symbol: "BTC-USDT-SWAP", Side: schema.SideBuy, Quantity: 1, Price: 100})
	rec := m.Apply(schema.FillEvent{PodID: "core", Symbol: "BTC-USDT-SWAP", Side: schema.SideBuy, Quantity: 1, Price: 200})
	assert.Equal(t, 2.0, rec.Quantity)
	assert.InDelta(t, 150.0, rec.AveragePrice, 1e-9)

	rec = m.Apply(schema.FillEvent{PodID: "core", Symbol: "BTC-USDT-SWAP", Side: schema.SideSell, Quantity: 2, Price: 300})
	assert.Equal(t, 0.0, rec.Quantity)
	assert.Equal(t, 0.0, rec.AveragePrice)
	assert.Empty(t, m.OpenPositions())

	_, ok := m.Get("core", "BTC-USDT-SWAP")
	assert.True(t, ok, "平仓后记录仍然保留")
}

func TestPositionMachineShortSide(t *testing.T) {
	m := NewPositionMachine()
	rec := m.Apply(schema.FillEvent{PodID: "spec", Symbol: "ETH-USDT-SWAP", Side: schema.SideSell, Quantity: 0.5, Price: 2000})
	assert.Equal(t, -0.5, rec.Quantity)
	assert.InDelta(t, 2000.0, rec.AveragePrice, 1e-9)
}

func TestPositionMachineFloatResidueFlattens(t *testing.T) {
	m := NewPositionMachine()
	for _, q := range []float64{0.1, 0.2} {
		m.Apply(schema.FillEvent{PodID: "core", Symbol: "X", Side: schema.SideBuy, Quantity: q, Price: 10})
	}
	rec := m.Apply(schema.FillEvent{PodID: "core", Symbol: "X", Side: schema.SideSell, Quantity: 0.3, Price: 10})
	assert.True(t, rec.IsFlat())
}

func TestPositionMachineOpenPositionsOrdered(t *testing.T) {
	m := NewPositionMachine()
	m.Apply(schema.FillEvent{PodID: "spec", Symbol: "B", Side: schema.SideBuy, Quantity: 1, Price: 1})
	m.Apply(schema.FillEvent{PodID: "core", Symbol: "B", Side: schema.SideBuy, Quantity: 1, Price: 1})
	m.Apply(schema.FillEvent{PodID: "core", Symbol: "A", Side: schema.SideSell, Quantity: 1, Price: 1})

	open := m.OpenPositions()
	require.Len(t, open, 3)
	assert.Equal(t, "core", open[0].PodID)
	assert.Equal(t, "A", open[0].Symbol)
	assert.Equal(t, "spec", open[2].PodID)

	restored := NewPositionMachine()
	restored.Hydrate(m.Snapshot())
	assert.Equal(t, open, restored.OpenPositions())
}
