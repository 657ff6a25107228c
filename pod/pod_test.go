package pod

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/config"
	"podmesh/database"
	"podmesh/event"
	"podmesh/fsm"
	"podmesh/schema"
	"podmesh/state"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil, nil)

	require.Len(t, m.Pods(), 2)
	assert.Equal(t, "core", m.Pods()[0].ID())
	assert.Equal(t, "spec", m.Pods()[1].ID())
	assert.Equal(t, schema.ModeNormal, m.Global.Current())
	assert.Equal(t, 1000.0, m.Pods()[0].CurrentCapital)
	assert.Zero(t, m.Cycle())
}

func TestThresholdEscalation(t *testing.T) {
	th := NewThresholds(3, 6)
	assert.Equal(t, schema.ModeNormal, th.Escalation(2))
	assert.Equal(t, schema.ModeSafe, th.Escalation(3))
	assert.Equal(t, schema.ModeSafe, th.Escalation(5))
	assert.Equal(t, schema.ModeCrash, th.Escalation(6))

	th.Set(1, 2)
	assert.Equal(t, schema.ModeCrash, th.Escalation(2))
}

func TestCapCapitalProportional(t *testing.T) {
	m := NewManager(testConfig(t), nil, nil)
	m.CapCapital(600)

	core, _ := m.Pod("core")
	spec, _ := m.Pod("spec")
	assert.InDelta(t, 500.0, core.CurrentCapital, 1e-9)
	assert.InDelta(t, 100.0, spec.CurrentCapital, 1e-9)

	// 余额回升不会抬高已扣减的资金
	m.CapCapital(12000)
	assert.InDelta(t, 500.0, core.CurrentCapital, 1e-9)
	assert.InDelta(t, 100.0, spec.CurrentCapital, 1e-9)
}

func TestCheckpointRoundTripThroughDatabase(t *testing.T) {
	cfg := testConfig(t)
	db, err := database.NewMemoryDatabase(t.Name())
	require.NoError(t, err)
	defer db.Close()
	store := state.NewDBStore(db, 5)
	ctx := context.Background()

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, state.ErrNoCheckpoint)

	// 构造一个有内容的状态
	m := NewManager(cfg, nil, nil)
	core, _ := m.Pod("core")
	now := time.Now().UTC().Truncate(time.Millisecond)
	core.Lock()
	core.Orders.Apply(schema.OrderLifecycleEvent{ClientOrderID: "CORE-1", Status: schema.OrderStatusFilled, FilledQuantity: 1, PodID: "core", Symbol: "BTC-USDT-SWAP", Side: schema.SideBuy, Timestamp: now})
	core.Orders.Apply(schema.OrderLifecycleEvent{ClientOrderID: "CORE-2", Status: schema.OrderStatusPartial, PodID: "core", Symbol: "BTC-USDT-SWAP", Side: schema.SideBuy, Timestamp: now})
	core.Positions.Apply(schema.FillEvent{ClientOrderID: "CORE-1", PodID: "core", Symbol: "BTC-USDT-SWAP", Side: schema.SideBuy, Quantity: 1, Price: 100, Timestamp: now})
	core.Budget.APIErrors = 2
	core.CurrentCapital = 900
	core.Unlock()
	spec, _ := m.Pod("spec")
	spec.Mode.Upgrade(schema.ModeSafe)
	spec.Lock()
	spec.LearningPaused = true
	spec.Budget.ReconciliationFailures = 4
	spec.Unlock()
	m.Global.Upgrade(schema.ModeSafe)
	m.NextCycle()
	m.NextCycle()

	require.NoError(t, store.Save(ctx, m.Snapshot()))

	cp, err := store.Load(ctx)
	require.NoError(t, err)
	restored := NewManager(cfg, cp, nil)

	assert.Equal(t, schema.ModeSafe, restored.Global.Current())
	assert.Equal(t, int64(2), restored.Cycle())

	rCore, _ := restored.Pod("core")
	rSpec, _ := restored.Pod("spec")
	assert.Equal(t, core.Orders.Snapshot(), rCore.Orders.Snapshot())
	assert.Equal(t, core.Positions.Snapshot(), rCore.Positions.Snapshot())
	assert.Equal(t, 2, rCore.Budget.APIErrors)
	assert.Equal(t, 900.0, rCore.CurrentCapital)
	assert.Equal(t, schema.ModeSafe, rSpec.Mode.Current())
	assert.True(t, rSpec.LearningPaused)
	assert.Equal(t, 4, rSpec.Budget.ReconciliationFailures)

	// 恢复后的状态机与原状态机行为一致
	late := schema.OrderLifecycleEvent{ClientOrderID: "CORE-1", Status: schema.OrderStatusCanceled, PodID: "core", Timestamp: now.Add(time.Second)}
	assert.Equal(t, core.Orders.Apply(late), rCore.Orders.Apply(late), "终态吸收在恢复后保持")
	partial := schema.OrderLifecycleEvent{ClientOrderID: "CORE-2", Status: schema.OrderStatusFilled, FilledQuantity: 1, PodID: "core", Timestamp: now.Add(time.Second)}
	assert.Equal(t, core.Orders.Apply(partial), rCore.Orders.Apply(partial))
	assert.True(t, rCore.Orders.IsDuplicate("CORE-1"))
	assert.False(t, rCore.Orders.IsDuplicate("CORE-9"))

	fill := schema.FillEvent{ClientOrderID: "CORE-3", PodID: "core", Symbol: "BTC-USDT-SWAP", Side: schema.SideBuy, Quantity: 1, Price: 200, Timestamp: now.Add(time.Second)}
	assert.Equal(t, core.Positions.Apply(fill), rCore.Positions.Apply(fill))

	assert.Equal(t, spec.Mode.Upgrade(schema.ModeSafe), rSpec.Mode.Upgrade(schema.ModeSafe))
	assert.Equal(t, spec.Mode.Upgrade(schema.ModeCrash), rSpec.Mode.Upgrade(schema.ModeCrash))
}

func TestModeObserverWiredOnRestore(t *testing.T) {
	var changes []fsm.ModeChange
	observer := func(c fsm.ModeChange) { changes = append(changes, c) }

	cp := &state.Checkpoint{GlobalMode: schema.ModeSafe, Pods: []state.PodCheckpoint{{PodID: "core", Mode: schema.ModeSafe}}}
	m := NewManager(testConfig(t), cp, observer)
	core, _ := m.Pod("core")
	require.True(t, core.Mode.Upgrade(schema.ModeCrash))
	require.True(t, m.Global.Upgrade(schema.ModeCrash))

	require.Len(t, changes, 2)
	assert.Equal(t, "core", changes[0].PodID)
	assert.Equal(t, schema.ModeSafe, changes[0].From)
	assert.Equal(t, "", changes[1].PodID)
}

func TestModeChangeObserverEmitsEvents(t *testing.T) {
	rec := event.NewRecorder()
	m := NewManager(testConfig(t), nil, ModeChangeObserver(rec))

	m.Global.Upgrade(schema.ModeSafe)
	m.Global.Upgrade(schema.ModeSafe)
	spec, _ := m.Pod("spec")
	spec.Mode.Upgrade(schema.ModeDisabled)

	changes := rec.OfKind(schema.KindModeChange)
	require.Len(t, changes, 2)
	global := changes[0].(schema.ModeChangeEvent)
	assert.Empty(t, global.PodID)
	assert.Equal(t, schema.ModeNormal, global.From)
	assert.Equal(t, schema.ModeSafe, global.To)
	assert.Equal(t, "spec", changes[1].(schema.ModeChangeEvent).PodID)
}
