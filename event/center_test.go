package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/database"
	"podmesh/schema"
)

// mockNotifier 记录收到的通知
type mockNotifier struct {
	mu     sync.Mutex
	events []schema.Event
}

func (m *mockNotifier) Send(e schema.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestDB(t *testing.T) database.Database {
	t.Helper()
	db, err := database.NewMemoryDatabase(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCenterPersistsAndNotifies(t *testing.T) {
	db := newTestDB(t)
	bus := NewBus(4)
	notifier := &mockNotifier{}
	center := NewCenter(db, bus, notifier, CenterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	center.Start(ctx)

	now := time.Now()
	bus.Emit(schema.NewRiskEvent("", schema.SeverityCritical, "Reconciliation failed"))
	bus.Emit(schema.NewRiskEvent("core", schema.SeverityWarn, "Market data degraded"))
	bus.Emit(schema.ModeChangeEvent{PodID: "spec", From: schema.ModeNormal, To: schema.ModeSafe, Timestamp: now})
	bus.Emit(schema.MarketEvent{Symbol: "BTC-USDT-SWAP", Price: 100, DataQuality: schema.DataQualityGood, Timestamp: now})
	bus.Emit(schema.TradeReport{
		PodID:          "core",
		Cycle:          7,
		Consensus:      &schema.ConsensusEvent{PodID: "core", Decision: schema.DecisionApproved},
		OrderLifecycle: &schema.OrderLifecycleEvent{ClientOrderID: "CORE-1", Status: schema.OrderStatusFilled},
		Details:        "Executed trade",
		Timestamp:      now,
	})
	bus.Close()
	center.Wait()

	events, err := db.GetEvents(context.Background(), &database.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 4)

	critical, err := db.GetEvents(context.Background(), &database.EventFilter{Severity: string(schema.SeverityCritical)})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, string(schema.KindRisk), critical[0].Kind)
	assert.Contains(t, critical[0].Payload, "Reconciliation failed")

	modeEvents, err := db.GetEvents(context.Background(), &database.EventFilter{PodID: "spec"})
	require.NoError(t, err)
	require.Len(t, modeEvents, 1)
	assert.Equal(t, string(schema.SeverityWarn), modeEvents[0].Severity)

	reports, err := db.GetTradeReports(context.Background(), &database.TradeReportFilter{PodID: "core"})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, int64(7), reports[0].Cycle)
	assert.Equal(t, "APPROVED", reports[0].Decision)
	assert.Equal(t, "FILLED", reports[0].OrderStatus)
	assert.Equal(t, "CORE-1", reports[0].ClientOrderID)

	// CRITICAL 风险事件 + 模式切换
	assert.Equal(t, 2, notifier.count())
}

func TestBusBlocksWhenFullInsteadOfDropping(t *testing.T) {
	bus := NewBus(1)
	rec := NewRecorder()

	done := make(chan struct{})
	go func() {
		for e := range bus.Events() {
			rec.Emit(e)
		}
		close(done)
	}()

	for i := 0; i < 50; i++ {
		bus.Emit(schema.HeartbeatEvent{Cycle: int64(i), Timestamp: time.Now()})
	}
	bus.Close()
	<-done

	assert.Len(t, rec.OfKind(schema.KindHeartbeat), 50)

	// 关闭后发布不会 panic
	assert.NotPanics(t, func() { bus.Emit(schema.HeartbeatEvent{}) })
	bus.Close()
}

func TestShouldNotify(t *testing.T) {
	assert.True(t, ShouldNotify(schema.NewRiskEvent("", schema.SeverityCritical, "x")))
	assert.False(t, ShouldNotify(schema.NewRiskEvent("", schema.SeverityWarn, "x")))
	assert.True(t, ShouldNotify(schema.ModeChangeEvent{To: schema.ModeCrash}))
	assert.False(t, ShouldNotify(schema.FillEvent{}))
}

func TestTeeFansOut(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	Tee(a, b).Emit(schema.FillEvent{PodID: "core"})
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}
