package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/config"
	"podmesh/database"
	"podmesh/event"
	"podmesh/exchange"
	"podmesh/execution"
	"podmesh/pod"
	"podmesh/schema"
	"podmesh/utils"
)

const symbol = "BTC-USDT-SWAP"

type fixture struct {
	cfg      *config.Config
	manager  *pod.Manager
	broker   *exchange.SimBroker
	recorder *event.Recorder
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	require.NoError(t, cfg.Validate())

	broker := exchange.NewSimBroker(exchange.SimOptions{Balance: 1200, FillRatio: 1, Seed: 7})
	broker.SetMarkPrice(symbol, 60000)

	f := &fixture{
		cfg:      cfg,
		manager:  pod.NewManager(cfg, nil, nil),
		broker:   broker,
		recorder: event.NewRecorder(),
	}
	f.rec = NewReconciler(cfg, f.manager, broker, execution.NewEngine(broker), f.recorder, nil)
	return f
}

func TestReconcileOutageEscalatesGlobalMode(t *testing.T) {
	f := newFixture(t)
	f.broker.InjectFailure(&exchange.APIError{Op: "sim", Category: exchange.CategoryNetwork, Message: "timeout"}, 1000)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		require.Error(t, f.rec.Reconcile(ctx))
		assert.Equal(t, schema.ModeNormal, f.manager.Global.Current(), "after failure %d", i)
	}
	require.Error(t, f.rec.Reconcile(ctx))
	assert.Equal(t, schema.ModeSafe, f.manager.Global.Current())

	for _, p := range f.manager.Pods() {
		assert.Equal(t, 3, p.Budget.ReconciliationFailures, p.ID())
	}

	for i := 0; i < 3; i++ {
		require.Error(t, f.rec.Reconcile(ctx))
	}
	assert.Equal(t, schema.ModeCrash, f.manager.Global.Current())

	risks := f.recorder.OfKind(schema.KindRisk)
	require.Len(t, risks, 6)
	re := risks[0].(schema.RiskEvent)
	assert.Equal(t, schema.SeverityCritical, re.Level)
	assert.Empty(t, re.PodID)
	assert.Contains(t, re.Reason, "Reconciliation failure")
}

func TestReconcileClosesOrphanPositionOnce(t *testing.T) {
	f := newFixture(t)
	f.broker.SetPosition(exchange.Position{PodID: "core", Symbol: symbol, Quantity: 1, AveragePrice: 59000})
	ctx := context.Background()

	require.NoError(t, f.rec.Reconcile(ctx))
	require.NoError(t, f.rec.Reconcile(ctx))

	lifecycles := f.recorder.OfKind(schema.KindOrderLifecycle)
	require.Len(t, lifecycles, 1)
	ev := lifecycles[0].(schema.OrderLifecycleEvent)
	assert.Equal(t, "core", ev.PodID)
	assert.Equal(t, schema.SideSell, ev.Side)
	assert.Equal(t, schema.OrderStatusFilled, ev.Status)
	assert.InDelta(t, 1.0, ev.FilledQuantity, 1e-9)
	assert.True(t, utils.HasTag(ev.ClientOrderID, "CORE", utils.TagReconcile))

	intents := f.recorder.OfKind(schema.KindOrderIntent)
	require.Len(t, intents, 1)
	intent := intents[0].(schema.OrderIntentEvent)
	assert.True(t, intent.ReduceOnly)
	assert.InDelta(t, 1.0, intent.Quantity, 1e-9)

	core, _ := f.manager.Pod("core")
	_, ok := core.Positions.Get("core", symbol)
	assert.False(t, ok, "reconciliation close must not create an internal position")
	assert.True(t, core.Orders.IsDuplicate(ev.ClientOrderID))

	positions, err := f.broker.FetchPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	reports := f.recorder.OfKind(schema.KindTradeReport)
	require.Len(t, reports, 1)
	assert.Equal(t, "Reduce-only close from reconciliation", reports[0].(schema.TradeReport).Details)
}

func TestReconcileSharedInstrumentKeepsOtherPodPosition(t *testing.T) {
	f := newFixture(t)
	require.Contains(t, f.cfg.SharedInstruments(), symbol)
	resolve := exchange.PodResolverFromConfig(f.cfg.Pods)
	require.Equal(t, "", resolve(symbol))

	spec, _ := f.manager.Pod("spec")
	spec.Positions.Apply(schema.FillEvent{PodID: "spec", Symbol: symbol, Side: schema.SideBuy, Quantity: 0.8, Price: 60000})
	f.broker.SetPosition(exchange.Position{PodID: resolve(symbol), Symbol: symbol, Quantity: 0.8, AveragePrice: 60000})

	require.NoError(t, f.rec.Reconcile(context.Background()))
	require.NoError(t, f.rec.Reconcile(context.Background()))

	assert.Empty(t, f.recorder.OfKind(schema.KindOrderIntent))
	assert.Empty(t, f.recorder.OfKind(schema.KindOrderLifecycle))
	rec, ok := spec.Positions.Get("spec", symbol)
	require.True(t, ok)
	assert.InDelta(t, 0.8, rec.Quantity, 1e-9)

	summaries := f.recorder.OfKind(schema.KindReconciliation)
	require.Len(t, summaries, 2)
	assert.Zero(t, summaries[1].(schema.ReconciliationEvent).ClosedOrphans)
}

func TestReconcileSharedInstrumentMismatchOnlyWarns(t *testing.T) {
	f := newFixture(t)
	core, _ := f.manager.Pod("core")
	spec, _ := f.manager.Pod("spec")
	core.Positions.Apply(schema.FillEvent{PodID: "core", Symbol: symbol, Side: schema.SideBuy, Quantity: 0.5, Price: 60000})
	spec.Positions.Apply(schema.FillEvent{PodID: "spec", Symbol: symbol, Side: schema.SideBuy, Quantity: 0.8, Price: 60000})
	f.broker.SetPosition(exchange.Position{Symbol: symbol, Quantity: 2})

	require.NoError(t, f.rec.Reconcile(context.Background()))

	assert.Empty(t, f.recorder.OfKind(schema.KindOrderIntent))
}

func TestReconcileSharedInstrumentOrphanClosedByFirstOwner(t *testing.T) {
	f := newFixture(t)
	f.broker.SetPosition(exchange.Position{Symbol: symbol, Quantity: 1, AveragePrice: 59000})

	require.NoError(t, f.rec.Reconcile(context.Background()))

	intents := f.recorder.OfKind(schema.KindOrderIntent)
	require.Len(t, intents, 1)
	intent := intents[0].(schema.OrderIntentEvent)
	assert.Equal(t, "core", intent.PodID)
	assert.Equal(t, schema.SideSell, intent.Side)
	assert.True(t, intent.ReduceOnly)
	assert.InDelta(t, 1.0, intent.Quantity, 1e-9)

	summaries := f.recorder.OfKind(schema.KindReconciliation)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].(schema.ReconciliationEvent).ClosedOrphans)
}

func TestReconcileShortOrphanBuysBack(t *testing.T) {
	f := newFixture(t)
	f.broker.SetPosition(exchange.Position{PodID: "spec", Symbol: symbol, Quantity: -0.5})

	require.NoError(t, f.rec.Reconcile(context.Background()))

	lifecycles := f.recorder.OfKind(schema.KindOrderLifecycle)
	require.Len(t, lifecycles, 1)
	ev := lifecycles[0].(schema.OrderLifecycleEvent)
	assert.Equal(t, schema.SideBuy, ev.Side)
	assert.True(t, utils.HasTag(ev.ClientOrderID, "SPEC", utils.TagReconcile))
}

func TestReconcileCancelsOrphanOrder(t *testing.T) {
	f := newFixture(t)
	f.broker.AddOrder(exchange.Order{
		ClientOrderID: "CORE-external",
		PodID:         "core",
		Symbol:        symbol,
		Side:          schema.SideBuy,
		Quantity:      0.1,
		Status:        exchange.OrderStatusNew,
	})
	ctx := context.Background()
	db, err := database.NewMemoryDatabase("reconcile_orphan_order")
	require.NoError(t, err)
	defer db.Close()
	f.rec.SetStorage(db)

	require.NoError(t, f.rec.Reconcile(ctx))

	lifecycles := f.recorder.OfKind(schema.KindOrderLifecycle)
	require.Len(t, lifecycles, 1)
	ev := lifecycles[0].(schema.OrderLifecycleEvent)
	assert.Equal(t, schema.OrderStatusCanceled, ev.Status)
	assert.Zero(t, ev.FilledQuantity)

	core, _ := f.manager.Pod("core")
	rec, ok := core.Orders.Get("CORE-external")
	require.True(t, ok)
	assert.Equal(t, schema.OrderStatusCanceled, rec.Status)

	open, err := f.broker.FetchOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	recs, err := db.GetReconciliations(ctx, &database.ReconciliationFilter{PodID: "core"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "orphan_order", recs[0].Type)
	assert.True(t, recs[0].Resolved)
}

func TestReconcileKnownStateIsUntouched(t *testing.T) {
	f := newFixture(t)
	core, _ := f.manager.Pod("core")
	core.Orders.Apply(schema.OrderLifecycleEvent{
		ClientOrderID: "CORE-known", Status: schema.OrderStatusPartial, PodID: "core", Symbol: symbol, Side: schema.SideBuy,
	})
	core.Positions.Apply(schema.FillEvent{PodID: "core", Symbol: symbol, Side: schema.SideBuy, Quantity: 0.2, Price: 60000})
	f.broker.AddOrder(exchange.Order{ClientOrderID: "CORE-known", PodID: "core", Symbol: symbol, Side: schema.SideBuy, Quantity: 0.1, Status: exchange.OrderStatusPartial})
	f.broker.SetPosition(exchange.Position{PodID: "core", Symbol: symbol, Quantity: 0.2})
	f.broker.AddOrder(exchange.Order{ClientOrderID: "GHOST-1", PodID: "ghost", Symbol: symbol, Side: schema.SideBuy, Quantity: 1, Status: exchange.OrderStatusNew})

	require.NoError(t, f.rec.Reconcile(context.Background()))

	assert.Empty(t, f.recorder.OfKind(schema.KindOrderLifecycle))
	summaries := f.recorder.OfKind(schema.KindReconciliation)
	require.Len(t, summaries, 1)
	sum := summaries[0].(schema.ReconciliationEvent)
	assert.True(t, sum.Success)
	assert.Equal(t, 2, sum.ExchangeOrders)
	assert.Equal(t, 1, sum.ExchangePositions)
	assert.Zero(t, sum.CanceledOrphans)
	assert.Zero(t, sum.ClosedOrphans)
	assert.InDelta(t, 1200.0, sum.AvailableBalance, 1e-9)
}

func TestReconcileCapsCapitalToBalance(t *testing.T) {
	f := newFixture(t)
	spec, _ := f.manager.Pod("spec")
	spec.CurrentCapital = 50

	require.NoError(t, f.rec.Reconcile(context.Background()))

	core, _ := f.manager.Pod("core")
	assert.InDelta(t, 1000.0, core.CurrentCapital, 1e-9)
	assert.InDelta(t, 50.0, spec.CurrentCapital, 1e-9)
}
