package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/database"
	"podmesh/fsm"
	"podmesh/schema"
)

func newStore(t *testing.T, keep int) (*DBStore, database.Database) {
	t.Helper()
	db, err := database.NewMemoryDatabase(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDBStore(db, keep), db
}

func TestDBStoreLoadEmpty(t *testing.T) {
	store, _ := newStore(t, 3)
	cp, err := store.Load(context.Background())
	assert.Nil(t, cp)
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestDBStoreKeepsLatest(t *testing.T) {
	store, _ := newStore(t, 2)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := int64(1); i <= 4; i++ {
		capital := 100.0 * float64(i)
		require.NoError(t, store.Save(ctx, &Checkpoint{
			GlobalMode: schema.ModeNormal,
			LastCycle:  i,
			SavedAt:    base.Add(time.Duration(i) * time.Second),
			Pods: []PodCheckpoint{{
				PodID:          "core",
				Mode:           schema.ModeSafe,
				Positions:      []fsm.PositionRecord{{PodID: "core", Symbol: "BTC-USDT-SWAP", Quantity: 1, AveragePrice: 100, LastUpdate: base}},
				ErrorBudget:    ErrorBudget{APIErrors: int(i)},
				CurrentCapital: &capital,
			}},
		}))
	}

	cp, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cp.LastCycle)

	core, ok := cp.Pod("core")
	require.True(t, ok)
	assert.Equal(t, schema.ModeSafe, core.Mode)
	assert.Equal(t, 4, core.ErrorBudget.APIErrors)
	require.NotNil(t, core.CurrentCapital)
	assert.Equal(t, 400.0, *core.CurrentCapital)
	require.Len(t, core.Positions, 1)
	assert.Equal(t, 1.0, core.Positions[0].Quantity)

	_, ok = cp.Pod("missing")
	assert.False(t, ok)
}

func TestCheckpointPodNilSafe(t *testing.T) {
	var cp *Checkpoint
	_, ok := cp.Pod("core")
	assert.False(t, ok)
}

func TestSaverSaveNow(t *testing.T) {
	db, err := database.NewMemoryDatabase("saver_save_now")
	require.NoError(t, err)
	defer db.Close()
	store := NewDBStore(db, 5)

	cycle := int64(0)
	saver := NewSaver(store, func() *Checkpoint {
		cycle++
		return &Checkpoint{GlobalMode: schema.ModeSafe, LastCycle: cycle}
	}, nil, time.Hour)

	ctx := context.Background()
	require.NoError(t, saver.SaveNow(ctx))
	require.NoError(t, saver.SaveNow(ctx))

	cp, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.LastCycle)
	assert.Equal(t, schema.ModeSafe, cp.GlobalMode)
}

func TestResetModesKeepsBudgets(t *testing.T) {
	cp := &Checkpoint{
		GlobalMode: schema.ModeCrash,
		Pods: []PodCheckpoint{
			{PodID: "core", Mode: schema.ModeNormal},
			{PodID: "spec", Mode: schema.ModeDisabled, ErrorBudget: ErrorBudget{APIErrors: 4}},
		},
		LastCycle: 9,
	}

	reset := ResetModes(cp)

	assert.Equal(t, []string{"global", "spec"}, reset)
	assert.Equal(t, schema.ModeNormal, cp.GlobalMode)
	for _, p := range cp.Pods {
		assert.Equal(t, schema.ModeNormal, p.Mode)
	}
	assert.Equal(t, 4, cp.Pods[1].ErrorBudget.APIErrors)
	assert.Equal(t, int64(9), cp.LastCycle)
	assert.Empty(t, ResetModes(cp))
}
