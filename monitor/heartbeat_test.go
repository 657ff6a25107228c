package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/config"
	"podmesh/event"
	"podmesh/pod"
	"podmesh/schema"
)

func TestBeatReportsModesAndBudgets(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, cfg.Validate())
	m := pod.NewManager(cfg, nil, nil)
	spec, _ := m.Pod("spec")
	spec.Budget.APIErrors = 2
	spec.Mode.Upgrade(schema.ModeSafe)
	m.Global.Upgrade(schema.ModeSafe)

	rec := event.NewRecorder()
	hb := NewHeartbeat(cfg, m, rec)

	_, ok := hb.Latest()
	assert.False(t, ok)

	beat := hb.Beat()
	assert.Equal(t, schema.ModeSafe, beat.GlobalMode)
	require.Len(t, beat.Pods, 2)
	assert.Equal(t, "spec", beat.Pods[1].ID)
	assert.Equal(t, schema.ModeSafe, beat.Pods[1].Mode)
	assert.Equal(t, 2, beat.Pods[1].APIErrors)
	assert.Positive(t, beat.Goroutines)

	latest, ok := hb.Latest()
	require.True(t, ok)
	assert.Equal(t, beat.Timestamp, latest.Timestamp)
	assert.Len(t, rec.OfKind(schema.KindHeartbeat), 1)
}

func TestHeartbeatStartBeatsImmediately(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, cfg.Validate())
	rec := event.NewRecorder()
	hb := NewHeartbeat(cfg, pod.NewManager(cfg, nil, nil), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := hb.Start(ctx)
	require.Eventually(t, func() bool {
		return len(rec.OfKind(schema.KindHeartbeat)) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestCollectorReadsOwnProcess(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)
	m, err := c.Collect()
	require.NoError(t, err)
	assert.Positive(t, m.MemoryRSS)
	assert.Positive(t, m.MemoryMB())
}
