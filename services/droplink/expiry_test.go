package droplink

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/metrics"
)

func TestExpiryWatcher_Sweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, sampleDrop(1, 10)))
	require.NoError(t, store.Create(ctx, sampleDrop(2, 20)))

	clock := chain.NewManualClock(15)
	m := metrics.New()
	w, err := NewExpiryWatcher(WatcherConfig{Store: store, Clock: clock, Metrics: m, Logger: logging.NewDiscard("expiry-test")})
	require.NoError(t, err)

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, w.LastCount())

	gauge, err := testutil.GatherAndCount(m.Registry(), "droplink_reclaimable_drops")
	require.NoError(t, err)
	require.Equal(t, 1, gauge)

	// sweeping never tombstones
	d, _, _ := store.Get(ctx, dropID(1))
	require.True(t, d.Active)
}

func TestExpiryWatcher_InvalidSchedule(t *testing.T) {
	_, err := NewExpiryWatcher(WatcherConfig{Store: NewMemoryStore(), Schedule: "not a schedule"})
	require.Error(t, err)
}

func TestExpiryWatcher_StartStop(t *testing.T) {
	w, err := NewExpiryWatcher(WatcherConfig{Store: NewMemoryStore(), Logger: logging.NewDiscard("expiry-test")})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.Error(t, w.Start(context.Background()))
	w.Stop()
}
