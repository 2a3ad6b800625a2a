package subscription

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStopper struct {
	mu      sync.Mutex
	running map[string]bool
	stops   map[string]int
}

func newFakeStopper(running ...string) *fakeStopper {
	f := &fakeStopper{running: make(map[string]bool), stops: make(map[string]int)}
	for _, id := range running {
		f.running[id] = true
	}
	return f
}

func (f *fakeStopper) IsRunning(tenantID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[tenantID]
}

func (f *fakeStopper) StopTenant(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops[tenantID]++
	delete(f.running, tenantID)
	return nil
}

func (f *fakeStopper) stopCount(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops[tenantID]
}

func TestSweepStopsExpiredTenants(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreatePending(ctx, "t-expired", PlanMonthly))
	require.NoError(t, svc.Activate(ctx, "t-expired"))
	require.NoError(t, svc.CreatePending(ctx, "t-live", PlanYearly))
	require.NoError(t, svc.Activate(ctx, "t-live"))

	stopper := newFakeStopper("t-expired", "t-live")
	sweeper := NewSweeper(svc, stopper, time.Minute, slog.New(slog.DiscardHandler))

	clk.Advance(31 * 24 * time.Hour)
	sweeper.Sweep(ctx)

	assert.Equal(t, 1, stopper.stopCount("t-expired"))
	assert.Equal(t, 0, stopper.stopCount("t-live"))
	assert.True(t, stopper.IsRunning("t-live"))

	sub, err := svc.Get(ctx, "t-expired")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, sub.Status)
}

func TestSweepIdempotent(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreatePending(ctx, "tenant-1", PlanMonthly))
	require.NoError(t, svc.Activate(ctx, "tenant-1"))

	stopper := newFakeStopper("tenant-1")
	sweeper := NewSweeper(svc, stopper, time.Minute, slog.New(slog.DiscardHandler))

	clk.Advance(31 * 24 * time.Hour)
	sweeper.Sweep(ctx)
	sweeper.Sweep(ctx)
	sweeper.Sweep(ctx)

	assert.Equal(t, 1, stopper.stopCount("tenant-1"))
}

func TestSweepSkipsStoppedTenants(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreatePending(ctx, "tenant-1", PlanMonthly))
	require.NoError(t, svc.Activate(ctx, "tenant-1"))

	// Tenant was never started (or already stopped by its owner).
	stopper := newFakeStopper()
	sweeper := NewSweeper(svc, stopper, time.Minute, slog.New(slog.DiscardHandler))

	clk.Advance(31 * 24 * time.Hour)
	sweeper.Sweep(ctx)

	assert.Equal(t, 0, stopper.stopCount("tenant-1"))
	sub, err := svc.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, sub.Status)
}

func TestSweeperStartStop(t *testing.T) {
	svc, _, _ := newTestService(t)
	stopper := newFakeStopper()
	sweeper := NewSweeper(svc, stopper, 10*time.Millisecond, slog.New(slog.DiscardHandler))

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
