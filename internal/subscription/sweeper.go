package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/provikash/botfleet/internal/metrics"
)

// TenantStopper shuts down running tenant runtimes. Implemented by the
// fleet orchestrator; the sweeper only needs these two operations.
type TenantStopper interface {
	IsRunning(tenantID string) bool
	StopTenant(ctx context.Context, tenantID string) error
}

// Sweeper periodically expires lapsed subscriptions and stops their tenants.
// Only one sweep runs at a time; a tick that fires while a sweep is still in
// progress is skipped, not queued.
type Sweeper struct {
	service  *Service
	stopper  TenantStopper
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	sweeping atomic.Bool
}

// NewSweeper creates a subscription expiry sweeper.
func NewSweeper(service *Service, stopper TenantStopper, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		stopper:  stopper,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Debug("subscription sweep still running, skipping tick")
		return
	}
	defer s.sweeping.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in subscription sweeper", "panic", fmt.Sprint(r))
		}
	}()

	s.Sweep(ctx)
}

// Sweep runs one expiry pass. Exported for tests and for a manual admin
// trigger; the overlap guard lives in the ticker path.
func (s *Sweeper) Sweep(ctx context.Context) {
	const batchSize = 100

	timer := prometheus.NewTimer(metrics.SweepDuration)
	defer timer.ObserveDuration()

	expired, err := s.service.ExpireDue(ctx, batchSize)
	if err != nil {
		s.logger.Warn("subscription sweep failed", "error", err)
	}
	if len(expired) == 0 {
		return
	}

	stopped := 0
	for _, sub := range expired {
		if !s.stopper.IsRunning(sub.TenantID) {
			continue
		}
		if err := s.stopper.StopTenant(ctx, sub.TenantID); err != nil {
			s.logger.Warn("failed to stop tenant for expired subscription",
				"tenant_id", sub.TenantID, "error", err)
			continue
		}
		stopped++
	}

	s.logger.Info("subscription sweep complete",
		"expired", len(expired), "stopped", stopped)
}
