package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/provikash/botfleet/internal/metrics"
)

// HealthSweeper periodically probes every live runtime. A tenant that fails
// the probe threshold gets exactly one stop+start cycle; if that fails too
// the tenant is left stopped with an error-state latch for manual
// intervention, never retried automatically.
type HealthSweeper struct {
	orch      *Orchestrator
	interval  time.Duration
	threshold int
	logger    *slog.Logger
	stop      chan struct{}
}

// NewHealthSweeper creates a runtime health sweeper.
func NewHealthSweeper(orch *Orchestrator, interval time.Duration, threshold int, logger *slog.Logger) *HealthSweeper {
	return &HealthSweeper{
		orch:      orch,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start begins the probe loop. Call in a goroutine.
func (s *HealthSweeper) Start(ctx context.Context) {
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
func (s *HealthSweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *HealthSweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in health sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep probes every live handle once. Exported for tests.
//
// Only handles present in the registry are probed, so a tenant whose
// recovery restart failed (and was therefore removed) never comes back
// through this path; it stays latched until a manual start.
func (s *HealthSweeper) Sweep(ctx context.Context) {
	for _, h := range s.orch.registry.List() {
		probeCtx, cancel := context.WithTimeout(ctx, s.orch.opts.ConnectTimeout)
		err := h.Runtime.HealthProbe(probeCtx)
		cancel()

		now := s.orch.clk.Now()
		if err == nil {
			h.MarkProbe(true, now)
			metrics.HealthProbesTotal.WithLabelValues("ok").Inc()
			continue
		}

		h.MarkProbe(false, now)
		metrics.HealthProbesTotal.WithLabelValues("failed").Inc()
		failures := h.ConsecutiveFailures()
		s.logger.Warn("tenant health probe failed",
			"tenant_id", h.TenantID, "consecutive_failures", failures, "error", err)

		if failures >= s.threshold {
			s.recover(ctx, h.TenantID)
		}
	}
}

// recover performs the single stop+start cycle for an unhealthy tenant.
func (s *HealthSweeper) recover(ctx context.Context, tenantID string) {
	s.logger.Info("restarting unhealthy tenant", "tenant_id", tenantID)

	if err := s.orch.stop(ctx, tenantID, false, "unhealthy"); err != nil {
		s.orch.setErrorState(tenantID, fmt.Sprintf("recovery stop failed: %v", err))
		return
	}
	if err := s.orch.Start(ctx, tenantID); err != nil {
		s.orch.setErrorState(tenantID, fmt.Sprintf("recovery start failed: %v", err))
		s.logger.Error("tenant recovery failed, manual intervention required",
			"tenant_id", tenantID, "error", err)
	}
}
