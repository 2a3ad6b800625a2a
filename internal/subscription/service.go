package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/provikash/botfleet/internal/clock"
	"github.com/provikash/botfleet/internal/metrics"
)

// Service provides subscription lifecycle logic. All status transitions go
// through here; callers never mutate subscription records directly.
type Service struct {
	store  Store
	clk    clock.Clock
	logger *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{store: store, clk: clk, logger: logger}
}

// CreatePending records a new unpaid subscription for a tenant.
func (s *Service) CreatePending(ctx context.Context, tenantID string, plan Plan) error {
	cfg, ok := Plans[plan]
	if !ok {
		return ErrUnknownPlan
	}

	now := s.clk.Now()
	sub := &Subscription{
		TenantID:        tenantID,
		Plan:            plan,
		Price:           cfg.Price,
		PaymentVerified: false,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return s.store.Create(ctx, sub)
}

// Remove deletes a subscription record. Only used to roll back a failed
// tenant creation.
func (s *Service) Remove(ctx context.Context, tenantID string) error {
	return s.store.Delete(ctx, tenantID)
}

// Get returns the current subscription for a tenant.
func (s *Service) Get(ctx context.Context, tenantID string) (*Subscription, error) {
	return s.store.Get(ctx, tenantID)
}

// History returns recorded lifecycle events for a tenant, oldest first.
func (s *Service) History(ctx context.Context, tenantID string, limit int) ([]*HistoryEntry, error) {
	return s.store.History(ctx, tenantID, limit)
}

// Activate records payment verification and starts the paid period.
// Fails with ErrNotPending unless the subscription is awaiting payment.
func (s *Service) Activate(ctx context.Context, tenantID string) error {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.Status != StatusPending {
		return fmt.Errorf("%w (status %q)", ErrNotPending, sub.Status)
	}

	dur, ok := PlanDuration(sub.Plan)
	if !ok {
		return ErrUnknownPlan
	}

	now := s.clk.Now()
	sub.PaymentVerified = true
	sub.Status = StatusActive
	sub.StartedAt = now
	sub.ExpiresAt = now.Add(dur)
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}

	s.appendHistory(ctx, &HistoryEntry{
		TenantID:   tenantID,
		Event:      EventActivated,
		Plan:       sub.Plan,
		OccurredAt: now,
		ExpiresAt:  sub.ExpiresAt,
	})
	s.logger.Info("subscription activated",
		"tenant_id", tenantID, "plan", sub.Plan, "expires_at", sub.ExpiresAt)
	return nil
}

// Extend adds a plan period to the subscription and reactivates it.
//
// A still-active subscription keeps its remaining time: the new expiry is
// current expiry + plan duration. A lapsed or expired one restarts from the
// moment of renewal. A subscription that was never paid cannot be extended.
func (s *Service) Extend(ctx context.Context, tenantID string, plan Plan) (time.Time, error) {
	dur, ok := PlanDuration(plan)
	if !ok {
		return time.Time{}, ErrUnknownPlan
	}

	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return time.Time{}, err
	}
	if sub.Status == StatusPending {
		return time.Time{}, ErrNotActivated
	}

	now := s.clk.Now()
	base := now
	if sub.ExpiresAt.After(now) {
		base = sub.ExpiresAt
	}

	sub.Plan = plan
	sub.Price = Plans[plan].Price
	sub.Status = StatusActive
	sub.PaymentVerified = true
	sub.ExpiresAt = base.Add(dur)
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return time.Time{}, err
	}

	s.appendHistory(ctx, &HistoryEntry{
		TenantID:   tenantID,
		Event:      EventExtended,
		Plan:       plan,
		OccurredAt: now,
		ExpiresAt:  sub.ExpiresAt,
	})
	s.logger.Info("subscription extended",
		"tenant_id", tenantID, "plan", plan, "expires_at", sub.ExpiresAt)
	return sub.ExpiresAt, nil
}

// EnsureStartable verifies the subscription permits launching the tenant
// right now. It never applies the expired transition (that belongs to the
// sweeper), it only refuses the start.
func (s *Service) EnsureStartable(ctx context.Context, tenantID string) error {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	switch sub.Status {
	case StatusPending:
		return ErrNotActivated
	case StatusExpired:
		return ErrExpired
	}
	if !sub.ExpiresAt.After(s.clk.Now()) {
		return ErrExpired
	}
	return nil
}

// ExpireDue transitions every active subscription whose paid period has
// lapsed to expired and returns the transitioned records. Safe to call
// repeatedly; an already-expired subscription is left alone.
func (s *Service) ExpireDue(ctx context.Context, batchSize int) ([]*Subscription, error) {
	now := s.clk.Now()
	var expired []*Subscription

	for {
		due, err := s.store.ListDue(ctx, now, batchSize)
		if err != nil {
			return expired, err
		}
		if len(due) == 0 {
			return expired, nil
		}

		progressed := false
		for _, sub := range due {
			applied, err := s.store.MarkExpired(ctx, sub.TenantID, now)
			if err != nil {
				s.logger.Warn("failed to expire subscription",
					"tenant_id", sub.TenantID, "error", err)
				continue
			}
			if !applied {
				continue // Lost the race or renewed since listing.
			}
			progressed = true
			sub.Status = StatusExpired
			expired = append(expired, sub)
			metrics.SubscriptionsExpiredTotal.Inc()

			s.appendHistory(ctx, &HistoryEntry{
				TenantID:   sub.TenantID,
				Event:      EventExpired,
				Plan:       sub.Plan,
				OccurredAt: now,
			})
		}

		if len(due) < batchSize || !progressed {
			return expired, nil
		}
	}
}

// appendHistory records an audit entry. Failures are logged, not surfaced,
// since the lifecycle transition itself already committed.
func (s *Service) appendHistory(ctx context.Context, e *HistoryEntry) {
	if err := s.store.AppendHistory(ctx, e); err != nil {
		s.logger.Warn("failed to append subscription history",
			"tenant_id", e.TenantID, "event", e.Event, "error", err)
	}
}
