package subscription

import (
	"context"
	"time"
)

// Store persists subscription data.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, tenantID string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error

	// Delete removes a subscription record. Used only to roll back a
	// failed tenant creation; lifecycle transitions never delete.
	Delete(ctx context.Context, tenantID string) error

	// ListDue returns active subscriptions whose expiry is at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)

	// MarkExpired atomically transitions an active, due subscription to
	// expired. Returns false if the subscription was not active or not yet
	// due, so concurrent or repeated sweeps apply the transition once.
	MarkExpired(ctx context.Context, tenantID string, now time.Time) (bool, error)

	AppendHistory(ctx context.Context, e *HistoryEntry) error
	History(ctx context.Context, tenantID string, limit int) ([]*HistoryEntry, error)
}
