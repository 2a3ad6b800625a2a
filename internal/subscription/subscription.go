// Package subscription implements the billing lifecycle that gates whether
// a tenant may run.
//
// A subscription moves PENDING → ACTIVE on payment verification, ACTIVE →
// EXPIRED when its paid period lapses, and back to ACTIVE on renewal. The
// EXPIRED transition is applied only by the background sweeper; everything
// else observes the stored status and the clock.
package subscription

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound      = errors.New("subscription: not found")
	ErrAlreadyExists = errors.New("subscription: already exists for tenant")
	ErrNotPending    = errors.New("subscription: not awaiting payment")
	ErrNotActivated  = errors.New("subscription: never activated")
	ErrNotActive     = errors.New("subscription: not active")
	ErrExpired       = errors.New("subscription: expired")
	ErrUnknownPlan   = errors.New("subscription: unknown plan")
)

// Status represents a subscription's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Subscription is the billing record for one tenant (1:1 with the current
// record; past events are kept in the history table).
type Subscription struct {
	TenantID        string    `json:"tenantId"`
	Plan            Plan      `json:"plan"`
	Price           string    `json:"price"`
	StartedAt       time.Time `json:"startedAt,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitempty"`
	PaymentVerified bool      `json:"paymentVerified"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Remaining returns the unexpired portion of the subscription at time now,
// or zero if none.
func (s *Subscription) Remaining(now time.Time) time.Duration {
	if s.Status != StatusActive || !s.ExpiresAt.After(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// HistoryEvent names a recorded lifecycle event.
type HistoryEvent string

const (
	EventActivated HistoryEvent = "activated"
	EventExtended  HistoryEvent = "extended"
	EventExpired   HistoryEvent = "expired"
)

// HistoryEntry is one audit record of a lifecycle event.
type HistoryEntry struct {
	TenantID   string       `json:"tenantId"`
	Event      HistoryEvent `json:"event"`
	Plan       Plan         `json:"plan"`
	OccurredAt time.Time    `json:"occurredAt"`
	ExpiresAt  time.Time    `json:"expiresAt,omitempty"`
}
