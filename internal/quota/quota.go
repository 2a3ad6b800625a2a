// Package quota implements per-end-user usage rationing inside each tenant.
//
// A tenant is configured with exactly one mode: command_limit rations a
// fixed number of commands, time_based rations access windows. Users earn
// fresh quota by redeeming single-use grant tokens, and premium users carry
// a token balance (or unlimited access) that bypasses the free tier.
package quota

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound     = errors.New("quota: state not found")
	ErrTokenInvalid = errors.New("quota: token invalid")
	ErrUnknownMode  = errors.New("quota: unknown mode")
)

// Mode selects how a tenant rations free-tier usage. Fixed per tenant;
// every user's state within a tenant uses the tenant's mode.
type Mode string

const (
	ModeCommandLimit Mode = "command_limit"
	ModeTimeBased    Mode = "time_based"
)

// ValidMode returns true if the mode is recognised.
func ValidMode(m Mode) bool {
	return m == ModeCommandLimit || m == ModeTimeBased
}

// UnlimitedTokens marks a premium balance with no cap.
const UnlimitedTokens = -1

// Reason explains a check decision.
type Reason string

const (
	ReasonAdmin            Reason = "admin"
	ReasonUnlimited        Reason = "unlimited"
	ReasonPremium          Reason = "premium"
	ReasonPremiumExhausted Reason = "premium_exhausted"
	ReasonQuotaAvailable   Reason = "quota_available"
	ReasonQuotaExceeded    Reason = "quota_exceeded"
	ReasonWindowActive     Reason = "window_active"
	ReasonWindowExpired    Reason = "window_expired"
)

// Unlimited is the Remaining value when no cap applies.
const Unlimited = -1

// Decision is the outcome of a quota check. Remaining is mode-dependent:
// commands left for command_limit, whole hours left for time_based, token
// balance for premium, Unlimited when no cap applies.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Reason    Reason `json:"reason"`
}

// State holds one user's usage counters within a tenant. Created lazily on
// first check, never deleted; grants reset or extend it in place.
type State struct {
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`
	Mode     Mode   `json:"mode"`

	// UsageCount is the commands consumed in command_limit mode.
	UsageCount int `json:"usageCount"`

	// WindowExpiresAt bounds the access window in time_based mode.
	WindowExpiresAt time.Time `json:"windowExpiresAt,omitempty"`

	// Premium marks a user who has been granted premium tokens; a fresh
	// free-tier user also has zero tokens but is not premium.
	Premium bool `json:"premium"`

	// PremiumTokens is the remaining premium balance. UnlimitedTokens
	// means no cap.
	PremiumTokens int `json:"premiumTokens"`

	LastReset time.Time `json:"lastReset,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GrantToken is a single-use credential. Redeeming it resets or extends the
// owner's quota; the record is kept, marked used, for audit.
type GrantToken struct {
	Token     string    `json:"token"`
	TenantID  string    `json:"tenantId"`
	UserID    string    `json:"userId"`
	Type      Mode      `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}

// TenantConfig fixes how one tenant rations usage.
type TenantConfig struct {
	Mode Mode

	// CommandLimit is the free-tier command cap (command_limit mode).
	CommandLimit int

	// GrantDuration is the access window applied on redemption
	// (time_based mode).
	GrantDuration time.Duration

	// TokenTTL bounds how long an issued grant token stays redeemable.
	TokenTTL time.Duration
}

// ConfigProvider resolves a tenant's quota configuration.
type ConfigProvider interface {
	QuotaConfig(ctx context.Context, tenantID string) (TenantConfig, error)
}

// AdminChecker reports whether a user administers a tenant. Admins bypass
// quota entirely.
type AdminChecker interface {
	IsAdmin(ctx context.Context, tenantID, userID string) bool
}

// Stats summarises a tenant's quota usage for the admin surface.
type Stats struct {
	TenantID      string `json:"tenantId"`
	Users         int    `json:"users"`
	PremiumUsers  int    `json:"premiumUsers"`
	TokensIssued  int    `json:"tokensIssued"`
	TokensRedeemed int   `json:"tokensRedeemed"`
}
