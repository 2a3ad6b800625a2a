package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/provikash/botfleet/internal/clock"
	"github.com/provikash/botfleet/internal/idgen"
	"github.com/provikash/botfleet/internal/metrics"
	"github.com/provikash/botfleet/internal/syncutil"
	"github.com/provikash/botfleet/internal/traces"
)

// Engine arbitrates per-(tenant, user) usage.
//
// Check, Consume, Redeem and GrantPremium for one (tenant, user) pair are
// serialized under a per-key lock so a single remaining unit of quota is
// won by exactly one concurrent caller. Different pairs never contend.
type Engine struct {
	store  Store
	cfg    ConfigProvider
	admin  AdminChecker
	clk    clock.Clock
	logger *slog.Logger

	userLocks  *syncutil.KeyedMutex
	tokenLocks syncutil.ShardedMutex
}

// NewEngine creates a quota engine.
func NewEngine(store Store, cfg ConfigProvider, admin AdminChecker, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		cfg:       cfg,
		admin:     admin,
		clk:       clk,
		logger:    logger,
		userLocks: syncutil.NewKeyedMutex(),
	}
}

func userKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// Check answers whether the user may perform one more action, without
// consuming anything. The user's state is created on first contact.
func (e *Engine) Check(ctx context.Context, tenantID, userID string) (Decision, error) {
	ctx, span := traces.StartSpan(ctx, "quota.Check", traces.TenantAttr(tenantID), traces.UserAttr(userID))
	defer span.End()

	if e.admin.IsAdmin(ctx, tenantID, userID) {
		metrics.QuotaChecksTotal.WithLabelValues(string(ReasonAdmin)).Inc()
		return Decision{Allowed: true, Remaining: Unlimited, Reason: ReasonAdmin}, nil
	}

	cfg, err := e.cfg.QuotaConfig(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("quota config: %w", err)
	}

	unlock, err := e.userLocks.Lock(ctx, userKey(tenantID, userID))
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	state, created, err := e.loadOrNew(ctx, cfg, tenantID, userID)
	if err != nil {
		return Decision{}, err
	}
	if created {
		if err := e.store.SaveState(ctx, state); err != nil {
			return Decision{}, fmt.Errorf("save quota state: %w", err)
		}
	}

	d := evaluate(cfg, state, e.clk.Now())
	metrics.QuotaChecksTotal.WithLabelValues(string(d.Reason)).Inc()
	return d, nil
}

// Consume re-checks and, if allowed, atomically spends one unit. The
// returned decision reflects the balance after the spend.
func (e *Engine) Consume(ctx context.Context, tenantID, userID string) (Decision, error) {
	ctx, span := traces.StartSpan(ctx, "quota.Consume", traces.TenantAttr(tenantID), traces.UserAttr(userID))
	defer span.End()

	if e.admin.IsAdmin(ctx, tenantID, userID) {
		metrics.QuotaConsumesTotal.WithLabelValues("allowed").Inc()
		return Decision{Allowed: true, Remaining: Unlimited, Reason: ReasonAdmin}, nil
	}

	cfg, err := e.cfg.QuotaConfig(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("quota config: %w", err)
	}

	unlock, err := e.userLocks.Lock(ctx, userKey(tenantID, userID))
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	state, created, err := e.loadOrNew(ctx, cfg, tenantID, userID)
	if err != nil {
		return Decision{}, err
	}

	now := e.clk.Now()
	d := evaluate(cfg, state, now)
	if !d.Allowed {
		if created {
			if err := e.store.SaveState(ctx, state); err != nil {
				return Decision{}, fmt.Errorf("save quota state: %w", err)
			}
		}
		metrics.QuotaConsumesTotal.WithLabelValues("denied").Inc()
		return d, nil
	}

	// Spend one unit. The time_based window and an unlimited premium
	// balance are not counters, so those leave state untouched.
	switch {
	case state.Premium && state.PremiumTokens == UnlimitedTokens:
	case state.Premium:
		state.PremiumTokens--
		d.Remaining = state.PremiumTokens
	case cfg.Mode == ModeCommandLimit:
		state.UsageCount++
		d.Remaining = cfg.CommandLimit - state.UsageCount
	}
	state.UpdatedAt = now

	if err := e.store.SaveState(ctx, state); err != nil {
		return Decision{}, fmt.Errorf("save quota state: %w", err)
	}

	metrics.QuotaConsumesTotal.WithLabelValues("allowed").Inc()
	return d, nil
}

// IssueGrant creates a single-use grant token for the user. The token has a
// short redemption window; the quota effect applies only on redemption.
func (e *Engine) IssueGrant(ctx context.Context, tenantID, userID string) (*GrantToken, error) {
	cfg, err := e.cfg.QuotaConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("quota config: %w", err)
	}

	now := e.clk.Now()
	token := &GrantToken{
		Token:     idgen.Token(),
		TenantID:  tenantID,
		UserID:    userID,
		Type:      cfg.Mode,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.TokenTTL),
	}
	if err := e.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("create grant token: %w", err)
	}

	metrics.GrantsIssuedTotal.Inc()
	e.logger.Info("grant token issued",
		"tenant_id", tenantID, "user_id", userID, "type", token.Type,
		"expires_at", token.ExpiresAt)
	return token, nil
}

// Redeem spends a grant token and applies its effect: command_limit resets
// the usage counter, time_based opens a fresh access window.
//
// Returns ErrTokenInvalid for an unknown, used, expired or foreign token.
// The used flip is a compare-and-set, so concurrent redemptions of one
// token yield exactly one success.
func (e *Engine) Redeem(ctx context.Context, token, userID string) (Decision, error) {
	ctx, span := traces.StartSpan(ctx, "quota.Redeem", traces.UserAttr(userID))
	defer span.End()

	unlockToken := e.tokenLocks.Lock(token)
	defer unlockToken()

	t, err := e.store.GetToken(ctx, token)
	if err != nil {
		metrics.GrantsRedeemedTotal.WithLabelValues("invalid").Inc()
		return Decision{}, err
	}

	now := e.clk.Now()
	if t.Used || t.UserID != userID || !t.ExpiresAt.After(now) {
		metrics.GrantsRedeemedTotal.WithLabelValues("invalid").Inc()
		return Decision{}, ErrTokenInvalid
	}

	applied, err := e.store.MarkTokenUsed(ctx, token)
	if err != nil {
		return Decision{}, fmt.Errorf("mark token used: %w", err)
	}
	if !applied {
		metrics.GrantsRedeemedTotal.WithLabelValues("invalid").Inc()
		return Decision{}, ErrTokenInvalid
	}

	cfg, err := e.cfg.QuotaConfig(ctx, t.TenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("quota config: %w", err)
	}

	// Token shard lock is held; user lock nests inside it. Consume takes
	// only the user lock, so the ordering cannot deadlock.
	unlock, err := e.userLocks.Lock(ctx, userKey(t.TenantID, userID))
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	state, _, err := e.loadOrNew(ctx, cfg, t.TenantID, userID)
	if err != nil {
		return Decision{}, err
	}

	switch t.Type {
	case ModeCommandLimit:
		state.UsageCount = 0
	case ModeTimeBased:
		state.WindowExpiresAt = now.Add(cfg.GrantDuration)
	default:
		return Decision{}, ErrUnknownMode
	}
	state.LastReset = now
	state.UpdatedAt = now

	if err := e.store.SaveState(ctx, state); err != nil {
		return Decision{}, fmt.Errorf("save quota state: %w", err)
	}

	metrics.GrantsRedeemedTotal.WithLabelValues("redeemed").Inc()
	e.logger.Info("grant token redeemed",
		"tenant_id", t.TenantID, "user_id", userID, "type", t.Type)
	return evaluate(cfg, state, now), nil
}

// GrantPremium credits premium tokens to a user. tokens may be
// UnlimitedTokens to remove the cap entirely; an unlimited balance is never
// downgraded by a further finite credit.
func (e *Engine) GrantPremium(ctx context.Context, tenantID, userID string, tokens int) (*State, error) {
	if tokens != UnlimitedTokens && tokens <= 0 {
		return nil, fmt.Errorf("quota: invalid premium token count %d", tokens)
	}

	cfg, err := e.cfg.QuotaConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("quota config: %w", err)
	}

	unlock, err := e.userLocks.Lock(ctx, userKey(tenantID, userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, _, err := e.loadOrNew(ctx, cfg, tenantID, userID)
	if err != nil {
		return nil, err
	}

	state.Premium = true
	switch {
	case tokens == UnlimitedTokens, state.PremiumTokens == UnlimitedTokens:
		state.PremiumTokens = UnlimitedTokens
	default:
		state.PremiumTokens += tokens
	}
	state.UpdatedAt = e.clk.Now()

	if err := e.store.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("save quota state: %w", err)
	}

	e.logger.Info("premium granted",
		"tenant_id", tenantID, "user_id", userID, "tokens", tokens)
	cp := *state
	return &cp, nil
}

// TenantStats summarises a tenant's quota usage.
func (e *Engine) TenantStats(ctx context.Context, tenantID string) (*Stats, error) {
	return e.store.TenantStats(ctx, tenantID)
}

// loadOrNew returns the user's state, building a fresh free-tier record if
// none exists. The caller holds the user lock.
func (e *Engine) loadOrNew(ctx context.Context, cfg TenantConfig, tenantID, userID string) (*State, bool, error) {
	state, err := e.store.GetState(ctx, tenantID, userID)
	if err == nil {
		// The tenant's mode is authoritative over what was stored.
		state.Mode = cfg.Mode
		return state, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("get quota state: %w", err)
	}

	now := e.clk.Now()
	return &State{
		TenantID:  tenantID,
		UserID:    userID,
		Mode:      cfg.Mode,
		UpdatedAt: now,
	}, true, nil
}

// evaluate applies the decision rules in strict priority order: premium
// balance first, then the tenant's free-tier mode.
func evaluate(cfg TenantConfig, s *State, now time.Time) Decision {
	if s.Premium {
		switch {
		case s.PremiumTokens == UnlimitedTokens:
			return Decision{Allowed: true, Remaining: Unlimited, Reason: ReasonUnlimited}
		case s.PremiumTokens > 0:
			return Decision{Allowed: true, Remaining: s.PremiumTokens, Reason: ReasonPremium}
		default:
			return Decision{Allowed: false, Remaining: 0, Reason: ReasonPremiumExhausted}
		}
	}

	switch cfg.Mode {
	case ModeCommandLimit:
		remaining := cfg.CommandLimit - s.UsageCount
		if remaining > 0 {
			return Decision{Allowed: true, Remaining: remaining, Reason: ReasonQuotaAvailable}
		}
		return Decision{Allowed: false, Remaining: 0, Reason: ReasonQuotaExceeded}
	default: // ModeTimeBased
		if s.WindowExpiresAt.After(now) {
			hours := int(math.Ceil(s.WindowExpiresAt.Sub(now).Hours()))
			return Decision{Allowed: true, Remaining: hours, Reason: ReasonWindowActive}
		}
		return Decision{Allowed: false, Remaining: 0, Reason: ReasonWindowExpired}
	}
}
