package quota

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provikash/botfleet/internal/clock"
)

type staticConfig struct {
	cfg TenantConfig
}

func (s staticConfig) QuotaConfig(_ context.Context, _ string) (TenantConfig, error) {
	return s.cfg, nil
}

type staticAdmins struct {
	ids map[string]bool
}

func (s staticAdmins) IsAdmin(_ context.Context, _, userID string) bool {
	return s.ids[userID]
}

func commandLimitConfig(limit int) TenantConfig {
	return TenantConfig{
		Mode:          ModeCommandLimit,
		CommandLimit:  limit,
		GrantDuration: 24 * time.Hour,
		TokenTTL:      10 * time.Minute,
	}
}

func timeBasedConfig() TenantConfig {
	return TenantConfig{
		Mode:          ModeTimeBased,
		GrantDuration: 24 * time.Hour,
		TokenTTL:      10 * time.Minute,
	}
}

func newTestEngine(t *testing.T, cfg TenantConfig, admins ...string) (*Engine, *clock.Fake) {
	t.Helper()
	ids := make(map[string]bool)
	for _, id := range admins {
		ids[id] = true
	}
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	engine := NewEngine(
		NewMemoryStore(),
		staticConfig{cfg: cfg},
		staticAdmins{ids: ids},
		clk,
		slog.New(slog.DiscardHandler),
	)
	return engine, clk
}

func TestCheckAdminAlwaysAllowed(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(0), "900")
	ctx := context.Background()

	d, err := engine.Check(ctx, "tenant-1", "900")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, Unlimited, d.Remaining)
	assert.Equal(t, ReasonAdmin, d.Reason)

	// Consuming as admin never touches counters either.
	d, err = engine.Consume(ctx, "tenant-1", "900")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckFreshUserCommandLimit(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(3))

	d, err := engine.Check(context.Background(), "tenant-1", "42")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
	assert.Equal(t, ReasonQuotaAvailable, d.Reason)
}

func TestConsumeCommandLimit(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(3))
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		d, err := engine.Consume(ctx, "tenant-1", "42")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
	}

	d, err := engine.Consume(ctx, "tenant-1", "42")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)
}

func TestCheckFreshUserTimeBased(t *testing.T) {
	engine, _ := newTestEngine(t, timeBasedConfig())

	// No window yet: denied until a grant is redeemed.
	d, err := engine.Check(context.Background(), "tenant-1", "42")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWindowExpired, d.Reason)
}

func TestTimeBasedWindow(t *testing.T) {
	engine, clk := newTestEngine(t, timeBasedConfig())
	ctx := context.Background()

	token, err := engine.IssueGrant(ctx, "tenant-1", "42")
	require.NoError(t, err)

	_, err = engine.Redeem(ctx, token.Token, "42")
	require.NoError(t, err)

	d, err := engine.Check(ctx, "tenant-1", "42")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 24, d.Remaining)
	assert.Equal(t, ReasonWindowActive, d.Reason)

	// Consuming inside the window never decrements anything.
	for i := 0; i < 10; i++ {
		d, err = engine.Consume(ctx, "tenant-1", "42")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	clk.Advance(25 * time.Hour)
	d, err = engine.Check(ctx, "tenant-1", "42")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWindowExpired, d.Reason)
}

func TestPremiumTokens(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(3))
	ctx := context.Background()

	_, err := engine.GrantPremium(ctx, "tenant-1", "42", 2)
	require.NoError(t, err)

	d, err := engine.Consume(ctx, "tenant-1", "42")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, ReasonPremium, d.Reason)

	d, err = engine.Consume(ctx, "tenant-1", "42")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	// Exhausted premium does not fall back to the free tier.
	d, err = engine.Consume(ctx, "tenant-1", "42")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonPremiumExhausted, d.Reason)
}

func TestPremiumUnlimited(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(3))
	ctx := context.Background()

	_, err := engine.GrantPremium(ctx, "tenant-1", "42", UnlimitedTokens)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		d, err := engine.Consume(ctx, "tenant-1", "42")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, Unlimited, d.Remaining)
		assert.Equal(t, ReasonUnlimited, d.Reason)
	}
}

func TestGrantPremiumNeverDowngradesUnlimited(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(3))
	ctx := context.Background()

	_, err := engine.GrantPremium(ctx, "tenant-1", "42", UnlimitedTokens)
	require.NoError(t, err)

	state, err := engine.GrantPremium(ctx, "tenant-1", "42", 5)
	require.NoError(t, err)
	assert.Equal(t, UnlimitedTokens, state.PremiumTokens)
}

func TestGrantPremiumInvalidCount(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(3))

	_, err := engine.GrantPremium(context.Background(), "tenant-1", "42", 0)
	assert.Error(t, err)
	_, err = engine.GrantPremium(context.Background(), "tenant-1", "42", -5)
	assert.Error(t, err)
}

func TestRedeemResetsUsage(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := engine.Consume(ctx, "tenant-1", "42")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	token, err := engine.IssueGrant(ctx, "tenant-1", "42")
	require.NoError(t, err)

	d, err := engine.Redeem(ctx, token.Token, "42")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestRedeemInvalidTokens(t *testing.T) {
	engine, clk := newTestEngine(t, commandLimitConfig(3))
	ctx := context.Background()

	_, err := engine.Redeem(ctx, "no-such-token", "42")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// Wrong owner.
	token, err := engine.IssueGrant(ctx, "tenant-1", "42")
	require.NoError(t, err)
	_, err = engine.Redeem(ctx, token.Token, "43")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// Second redemption of a spent token.
	_, err = engine.Redeem(ctx, token.Token, "42")
	require.NoError(t, err)
	_, err = engine.Redeem(ctx, token.Token, "42")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// Expired before redemption.
	token, err = engine.IssueGrant(ctx, "tenant-1", "42")
	require.NoError(t, err)
	clk.Advance(11 * time.Minute)
	_, err = engine.Redeem(ctx, token.Token, "42")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestConcurrentConsumeExactlyK(t *testing.T) {
	const limit = 3
	const callers = 20

	engine, _ := newTestEngine(t, commandLimitConfig(limit))
	ctx := context.Background()

	var successes atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := engine.Consume(ctx, "tenant-1", "42")
			if assert.NoError(t, err) && d.Allowed {
				successes.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(limit), successes.Load())
}

func TestConcurrentRedeemExactlyOne(t *testing.T) {
	const attempts = 16

	engine, _ := newTestEngine(t, commandLimitConfig(3))
	ctx := context.Background()

	token, err := engine.IssueGrant(ctx, "tenant-1", "42")
	require.NoError(t, err)

	var successes atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := engine.Redeem(ctx, token.Token, "42"); err == nil {
				successes.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestTenantStats(t *testing.T) {
	engine, _ := newTestEngine(t, commandLimitConfig(3))
	ctx := context.Background()

	_, err := engine.Check(ctx, "tenant-1", "1")
	require.NoError(t, err)
	_, err = engine.Check(ctx, "tenant-1", "2")
	require.NoError(t, err)
	_, err = engine.GrantPremium(ctx, "tenant-1", "2", 5)
	require.NoError(t, err)

	token, err := engine.IssueGrant(ctx, "tenant-1", "1")
	require.NoError(t, err)
	_, err = engine.IssueGrant(ctx, "tenant-1", "2")
	require.NoError(t, err)
	_, err = engine.Redeem(ctx, token.Token, "1")
	require.NoError(t, err)

	stats, err := engine.TenantStats(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.PremiumUsers)
	assert.Equal(t, 2, stats.TokensIssued)
	assert.Equal(t, 1, stats.TokensRedeemed)
}
