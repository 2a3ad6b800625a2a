package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provikash/botfleet/internal/testutil"
)

func TestPostgresStoreStateRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.GetState(ctx, "tenant-1", "42")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	state := &State{
		TenantID:      "tenant-1",
		UserID:        "42",
		Mode:          ModeCommandLimit,
		UsageCount:    2,
		Premium:       true,
		PremiumTokens: 5,
		UpdatedAt:     now,
	}
	require.NoError(t, store.SaveState(ctx, state))

	got, err := store.GetState(ctx, "tenant-1", "42")
	require.NoError(t, err)
	assert.Equal(t, ModeCommandLimit, got.Mode)
	assert.Equal(t, 2, got.UsageCount)
	assert.True(t, got.Premium)
	assert.Equal(t, 5, got.PremiumTokens)
	assert.True(t, got.WindowExpiresAt.IsZero())

	// Upsert overwrites in place.
	state.UsageCount = 0
	state.LastReset = now
	require.NoError(t, store.SaveState(ctx, state))

	got, err = store.GetState(ctx, "tenant-1", "42")
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsageCount)
	assert.False(t, got.LastReset.IsZero())
}

func TestPostgresStoreTokenSingleUse(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	token := &GrantToken{
		Token:     "tok-abc",
		TenantID:  "tenant-1",
		UserID:    "42",
		Type:      ModeTimeBased,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
	require.NoError(t, store.CreateToken(ctx, token))

	got, err := store.GetToken(ctx, "tok-abc")
	require.NoError(t, err)
	assert.False(t, got.Used)
	assert.Equal(t, ModeTimeBased, got.Type)

	applied, err := store.MarkTokenUsed(ctx, "tok-abc")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.MarkTokenUsed(ctx, "tok-abc")
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = store.GetToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestPostgresStoreTenantStats(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveState(ctx, &State{
		TenantID: "tenant-1", UserID: "1", Mode: ModeCommandLimit, UpdatedAt: now,
	}))
	require.NoError(t, store.SaveState(ctx, &State{
		TenantID: "tenant-1", UserID: "2", Mode: ModeCommandLimit,
		Premium: true, PremiumTokens: 3, UpdatedAt: now,
	}))
	require.NoError(t, store.SaveState(ctx, &State{
		TenantID: "tenant-2", UserID: "1", Mode: ModeTimeBased, UpdatedAt: now,
	}))

	require.NoError(t, store.CreateToken(ctx, &GrantToken{
		Token: "t1", TenantID: "tenant-1", UserID: "1", Type: ModeCommandLimit,
		CreatedAt: now, ExpiresAt: now.Add(time.Minute), Used: true,
	}))
	require.NoError(t, store.CreateToken(ctx, &GrantToken{
		Token: "t2", TenantID: "tenant-1", UserID: "2", Type: ModeCommandLimit,
		CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	}))

	stats, err := store.TenantStats(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.PremiumUsers)
	assert.Equal(t, 2, stats.TokensIssued)
	assert.Equal(t, 1, stats.TokensRedeemed)
}
