package quota

import "context"

// Store persists quota state and grant tokens.
type Store interface {
	// GetState returns a user's quota state, or ErrNotFound if the user
	// has never been seen.
	GetState(ctx context.Context, tenantID, userID string) (*State, error)

	// SaveState upserts a user's quota state.
	SaveState(ctx context.Context, s *State) error

	CreateToken(ctx context.Context, t *GrantToken) error

	// GetToken returns a token record, or ErrTokenInvalid if unknown.
	GetToken(ctx context.Context, token string) (*GrantToken, error)

	// MarkTokenUsed atomically flips used from false to true. Returns
	// false if the token was already used, so concurrent redemptions of
	// the same token yield exactly one winner.
	MarkTokenUsed(ctx context.Context, token string) (bool, error)

	// TenantStats aggregates usage counters for the admin surface.
	TenantStats(ctx context.Context, tenantID string) (*Stats, error)
}
