package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed quota store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the quota tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS quota_state (
			tenant_id         VARCHAR(40) NOT NULL,
			user_id           VARCHAR(40) NOT NULL,
			mode              VARCHAR(20) NOT NULL,
			usage_count       INTEGER NOT NULL DEFAULT 0,
			window_expires_at TIMESTAMPTZ,
			premium           BOOLEAN NOT NULL DEFAULT FALSE,
			premium_tokens    INTEGER NOT NULL DEFAULT 0,
			last_reset        TIMESTAMPTZ,
			updated_at        TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS grant_tokens (
			token      VARCHAR(64) PRIMARY KEY,
			tenant_id  VARCHAR(40) NOT NULL,
			user_id    VARCHAR(40) NOT NULL,
			type       VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			used       BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_grant_tokens_tenant
			ON grant_tokens(tenant_id);
	`)
	return err
}

func (p *PostgresStore) GetState(ctx context.Context, tenantID, userID string) (*State, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, user_id, mode, usage_count, window_expires_at,
			premium, premium_tokens, last_reset, updated_at
		FROM quota_state WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)

	var s State
	var mode string
	var windowExpires, lastReset sql.NullTime
	err := row.Scan(&s.TenantID, &s.UserID, &mode, &s.UsageCount,
		&windowExpires, &s.Premium, &s.PremiumTokens, &lastReset, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quota state: %w", err)
	}

	s.Mode = Mode(mode)
	if windowExpires.Valid {
		s.WindowExpiresAt = windowExpires.Time
	}
	if lastReset.Valid {
		s.LastReset = lastReset.Time
	}
	return &s, nil
}

func (p *PostgresStore) SaveState(ctx context.Context, s *State) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO quota_state (
			tenant_id, user_id, mode, usage_count, window_expires_at,
			premium, premium_tokens, last_reset, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			mode              = EXCLUDED.mode,
			usage_count       = EXCLUDED.usage_count,
			window_expires_at = EXCLUDED.window_expires_at,
			premium           = EXCLUDED.premium,
			premium_tokens    = EXCLUDED.premium_tokens,
			last_reset        = EXCLUDED.last_reset,
			updated_at        = EXCLUDED.updated_at
	`,
		s.TenantID, s.UserID, string(s.Mode), s.UsageCount,
		nullTime(s.WindowExpiresAt), s.Premium, s.PremiumTokens,
		nullTime(s.LastReset), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	return nil
}

func (p *PostgresStore) CreateToken(ctx context.Context, t *GrantToken) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO grant_tokens (token, tenant_id, user_id, type, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.Token, t.TenantID, t.UserID, string(t.Type), t.CreatedAt, t.ExpiresAt, t.Used)
	if err != nil {
		return fmt.Errorf("create grant token: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetToken(ctx context.Context, token string) (*GrantToken, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT token, tenant_id, user_id, type, created_at, expires_at, used
		FROM grant_tokens WHERE token = $1
	`, token)

	var t GrantToken
	var typ string
	err := row.Scan(&t.Token, &t.TenantID, &t.UserID, &typ,
		&t.CreatedAt, &t.ExpiresAt, &t.Used)
	if err == sql.ErrNoRows {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("get grant token: %w", err)
	}
	t.Type = Mode(typ)
	return &t, nil
}

// MarkTokenUsed flips used false→true. The WHERE clause makes it a
// compare-and-set; a second attempt affects zero rows.
func (p *PostgresStore) MarkTokenUsed(ctx context.Context, token string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE grant_tokens SET used = TRUE WHERE token = $1 AND used = FALSE
	`, token)
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

func (p *PostgresStore) TenantStats(ctx context.Context, tenantID string) (*Stats, error) {
	stats := &Stats{TenantID: tenantID}

	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE premium)
		FROM quota_state WHERE tenant_id = $1
	`, tenantID).Scan(&stats.Users, &stats.PremiumUsers)
	if err != nil {
		return nil, fmt.Errorf("quota stats: %w", err)
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE used)
		FROM grant_tokens WHERE tenant_id = $1
	`, tenantID).Scan(&stats.TokensIssued, &stats.TokensRedeemed)
	if err != nil {
		return nil, fmt.Errorf("token stats: %w", err)
	}
	return stats, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
