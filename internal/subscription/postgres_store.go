package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the subscriptions tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			tenant_id        VARCHAR(40) PRIMARY KEY,
			plan             VARCHAR(20) NOT NULL,
			price            VARCHAR(20) NOT NULL,
			started_at       TIMESTAMPTZ,
			expires_at       TIMESTAMPTZ,
			payment_verified BOOLEAN NOT NULL DEFAULT FALSE,
			status           VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_due
			ON subscriptions(expires_at) WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS subscription_history (
			id          BIGSERIAL PRIMARY KEY,
			tenant_id   VARCHAR(40) NOT NULL,
			event       VARCHAR(20) NOT NULL,
			plan        VARCHAR(20) NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_subscription_history_tenant
			ON subscription_history(tenant_id, occurred_at);
	`)
	return err
}

// Create inserts a new subscription record.
func (p *PostgresStore) Create(ctx context.Context, s *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			tenant_id, plan, price, started_at, expires_at,
			payment_verified, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		s.TenantID, string(s.Plan), s.Price,
		nullTimeOrValue(s.StartedAt), nullTimeOrValue(s.ExpiresAt),
		s.PaymentVerified, string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// Get retrieves the current subscription for a tenant.
func (p *PostgresStore) Get(ctx context.Context, tenantID string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, plan, price, started_at, expires_at,
			payment_verified, status, created_at, updated_at
		FROM subscriptions WHERE tenant_id = $1
	`, tenantID)

	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// Update modifies a subscription's mutable fields.
func (p *PostgresStore) Update(ctx context.Context, s *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			plan             = $2,
			price            = $3,
			started_at       = $4,
			expires_at       = $5,
			payment_verified = $6,
			status           = $7,
			updated_at       = $8
		WHERE tenant_id = $1
	`,
		s.TenantID, string(s.Plan), s.Price,
		nullTimeOrValue(s.StartedAt), nullTimeOrValue(s.ExpiresAt),
		s.PaymentVerified, string(s.Status), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a subscription record (rollback of a failed create only).
func (p *PostgresStore) Delete(ctx context.Context, tenantID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListDue returns active subscriptions whose expiry is at or before now.
func (p *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tenant_id, plan, price, started_at, expires_at,
			payment_verified, status, created_at, updated_at
		FROM subscriptions
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// MarkExpired transitions an active, due subscription to expired.
// The WHERE clause makes the transition a compare-and-set: a renewed or
// already-expired record is left untouched and reported as not applied.
func (p *PostgresStore) MarkExpired(ctx context.Context, tenantID string, now time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = $2
		WHERE tenant_id = $1 AND status = 'active' AND expires_at <= $2
	`, tenantID, now)
	if err != nil {
		return false, fmt.Errorf("mark expired: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// AppendHistory records a lifecycle event.
func (p *PostgresStore) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscription_history (tenant_id, event, plan, occurred_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.TenantID, string(e.Event), string(e.Plan), e.OccurredAt, nullTimeOrValue(e.ExpiresAt))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns recorded lifecycle events for a tenant, oldest first.
func (p *PostgresStore) History(ctx context.Context, tenantID string, limit int) ([]*HistoryEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tenant_id, event, plan, occurred_at, expires_at
		FROM subscription_history
		WHERE tenant_id = $1
		ORDER BY occurred_at LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var event, plan string
		var expiresAt sql.NullTime
		if err := rows.Scan(&e.TenantID, &event, &plan, &e.OccurredAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Event = HistoryEvent(event)
		e.Plan = Plan(plan)
		if expiresAt.Valid {
			e.ExpiresAt = expiresAt.Time
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scannable) (*Subscription, error) {
	var s Subscription
	var plan, status string
	var startedAt, expiresAt sql.NullTime

	err := row.Scan(
		&s.TenantID, &plan, &s.Price, &startedAt, &expiresAt,
		&s.PaymentVerified, &status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Plan = Plan(plan)
	s.Status = Status(status)
	if startedAt.Valid {
		s.StartedAt = startedAt.Time
	}
	if expiresAt.Valid {
		s.ExpiresAt = expiresAt.Time
	}
	return &s, nil
}

// nullTimeOrValue maps the zero time to SQL NULL.
func nullTimeOrValue(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
