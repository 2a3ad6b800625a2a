package fleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tenants table if it doesn't exist. The partial unique
// index enforces one live tenant per credential at the database level.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			tenant_id       VARCHAR(40) PRIMARY KEY,
			credential      VARCHAR(128) NOT NULL,
			owner_id        VARCHAR(40) NOT NULL,
			storage_locator TEXT NOT NULL,
			feature_flags   JSONB NOT NULL DEFAULT '{}',
			quota_mode      VARCHAR(20) NOT NULL DEFAULT 'command_limit',
			status          VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_live_credential
			ON tenants(credential) WHERE status != 'deactivated';
		CREATE INDEX IF NOT EXISTS idx_tenants_owner ON tenants(owner_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	flags, err := json.Marshal(t.FeatureFlags)
	if err != nil {
		return fmt.Errorf("marshal feature flags: %w", err)
	}
	if t.FeatureFlags == nil {
		flags = []byte("{}")
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tenants (
			tenant_id, credential, owner_id, storage_locator,
			feature_flags, quota_mode, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		t.ID, t.Credential, t.OwnerID, t.StorageLocator,
		flags, t.QuotaMode, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrCredentialInUse
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, credential, owner_id, storage_locator,
			feature_flags, quota_mode, status, created_at, updated_at
		FROM tenants WHERE tenant_id = $1
	`, tenantID)
	return scanTenant(row)
}

func (p *PostgresStore) GetByCredential(ctx context.Context, credential string) (*Tenant, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, credential, owner_id, storage_locator,
			feature_flags, quota_mode, status, created_at, updated_at
		FROM tenants WHERE credential = $1 AND status != 'deactivated'
	`, credential)
	return scanTenant(row)
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	flags, err := json.Marshal(t.FeatureFlags)
	if err != nil {
		return fmt.Errorf("marshal feature flags: %w", err)
	}
	if t.FeatureFlags == nil {
		flags = []byte("{}")
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET
			credential      = $2,
			owner_id        = $3,
			storage_locator = $4,
			feature_flags   = $5,
			quota_mode      = $6,
			status          = $7,
			updated_at      = $8
		WHERE tenant_id = $1
	`,
		t.ID, t.Credential, t.OwnerID, t.StorageLocator,
		flags, t.QuotaMode, string(t.Status), t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
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

func (p *PostgresStore) Delete(ctx context.Context, tenantID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM tenants WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tenant_id, credential, owner_id, storage_locator,
			feature_flags, quota_mode, status, created_at, updated_at
		FROM tenants ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row scannable) (*Tenant, error) {
	var t Tenant
	var status string
	var flags []byte

	err := row.Scan(&t.ID, &t.Credential, &t.OwnerID, &t.StorageLocator,
		&flags, &t.QuotaMode, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}

	t.Status = Status(status)
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &t.FeatureFlags); err != nil {
			return nil, fmt.Errorf("unmarshal feature flags: %w", err)
		}
	}
	if t.FeatureFlags == nil {
		t.FeatureFlags = make(map[string]bool)
	}
	return &t, nil
}
