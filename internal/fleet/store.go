package fleet

import "context"

// Store persists tenant records.
type Store interface {
	Create(ctx context.Context, t *Tenant) error

	Get(ctx context.Context, tenantID string) (*Tenant, error)

	// GetByCredential returns the non-deactivated tenant bound to a
	// credential, or ErrNotFound. Deactivated tenants do not hold their
	// credential; the same bot may be recreated after deactivation.
	GetByCredential(ctx context.Context, credential string) (*Tenant, error)

	Update(ctx context.Context, t *Tenant) error

	// Delete removes a tenant record. Used only to roll back a failed
	// creation; lifecycle operations deactivate instead.
	Delete(ctx context.Context, tenantID string) error

	List(ctx context.Context) ([]*Tenant, error)
}
