// Package fleet hosts many independent bot tenants in one process.
//
// The orchestrator starts and stops per-tenant runtime connections, keeps
// the in-memory registry of live handles, and gates every launch on the
// tenant's subscription. Start and stop for one tenant are serialized;
// different tenants never block each other.
package fleet

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound           = errors.New("fleet: tenant not found")
	ErrCredentialInUse    = errors.New("fleet: credential already maps to a tenant")
	ErrInvalidCredential  = errors.New("fleet: malformed credential")
	ErrInvalidLocator     = errors.New("fleet: malformed storage locator")
	ErrDeactivated        = errors.New("fleet: tenant deactivated")
	ErrStorageUnavailable = errors.New("fleet: runtime storage unavailable")
	ErrCircuitOpen        = errors.New("fleet: runtime circuit open, try later")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusSuspended   Status = "suspended"
	StatusDeactivated Status = "deactivated"
)

// Tenant is one hosted bot instance. Created once, mutated only through
// orchestrator operations, never deleted (deactivation keeps the record for
// renewal and audit).
type Tenant struct {
	ID string `json:"id"`

	// Credential is the tenant's platform credential. Never logged in
	// full; see logging.RedactCredential.
	Credential string `json:"-"`

	OwnerID string `json:"ownerId"`

	// StorageLocator is the connection descriptor for the tenant's
	// isolated data store.
	StorageLocator string `json:"-"`

	FeatureFlags map[string]bool `json:"featureFlags"`

	// QuotaMode fixes how this tenant rations end-user usage. One of
	// quota.ModeCommandLimit or quota.ModeTimeBased.
	QuotaMode string `json:"quotaMode"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CloneFlags returns a copy of the feature flag map, never nil.
func (t *Tenant) CloneFlags() map[string]bool {
	out := make(map[string]bool, len(t.FeatureFlags))
	for k, v := range t.FeatureFlags {
		out[k] = v
	}
	return out
}
