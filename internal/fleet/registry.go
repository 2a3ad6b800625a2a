package fleet

import (
	"sync"

	"github.com/provikash/botfleet/internal/metrics"
)

// Registry holds the live runtime handles. At most one handle per tenant
// exists at any instant; Insert refuses a duplicate rather than replacing
// it, so a racing start can never leak a connection.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates an empty handle registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Get returns the handle for a tenant, or nil if the tenant isn't running.
func (r *Registry) Get(tenantID string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[tenantID]
}

// Insert adds a handle. Returns false if the tenant already has one.
func (r *Registry) Insert(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[h.TenantID]; exists {
		return false
	}
	r.handles[h.TenantID] = h
	metrics.TenantsRunning.Set(float64(len(r.handles)))
	return true
}

// Remove deletes a tenant's handle and returns it, or nil if absent.
func (r *Registry) Remove(tenantID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[tenantID]
	if !ok {
		return nil
	}
	delete(r.handles, tenantID)
	metrics.TenantsRunning.Set(float64(len(r.handles)))
	return h
}

// List returns a snapshot of all live handles.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Len returns the number of running tenants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
