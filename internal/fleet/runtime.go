package fleet

import (
	"context"
	"sync"
	"time"
)

// TenantRuntime is the live connection for one started tenant. Backends
// vary (the production one speaks websockets to the bot gateway); the
// orchestrator only needs these two capabilities.
type TenantRuntime interface {
	// HealthProbe checks the connection end to end. An error means the
	// runtime is unhealthy; the caller decides what to do about it.
	HealthProbe(ctx context.Context) error

	// Close shuts the runtime down, allowing in-flight work up to grace
	// before force-closing.
	Close(ctx context.Context, grace time.Duration) error
}

// RuntimeFactory produces runtime connections for tenants.
type RuntimeFactory interface {
	Connect(ctx context.Context, credential, storageLocator string) (TenantRuntime, error)
}

// Handle pairs a tenant with its live runtime plus probe bookkeeping.
// In-memory only; created on successful start, destroyed on stop.
type Handle struct {
	TenantID  string
	Runtime   TenantRuntime
	StartedAt time.Time

	mu                  sync.Mutex
	lastProbe           time.Time
	healthy             bool
	consecutiveFailures int
}

// NewHandle creates a handle for a freshly connected runtime. The start
// probe already passed, so the handle begins healthy.
func NewHandle(tenantID string, rt TenantRuntime, now time.Time) *Handle {
	return &Handle{
		TenantID:  tenantID,
		Runtime:   rt,
		StartedAt: now,
		lastProbe: now,
		healthy:   true,
	}
}

// MarkProbe records a health probe outcome. Consecutive failures reset on
// any success.
func (h *Handle) MarkProbe(ok bool, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastProbe = at
	h.healthy = ok
	if ok {
		h.consecutiveFailures = 0
	} else {
		h.consecutiveFailures++
	}
}

// Healthy reports whether the last probe passed.
func (h *Handle) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// ConsecutiveFailures returns the current failed-probe streak.
func (h *Handle) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// LastProbe returns when the runtime was last probed.
func (h *Handle) LastProbe() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastProbe
}
