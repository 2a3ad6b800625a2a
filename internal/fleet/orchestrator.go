package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/provikash/botfleet/internal/circuitbreaker"
	"github.com/provikash/botfleet/internal/clock"
	"github.com/provikash/botfleet/internal/idgen"
	"github.com/provikash/botfleet/internal/logging"
	"github.com/provikash/botfleet/internal/metrics"
	"github.com/provikash/botfleet/internal/quota"
	"github.com/provikash/botfleet/internal/retry"
	"github.com/provikash/botfleet/internal/subscription"
	"github.com/provikash/botfleet/internal/syncutil"
	"github.com/provikash/botfleet/internal/traces"
	"github.com/provikash/botfleet/internal/validation"
)

// Options tunes orchestrator behavior.
type Options struct {
	// ConnectTimeout bounds runtime connect and individual health probes.
	ConnectTimeout time.Duration

	// StopGrace is how long a closing runtime may finish in-flight work.
	StopGrace time.Duration

	// AdminIDs are platform-wide administrator user IDs.
	AdminIDs []string
}

// Orchestrator coordinates tenant lifecycle: create, activate, start, stop,
// restart. It owns the registry of live runtime handles and consults the
// subscription service before every launch.
type Orchestrator struct {
	store    Store
	subs     *subscription.Service
	factory  RuntimeFactory
	registry *Registry
	breaker  *circuitbreaker.Breaker
	locks    *syncutil.KeyedMutex
	clk      clock.Clock
	logger   *slog.Logger
	opts     Options

	// errMu guards errorState: tenants whose automatic health restart
	// failed and which now need manual intervention.
	errMu      sync.Mutex
	errorState map[string]string

	admins map[string]bool
}

// NewOrchestrator creates a fleet orchestrator.
func NewOrchestrator(store Store, subs *subscription.Service, factory RuntimeFactory,
	breaker *circuitbreaker.Breaker, clk clock.Clock, logger *slog.Logger, opts Options) *Orchestrator {

	admins := make(map[string]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}
	return &Orchestrator{
		store:      store,
		subs:       subs,
		factory:    factory,
		registry:   NewRegistry(),
		breaker:    breaker,
		locks:      syncutil.NewKeyedMutex(),
		clk:        clk,
		logger:     logger,
		opts:       opts,
		errorState: make(map[string]string),
		admins:     admins,
	}
}

// CreateParams carries everything needed to provision a tenant.
type CreateParams struct {
	Credential     string
	OwnerID        string
	StorageLocator string
	Plan           subscription.Plan
	QuotaMode      string
}

// Create provisions a new tenant and its pending subscription. Both records
// are written or neither is; a subscription write failure rolls the tenant
// record back.
func (o *Orchestrator) Create(ctx context.Context, p CreateParams) (*Tenant, error) {
	if !validation.IsValidCredential(p.Credential) {
		return nil, ErrInvalidCredential
	}
	if !validation.IsValidStorageLocator(p.StorageLocator) {
		return nil, ErrInvalidLocator
	}
	if !subscription.ValidPlan(p.Plan) {
		return nil, subscription.ErrUnknownPlan
	}
	if p.QuotaMode == "" {
		p.QuotaMode = string(quota.ModeCommandLimit)
	}
	if !quota.ValidMode(quota.Mode(p.QuotaMode)) {
		return nil, quota.ErrUnknownMode
	}

	if _, err := o.store.GetByCredential(ctx, p.Credential); err == nil {
		return nil, ErrCredentialInUse
	}

	now := o.clk.Now()
	tenant := &Tenant{
		ID:             idgen.WithPrefix("bot_"),
		Credential:     p.Credential,
		OwnerID:        p.OwnerID,
		StorageLocator: p.StorageLocator,
		FeatureFlags:   make(map[string]bool),
		QuotaMode:      p.QuotaMode,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := o.store.Create(ctx, tenant); err != nil {
		return nil, err
	}

	if err := o.subs.CreatePending(ctx, tenant.ID, p.Plan); err != nil {
		if delErr := o.store.Delete(ctx, tenant.ID); delErr != nil {
			o.logger.Error("failed to roll back tenant after subscription create failure",
				"tenant_id", tenant.ID, "error", delErr)
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	o.logger.Info("tenant created",
		"tenant_id", tenant.ID, "owner_id", tenant.OwnerID,
		"plan", p.Plan, "quota_mode", tenant.QuotaMode,
		"credential", logging.RedactCredential(p.Credential))
	return tenant, nil
}

// Activate records payment verification for the tenant's subscription.
func (o *Orchestrator) Activate(ctx context.Context, tenantID string) error {
	if _, err := o.store.Get(ctx, tenantID); err != nil {
		return err
	}
	return o.subs.Activate(ctx, tenantID)
}

// Start launches the tenant's runtime. Idempotent: a tenant already running
// healthy returns success immediately. Concurrent starts for one tenant are
// serialized; the second re-evaluates after the first finishes.
func (o *Orchestrator) Start(ctx context.Context, tenantID string) error {
	ctx, span := traces.StartSpan(ctx, "fleet.Start", traces.TenantAttr(tenantID))
	defer span.End()

	unlock, err := o.locks.Lock(ctx, tenantID)
	if err != nil {
		return err
	}
	defer unlock()

	if h := o.registry.Get(tenantID); h != nil {
		if h.Healthy() {
			return nil
		}
		// Stale unhealthy handle from a previous run; replace it.
		o.closeHandle(ctx, o.registry.Remove(tenantID), "unhealthy")
	}

	tenant, err := o.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.Status == StatusDeactivated {
		return ErrDeactivated
	}
	if err := o.subs.EnsureStartable(ctx, tenantID); err != nil {
		metrics.TenantStartsTotal.WithLabelValues("subscription_refused").Inc()
		return err
	}

	if !o.breaker.Allow(tenantID) {
		metrics.TenantStartsTotal.WithLabelValues("circuit_open").Inc()
		return ErrCircuitOpen
	}

	handle, err := o.connect(ctx, tenant)
	if err != nil {
		o.breaker.RecordFailure(tenantID)
		metrics.TenantStartsTotal.WithLabelValues("failure").Inc()
		return err
	}
	o.breaker.RecordSuccess(tenantID)

	if !o.registry.Insert(handle) {
		// Unreachable while the per-tenant lock is held; close rather
		// than leak the connection if it ever happens.
		o.closeHandle(ctx, handle, "duplicate")
		return nil
	}

	if tenant.Status != StatusActive {
		tenant.Status = StatusActive
		tenant.UpdatedAt = o.clk.Now()
		err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
			return o.store.Update(ctx, tenant)
		})
		if err != nil {
			// No partial observable state on failure: undo the launch.
			o.closeHandle(ctx, o.registry.Remove(tenantID), "persist_failed")
			metrics.TenantStartsTotal.WithLabelValues("failure").Inc()
			return fmt.Errorf("%w: persist tenant status: %v", ErrStorageUnavailable, err)
		}
	}

	o.clearErrorState(tenantID)
	metrics.TenantStartsTotal.WithLabelValues("success").Inc()
	o.logger.Info("tenant started", "tenant_id", tenantID)
	return nil
}

// connect dials the runtime and verifies it with one health probe. Nothing
// persisted changes on failure.
func (o *Orchestrator) connect(ctx context.Context, tenant *Tenant) (*Handle, error) {
	connectCtx, cancel := context.WithTimeout(ctx, o.opts.ConnectTimeout)
	defer cancel()

	rt, err := o.factory.Connect(connectCtx, tenant.Credential, tenant.StorageLocator)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrStorageUnavailable, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, o.opts.ConnectTimeout)
	defer cancel()

	if err := rt.HealthProbe(probeCtx); err != nil {
		_ = rt.Close(ctx, 0)
		return nil, fmt.Errorf("%w: start probe: %v", ErrStorageUnavailable, err)
	}

	return NewHandle(tenant.ID, rt, o.clk.Now()), nil
}

// Stop shuts down the tenant's runtime. Idempotent: stopping a non-running
// tenant succeeds. With deactivate the tenant record is retired too;
// otherwise the subscription stays valid and the tenant may start again.
func (o *Orchestrator) Stop(ctx context.Context, tenantID string, deactivate bool) error {
	reason := "requested"
	if deactivate {
		reason = "deactivated"
	}
	return o.stop(ctx, tenantID, deactivate, reason)
}

func (o *Orchestrator) stop(ctx context.Context, tenantID string, deactivate bool, reason string) error {
	ctx, span := traces.StartSpan(ctx, "fleet.Stop", traces.TenantAttr(tenantID))
	defer span.End()

	unlock, err := o.locks.Lock(ctx, tenantID)
	if err != nil {
		return err
	}
	defer unlock()

	if h := o.registry.Remove(tenantID); h != nil {
		o.closeHandle(ctx, h, reason)
		o.logger.Info("tenant stopped", "tenant_id", tenantID, "reason", reason)
	}

	if deactivate {
		tenant, err := o.store.Get(ctx, tenantID)
		if err != nil {
			return err
		}
		if tenant.Status != StatusDeactivated {
			tenant.Status = StatusDeactivated
			tenant.UpdatedAt = o.clk.Now()
			if err := o.store.Update(ctx, tenant); err != nil {
				return fmt.Errorf("persist deactivation: %w", err)
			}
		}
	}
	return nil
}

// Restart stops the tenant, clears its breaker history, and starts it
// again. Used for manual recovery after an error-state latch.
func (o *Orchestrator) Restart(ctx context.Context, tenantID string) error {
	if err := o.stop(ctx, tenantID, false, "restart"); err != nil {
		return err
	}
	o.breaker.Reset(tenantID)
	return o.Start(ctx, tenantID)
}

func (o *Orchestrator) closeHandle(ctx context.Context, h *Handle, reason string) {
	if h == nil {
		return
	}
	if err := h.Runtime.Close(ctx, o.opts.StopGrace); err != nil {
		o.logger.Warn("runtime close failed",
			"tenant_id", h.TenantID, "reason", reason, "error", err)
	}
	metrics.TenantStopsTotal.WithLabelValues(reason).Inc()
}

// IsRunning reports whether the tenant has a live handle.
func (o *Orchestrator) IsRunning(tenantID string) bool {
	return o.registry.Get(tenantID) != nil
}

// StopTenant stops an expired tenant. Satisfies subscription.TenantStopper.
func (o *Orchestrator) StopTenant(ctx context.Context, tenantID string) error {
	return o.stop(ctx, tenantID, false, "expired")
}

// IsAdmin reports whether the user administers the tenant: platform admins
// and the tenant's owner. Satisfies quota.AdminChecker.
func (o *Orchestrator) IsAdmin(ctx context.Context, tenantID, userID string) bool {
	if o.admins[userID] {
		return true
	}
	tenant, err := o.store.Get(ctx, tenantID)
	if err != nil {
		return false
	}
	return tenant.OwnerID == userID
}

// Get returns the tenant record.
func (o *Orchestrator) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	return o.store.Get(ctx, tenantID)
}

// List returns all tenant records.
func (o *Orchestrator) List(ctx context.Context) ([]*Tenant, error) {
	return o.store.List(ctx)
}

// SetFeatureFlag flips one named flag on the tenant.
func (o *Orchestrator) SetFeatureFlag(ctx context.Context, tenantID, flag string, enabled bool) (*Tenant, error) {
	unlock, err := o.locks.Lock(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tenant, err := o.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.FeatureFlags == nil {
		tenant.FeatureFlags = make(map[string]bool)
	}
	tenant.FeatureFlags[flag] = enabled
	tenant.UpdatedAt = o.clk.Now()

	if err := o.store.Update(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// RuntimeInfo describes a tenant's live runtime for the admin surface.
type RuntimeInfo struct {
	Running             bool      `json:"running"`
	Healthy             bool      `json:"healthy,omitempty"`
	StartedAt           time.Time `json:"startedAt,omitempty"`
	LastProbe           time.Time `json:"lastProbe,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures,omitempty"`
	ErrorState          string    `json:"errorState,omitempty"`
}

// Inspect reports the tenant's runtime state.
func (o *Orchestrator) Inspect(tenantID string) RuntimeInfo {
	info := RuntimeInfo{}
	if h := o.registry.Get(tenantID); h != nil {
		info.Running = true
		info.Healthy = h.Healthy()
		info.StartedAt = h.StartedAt
		info.LastProbe = h.LastProbe()
		info.ConsecutiveFailures = h.ConsecutiveFailures()
	}
	o.errMu.Lock()
	info.ErrorState = o.errorState[tenantID]
	o.errMu.Unlock()
	return info
}

// RunningCount returns how many tenants are live.
func (o *Orchestrator) RunningCount() int {
	return o.registry.Len()
}

// StopAll gracefully stops every running tenant. Used on shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) {
	for _, h := range o.registry.List() {
		if err := o.stop(ctx, h.TenantID, false, "shutdown"); err != nil {
			o.logger.Warn("failed to stop tenant on shutdown",
				"tenant_id", h.TenantID, "error", err)
		}
	}
}

func (o *Orchestrator) setErrorState(tenantID, msg string) {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	o.errorState[tenantID] = msg
	metrics.TenantsInErrorState.Set(float64(len(o.errorState)))
}

func (o *Orchestrator) clearErrorState(tenantID string) {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	delete(o.errorState, tenantID)
	metrics.TenantsInErrorState.Set(float64(len(o.errorState)))
}
