package fleet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/provikash/botfleet/internal/subscription"
)

// Handlers exposes tenant lifecycle over HTTP.
type Handlers struct {
	orch *Orchestrator
}

func NewHandlers(orch *Orchestrator) *Handlers {
	return &Handlers{orch: orch}
}

type createTenantRequest struct {
	Credential     string `json:"credential" binding:"required"`
	OwnerID        string `json:"ownerId" binding:"required"`
	StorageLocator string `json:"storageLocator" binding:"required"`
	Plan           string `json:"plan" binding:"required"`
	QuotaMode      string `json:"quotaMode"`
}

// CreateTenant handles POST /api/v1/tenants
func (h *Handlers) CreateTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential, ownerId, storageLocator and plan are required"})
		return
	}

	tenant, err := h.orch.Create(c.Request.Context(), CreateParams{
		Credential:     req.Credential,
		OwnerID:        req.OwnerID,
		StorageLocator: req.StorageLocator,
		Plan:           subscription.Plan(req.Plan),
		QuotaMode:      req.QuotaMode,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredential),
			errors.Is(err, ErrInvalidLocator),
			errors.Is(err, subscription.ErrUnknownPlan):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrCredentialInUse):
			c.JSON(http.StatusConflict, gin.H{"error": "credential already in use"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create tenant"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tenant": tenant})
}

// GetTenant handles GET /api/v1/tenants/:id
func (h *Handlers) GetTenant(c *gin.Context) {
	tenant, err := h.orch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get tenant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant":  tenant,
		"runtime": h.orch.Inspect(tenant.ID),
	})
}

// ListTenants handles GET /api/v1/tenants
func (h *Handlers) ListTenants(c *gin.Context) {
	tenants, err := h.orch.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tenants"})
		return
	}
	if tenants == nil {
		tenants = []*Tenant{}
	}
	c.JSON(http.StatusOK, gin.H{
		"tenants": tenants,
		"count":   len(tenants),
		"running": h.orch.RunningCount(),
	})
}

// ActivateTenant handles POST /api/v1/tenants/:id/activate
func (h *Handlers) ActivateTenant(c *gin.Context) {
	err := h.orch.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, subscription.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		case errors.Is(err, subscription.ErrNotPending):
			c.JSON(http.StatusConflict, gin.H{"error": "subscription is not awaiting payment"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to activate tenant"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "activated"})
}

// StartTenant handles POST /api/v1/tenants/:id/start
func (h *Handlers) StartTenant(c *gin.Context) {
	err := h.orch.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		case errors.Is(err, ErrDeactivated):
			c.JSON(http.StatusConflict, gin.H{"error": "tenant is deactivated"})
		case errors.Is(err, subscription.ErrNotActivated),
			errors.Is(err, subscription.ErrExpired):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		case errors.Is(err, ErrCircuitOpen):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runtime connections failing, try later"})
		case errors.Is(err, ErrStorageUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runtime unavailable, try later"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start tenant"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// StopTenant handles POST /api/v1/tenants/:id/stop?deactivate=true
func (h *Handlers) StopTenant(c *gin.Context) {
	deactivate, _ := strconv.ParseBool(c.DefaultQuery("deactivate", "false"))

	err := h.orch.Stop(c.Request.Context(), c.Param("id"), deactivate)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop tenant"})
		return
	}

	status := "stopped"
	if deactivate {
		status = "deactivated"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// RestartTenant handles POST /api/v1/tenants/:id/restart
func (h *Handlers) RestartTenant(c *gin.Context) {
	err := h.orch.Restart(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		case errors.Is(err, subscription.ErrNotActivated),
			errors.Is(err, subscription.ErrExpired):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrCircuitOpen):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runtime unavailable, try later"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to restart tenant"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

type featureFlagRequest struct {
	Flag    string `json:"flag" binding:"required"`
	Enabled *bool  `json:"enabled" binding:"required"`
}

// SetFeatureFlag handles PUT /api/v1/tenants/:id/flags
func (h *Handlers) SetFeatureFlag(c *gin.Context) {
	var req featureFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flag and enabled are required"})
		return
	}

	tenant, err := h.orch.SetFeatureFlag(c.Request.Context(), c.Param("id"), req.Flag, *req.Enabled)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set feature flag"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": tenant})
}
