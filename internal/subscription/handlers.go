package subscription

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handlers exposes subscription state over HTTP.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// GetSubscription handles GET /api/v1/tenants/:id/subscription
func (h *Handlers) GetSubscription(c *gin.Context) {
	sub, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get subscription"})
		return
	}

	resp := gin.H{
		"subscription": sub,
	}
	if sub.Status == StatusActive {
		resp["remaining"] = sub.Remaining(h.service.clk.Now()).String()
	}
	c.JSON(http.StatusOK, resp)
}

type extendRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// ExtendSubscription handles POST /api/v1/tenants/:id/subscription/extend
func (h *Handlers) ExtendSubscription(c *gin.Context) {
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan is required"})
		return
	}

	expiresAt, err := h.service.Extend(c.Request.Context(), c.Param("id"), Plan(req.Plan))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		case errors.Is(err, ErrUnknownPlan):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan"})
		case errors.Is(err, ErrNotActivated):
			c.JSON(http.StatusConflict, gin.H{"error": "subscription was never activated"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to extend subscription"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "extended",
		"plan":      req.Plan,
		"expiresAt": expiresAt,
	})
}

// GetHistory handles GET /api/v1/tenants/:id/subscription/history
func (h *Handlers) GetHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.service.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get history"})
		return
	}
	if entries == nil {
		entries = []*HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}
