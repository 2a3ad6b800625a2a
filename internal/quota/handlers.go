package quota

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/provikash/botfleet/internal/validation"
)

// Handlers exposes the quota engine over HTTP.
type Handlers struct {
	engine *Engine
}

func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// CheckQuota handles GET /api/v1/tenants/:id/quota/:userId
func (h *Handlers) CheckQuota(c *gin.Context) {
	userID := c.Param("userId")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	d, err := h.engine.Check(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota check failed"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// ConsumeQuota handles POST /api/v1/tenants/:id/quota/:userId/consume
func (h *Handlers) ConsumeQuota(c *gin.Context) {
	userID := c.Param("userId")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	d, err := h.engine.Consume(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota consume failed"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// IssueGrant handles POST /api/v1/tenants/:id/quota/:userId/grants
func (h *Handlers) IssueGrant(c *gin.Context) {
	userID := c.Param("userId")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	token, err := h.engine.IssueGrant(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue grant"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":     token.Token,
		"type":      token.Type,
		"expiresAt": token.ExpiresAt,
	})
}

type redeemRequest struct {
	Token  string `json:"token" binding:"required"`
	UserID string `json:"userId" binding:"required"`
}

// RedeemGrant handles POST /api/v1/grants/redeem
func (h *Handlers) RedeemGrant(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and userId are required"})
		return
	}

	d, err := h.engine.Redeem(c.Request.Context(), req.Token, req.UserID)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "token invalid"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to redeem grant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "redeemed", "quota": d})
}

type premiumRequest struct {
	Tokens int `json:"tokens" binding:"required"`
}

// GrantPremium handles POST /api/v1/tenants/:id/quota/:userId/premium
func (h *Handlers) GrantPremium(c *gin.Context) {
	userID := c.Param("userId")
	if !validation.IsValidUserID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req premiumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tokens is required"})
		return
	}
	if req.Tokens != UnlimitedTokens && req.Tokens <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tokens must be positive or -1 for unlimited"})
		return
	}

	state, err := h.engine.GrantPremium(c.Request.Context(), c.Param("id"), userID, req.Tokens)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to grant premium"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted", "state": state})
}

// GetStats handles GET /api/v1/tenants/:id/quota/stats
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.engine.TenantStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get quota stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
