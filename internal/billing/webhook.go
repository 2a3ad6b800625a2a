// Package billing receives payment events from Stripe and turns them into
// subscription transitions. The fleet never talks to Stripe directly; the
// only signal it consumes is "payment verified" carried by these webhooks.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/provikash/botfleet/internal/subscription"
)

const maxPayloadBytes = 64 * 1024

// SubscriptionActivator applies payment outcomes to subscriptions.
// Implemented by subscription.Service.
type SubscriptionActivator interface {
	Activate(ctx context.Context, tenantID string) error
	Extend(ctx context.Context, tenantID string, plan subscription.Plan) (time.Time, error)
}

// WebhookHandler verifies and processes Stripe webhook deliveries.
type WebhookHandler struct {
	subs          SubscriptionActivator
	signingSecret string
	logger        *slog.Logger
}

// NewWebhookHandler creates a Stripe webhook handler.
func NewWebhookHandler(subs SubscriptionActivator, signingSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{subs: subs, signingSecret: signingSecret, logger: logger}
}

// HandleStripe handles POST /webhooks/stripe
//
// checkout.session.completed activates the pending subscription named in
// the session metadata; invoice.payment_succeeded extends an existing one.
// Stripe retries on non-2xx, so only processing failures return 5xx; an
// event we don't care about is acknowledged and dropped.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.signingSecret)
	if err != nil {
		h.logger.Warn("stripe webhook signature rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded":
		err = h.handleInvoicePaid(ctx, event)
	default:
		h.logger.Debug("ignoring stripe event", "type", event.Type)
	}

	if err != nil {
		h.logger.Error("stripe event processing failed",
			"type", event.Type, "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return err
	}

	tenantID := session.Metadata["tenant_id"]
	if tenantID == "" {
		h.logger.Warn("checkout session missing tenant_id metadata", "session", session.ID)
		return nil
	}

	err := h.subs.Activate(ctx, tenantID)
	if errors.Is(err, subscription.ErrNotPending) {
		// Stripe redelivered an event we already applied.
		h.logger.Info("subscription already activated", "tenant_id", tenantID)
		return nil
	}
	if err != nil {
		return err
	}

	h.logger.Info("subscription activated via stripe", "tenant_id", tenantID)
	return nil
}

func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return err
	}

	tenantID := invoice.Metadata["tenant_id"]
	plan := subscription.Plan(invoice.Metadata["plan"])
	if tenantID == "" || plan == "" {
		h.logger.Warn("invoice missing tenant_id or plan metadata", "invoice", invoice.ID)
		return nil
	}

	expiresAt, err := h.subs.Extend(ctx, tenantID, plan)
	if errors.Is(err, subscription.ErrUnknownPlan) {
		h.logger.Warn("invoice names unknown plan", "tenant_id", tenantID, "plan", plan)
		return nil
	}
	if err != nil {
		return err
	}

	h.logger.Info("subscription extended via stripe",
		"tenant_id", tenantID, "plan", plan, "expires_at", expiresAt)
	return nil
}
