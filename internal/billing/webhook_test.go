package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provikash/botfleet/internal/subscription"
)

const testSecret = "whsec_test_secret"

type fakeActivator struct {
	activated   []string
	extended    []string
	activateErr error
}

func (f *fakeActivator) Activate(_ context.Context, tenantID string) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated = append(f.activated, tenantID)
	return nil
}

func (f *fakeActivator) Extend(_ context.Context, tenantID string, plan subscription.Plan) (time.Time, error) {
	if !subscription.ValidPlan(plan) {
		return time.Time{}, subscription.ErrUnknownPlan
	}
	f.extended = append(f.extended, tenantID+"/"+string(plan))
	return time.Now().Add(30 * 24 * time.Hour), nil
}

func signPayload(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func deliver(t *testing.T, h *WebhookHandler, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.POST("/webhooks/stripe", h.HandleStripe)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	act := &fakeActivator{}
	h := NewWebhookHandler(act, testSecret, slog.New(slog.DiscardHandler))

	payload := []byte(`{"type":"checkout.session.completed"}`)
	w := deliver(t, h, payload, "t=1,v1=deadbeef")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, act.activated)
}

func TestWebhookCheckoutCompletedActivates(t *testing.T) {
	act := &fakeActivator{}
	h := NewWebhookHandler(act, testSecret, slog.New(slog.DiscardHandler))

	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "metadata": {"tenant_id": "bot_abc"}}}
	}`)
	w := deliver(t, h, payload, signPayload(payload))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"bot_abc"}, act.activated)
}

func TestWebhookRedeliveryAcknowledged(t *testing.T) {
	act := &fakeActivator{activateErr: subscription.ErrNotPending}
	h := NewWebhookHandler(act, testSecret, slog.New(slog.DiscardHandler))

	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "metadata": {"tenant_id": "bot_abc"}}}
	}`)
	w := deliver(t, h, payload, signPayload(payload))

	// Already-applied events must not bounce: Stripe would retry forever.
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookInvoicePaidExtends(t *testing.T) {
	act := &fakeActivator{}
	h := NewWebhookHandler(act, testSecret, slog.New(slog.DiscardHandler))

	payload := []byte(`{
		"id": "evt_2",
		"type": "invoice.payment_succeeded",
		"data": {"object": {"id": "in_1", "metadata": {"tenant_id": "bot_abc", "plan": "quarterly"}}}
	}`)
	w := deliver(t, h, payload, signPayload(payload))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"bot_abc/quarterly"}, act.extended)
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	act := &fakeActivator{}
	h := NewWebhookHandler(act, testSecret, slog.New(slog.DiscardHandler))

	payload := []byte(`{"id": "evt_3", "type": "customer.created", "data": {"object": {}}}`)
	w := deliver(t, h, payload, signPayload(payload))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, act.activated)
	assert.Empty(t, act.extended)
}
