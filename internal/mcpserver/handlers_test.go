package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewFleetClient(Config{APIURL: ts.URL, AdminSecret: "test-secret"})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func TestClientSendsAdminSecret(t *testing.T) {
	var gotSecret string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Admin-Secret")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewFleetClient(Config{APIURL: ts.URL, AdminSecret: "hunter2"})
	_, err := client.ListTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", gotSecret)
}

func TestClientSurfacesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad admin secret"})
	}))
	defer ts.Close()

	client := NewFleetClient(Config{APIURL: ts.URL, AdminSecret: "wrong"})
	_, err := client.ListTenants(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad admin secret")
}

func TestHandleGetTenant(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tenants/bot_abc", r.URL.Path)
		_, _ = w.Write([]byte(`{"tenant": {"id": "bot_abc", "status": "active"}}`))
	}))
	defer cleanup()

	result, err := h.HandleGetTenant(context.Background(), makeRequest(map[string]any{
		"tenant_id": "bot_abc",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.True(t, strings.Contains(resultText(t, result), "bot_abc"))
}

func TestHandleGetTenantMissingID(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer cleanup()

	result, err := h.HandleGetTenant(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleStopTenantDeactivate(t *testing.T) {
	var gotPath string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		_, _ = w.Write([]byte(`{"status": "deactivated"}`))
	}))
	defer cleanup()

	result, err := h.HandleStopTenant(context.Background(), makeRequest(map[string]any{
		"tenant_id":  "bot_abc",
		"deactivate": "true",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "/api/v1/tenants/bot_abc/stop?deactivate=true", gotPath)
}

func TestHandleGrantPremiumValidatesTokens(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer cleanup()

	result, err := h.HandleGrantPremium(context.Background(), makeRequest(map[string]any{
		"tenant_id": "bot_abc",
		"user_id":   "42",
		"tokens":    "lots",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
