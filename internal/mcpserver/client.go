package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the configuration for connecting to the fleet host.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Admin API secret
}

// FleetClient is a pure HTTP client for the fleet host admin API.
type FleetClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewFleetClient creates a new client for the fleet host.
func NewFleetClient(cfg Config) *FleetClient {
	return &FleetClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the fleet host.
type apiError struct {
	Error string `json:"error"`
}

// doRequest makes an HTTP request to the fleet host and returns the
// response body.
func (c *FleetClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListTenants returns all tenants with their runtime state.
func (c *FleetClient) ListTenants(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/tenants", nil)
}

// GetTenant returns one tenant with its runtime state.
func (c *FleetClient) GetTenant(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/tenants/"+tenantID, nil)
}

// StartTenant launches a tenant's runtime.
func (c *FleetClient) StartTenant(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/v1/tenants/"+tenantID+"/start", nil)
}

// StopTenant stops a tenant's runtime, optionally deactivating it.
func (c *FleetClient) StopTenant(ctx context.Context, tenantID string, deactivate bool) (json.RawMessage, error) {
	path := "/api/v1/tenants/" + tenantID + "/stop"
	if deactivate {
		path += "?deactivate=true"
	}
	return c.doRequest(ctx, http.MethodPost, path, nil)
}

// RestartTenant stops and starts a tenant's runtime.
func (c *FleetClient) RestartTenant(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/v1/tenants/"+tenantID+"/restart", nil)
}

// GetSubscription returns a tenant's subscription with remaining time.
func (c *FleetClient) GetSubscription(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/tenants/"+tenantID+"/subscription", nil)
}

// CheckQuota returns a user's quota decision within a tenant.
func (c *FleetClient) CheckQuota(ctx context.Context, tenantID, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/tenants/"+tenantID+"/quota/"+userID, nil)
}

// GrantPremium credits premium tokens to a user.
func (c *FleetClient) GrantPremium(ctx context.Context, tenantID, userID string, tokens int) (json.RawMessage, error) {
	body := map[string]int{"tokens": tokens}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/tenants/"+tenantID+"/quota/"+userID+"/premium", body)
}

// QuotaStats returns a tenant's quota usage summary.
func (c *FleetClient) QuotaStats(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/tenants/"+tenantID+"/quota/stats", nil)
}
