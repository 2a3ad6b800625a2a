package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provikash/botfleet/internal/config"
	"github.com/provikash/botfleet/internal/fleet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testAdminSecret = "test-admin-secret"
	testCredential  = "12345:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	testLocator     = "postgres://db.internal:5432/bot1"
)

// stubRuntime satisfies health probes without a gateway connection.
type stubRuntime struct{}

func (r *stubRuntime) HealthProbe(ctx context.Context) error            { return nil }
func (r *stubRuntime) Close(ctx context.Context, _ time.Duration) error { return nil }

type stubFactory struct{}

func (f *stubFactory) Connect(ctx context.Context, credential, storageLocator string) (fleet.TenantRuntime, error) {
	return &stubRuntime{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		GatewayURL:       "ws://gateway.test/ws",
		ConnectTimeout:   time.Second,
		StopGrace:        time.Second,
		HealthInterval:   time.Minute,
		FailureThreshold: 3,
		SweepInterval:    time.Minute,
		CommandLimit:     3,
		GrantDuration:    24 * time.Hour,
		TokenTTL:         10 * time.Minute,
		AdminSecret:      testAdminSecret,
		RateLimitRPM:     10000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithRuntimeFactory(&stubFactory{}))
	require.NoError(t, err)
	return s
}

type request struct {
	method string
	path   string
	body   any
	admin  bool
}

func (s *Server) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(r.body))
	}
	req := httptest.NewRequest(r.method, r.path, &buf)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.admin {
		req.Header.Set("X-Admin-Secret", testAdminSecret)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// createTenant provisions a tenant through the API and returns its ID.
func createTenant(t *testing.T, s *Server) string {
	t.Helper()
	w := s.do(t, request{method: "POST", path: "/api/v1/tenants", admin: true, body: gin.H{
		"credential":     testCredential,
		"ownerId":        "500",
		"storageLocator": testLocator,
		"plan":           "monthly",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode(t, w)
	tenant, ok := resp["tenant"].(map[string]any)
	require.True(t, ok)
	id, ok := tenant["id"].(string)
	require.True(t, ok)
	return id
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, request{method: "GET", path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = s.do(t, request{method: "GET", path: "/health/live"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Readiness flips only when Run has started
	w = s.do(t, request{method: "GET", path: "/health/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, request{method: "GET", path: "/metrics"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "botfleet_")
}

func TestAdminAuthRequired(t *testing.T) {
	s := newTestServer(t)

	// No secret header
	w := s.do(t, request{method: "GET", path: "/api/v1/tenants"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong secret
	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct secret
	w = s.do(t, request{method: "GET", path: "/api/v1/tenants", admin: true})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthSkippedInDevelopmentWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = ""
	s, err := New(cfg, WithRuntimeFactory(&stubFactory{}))
	require.NoError(t, err)

	w := s.do(t, request{method: "GET", path: "/api/v1/tenants"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTenantLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := createTenant(t, s)

	// Starting before activation is refused
	w := s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/start", admin: true})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/activate", admin: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/start", admin: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, s.orch.RunningCount())

	// Runtime state surfaces on the tenant read
	w = s.do(t, request{method: "GET", path: "/api/v1/tenants/" + id, admin: true})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/stop", admin: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, s.orch.RunningCount())
}

func TestSubscriptionRoutes(t *testing.T) {
	s := newTestServer(t)
	id := createTenant(t, s)

	w := s.do(t, request{method: "GET", path: "/api/v1/tenants/" + id + "/subscription"})
	require.Equal(t, http.StatusOK, w.Code)
	sub := decode(t, w)["subscription"].(map[string]any)
	assert.Equal(t, "pending", sub["status"])

	w = s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/activate", admin: true})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/subscription/extend",
		admin: true, body: gin.H{"plan": "quarterly"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, request{method: "GET", path: "/api/v1/tenants/" + id + "/subscription/history", admin: true})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestQuotaRoutes(t *testing.T) {
	s := newTestServer(t)
	id := createTenant(t, s)

	// Check does not consume
	w := s.do(t, request{method: "GET", path: "/api/v1/tenants/" + id + "/quota/777"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := decode(t, w)
	assert.Equal(t, true, q["allowed"])
	assert.Equal(t, float64(3), q["remaining"])

	// Consume burns the free tier down
	for i := 0; i < 3; i++ {
		w = s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/quota/777/consume"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w = s.do(t, request{method: "GET", path: "/api/v1/tenants/" + id + "/quota/777"})
	require.Equal(t, http.StatusOK, w.Code)
	q = decode(t, w)
	assert.Equal(t, false, q["allowed"])

	// Issue a grant and redeem it to restore access
	w = s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/quota/777/grants"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token := decode(t, w)["token"].(string)

	w = s.do(t, request{method: "POST", path: "/api/v1/grants/redeem",
		body: gin.H{"token": token, "userId": "777"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, request{method: "GET", path: "/api/v1/tenants/" + id + "/quota/777"})
	q = decode(t, w)
	assert.Equal(t, true, q["allowed"])
}

func TestQuotaStatsRouteIsStatic(t *testing.T) {
	s := newTestServer(t)
	id := createTenant(t, s)

	// "stats" must resolve to the stats handler, not a userId of "stats"
	w := s.do(t, request{method: "GET", path: "/api/v1/tenants/" + id + "/quota/stats", admin: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, id, decode(t, w)["tenantId"])
}

func TestPremiumGrantRoute(t *testing.T) {
	s := newTestServer(t)
	id := createTenant(t, s)

	w := s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/quota/777/premium",
		admin: true, body: gin.H{"tokens": 5}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, request{method: "GET", path: "/api/v1/tenants/" + id + "/quota/777"})
	q := decode(t, w)
	assert.Equal(t, true, q["allowed"])
	assert.Equal(t, "premium", q["reason"])
}

func TestUnknownTenantReturns404(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, request{method: "GET", path: "/api/v1/tenants/bot_missing", admin: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestShutdownStopsRunningTenants(t *testing.T) {
	s := newTestServer(t)
	id := createTenant(t, s)

	w := s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/activate", admin: true})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, request{method: "POST", path: "/api/v1/tenants/" + id + "/start", admin: true})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, s.orch.RunningCount())

	require.NoError(t, s.Shutdown())
	assert.Equal(t, 0, s.orch.RunningCount())
}
