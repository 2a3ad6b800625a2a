// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/provikash/botfleet/internal/billing"
	"github.com/provikash/botfleet/internal/botapi"
	"github.com/provikash/botfleet/internal/circuitbreaker"
	"github.com/provikash/botfleet/internal/clock"
	"github.com/provikash/botfleet/internal/config"
	"github.com/provikash/botfleet/internal/fleet"
	"github.com/provikash/botfleet/internal/health"
	"github.com/provikash/botfleet/internal/logging"
	"github.com/provikash/botfleet/internal/metrics"
	"github.com/provikash/botfleet/internal/quota"
	"github.com/provikash/botfleet/internal/ratelimit"
	"github.com/provikash/botfleet/internal/subscription"
	"github.com/provikash/botfleet/internal/validation"
)

// Connect failures trip the per-tenant breaker after this many attempts,
// holding further dials off for the open window.
const (
	breakerThreshold    = 5
	breakerOpenDuration = 30 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg    *config.Config
	store  fleet.Store
	subs   *subscription.Service
	orch   *fleet.Orchestrator
	engine *quota.Engine

	subSweeper    *subscription.Sweeper
	healthSweeper *fleet.HealthSweeper

	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	clk         clock.Clock
	factory     fleet.RuntimeFactory

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRuntimeFactory sets a custom runtime factory (for testing)
func WithRuntimeFactory(f fleet.RuntimeFactory) Option {
	return func(s *Server) {
		s.factory = f
	}
}

// WithClock sets a custom clock (for testing)
func WithClock(clk clock.Clock) Option {
	return func(s *Server) {
		s.clk = clk
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		clk:    clock.Real{},
	}

	// Apply options first (may set factory/clock/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	var subStore subscription.Store
	var quotaStore quota.Store

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		tenantStore := fleet.NewPostgresStore(db)
		if err := tenantStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate tenant store", "error", err)
		}
		s.store = tenantStore

		pgSubs := subscription.NewPostgresStore(db)
		if err := pgSubs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate subscription store", "error", err)
		}
		subStore = pgSubs

		pgQuota := quota.NewPostgresStore(db)
		if err := pgQuota.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate quota store", "error", err)
		}
		quotaStore = pgQuota
	} else {
		s.store = fleet.NewMemoryStore()
		subStore = subscription.NewMemoryStore()
		quotaStore = quota.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.subs = subscription.NewService(subStore, s.clk, s.logger)

	// Runtime factory dials the bot platform gateway unless one was injected
	if s.factory == nil {
		s.factory = botapi.NewFactory(cfg.GatewayURL, s.logger)
	}

	breaker := circuitbreaker.New(breakerThreshold, breakerOpenDuration)
	s.orch = fleet.NewOrchestrator(s.store, s.subs, s.factory, breaker, s.clk, s.logger, fleet.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		StopGrace:      cfg.StopGrace,
		AdminIDs:       cfg.AdminIDs,
	})

	quotaCfg := &tenantConfigProvider{
		store: s.store,
		defaults: quota.TenantConfig{
			Mode:          quota.ModeCommandLimit,
			CommandLimit:  cfg.CommandLimit,
			GrantDuration: cfg.GrantDuration,
			TokenTTL:      cfg.TokenTTL,
		},
	}
	s.engine = quota.NewEngine(quotaStore, quotaCfg, s.orch, s.clk, s.logger)

	// Background sweepers: subscription expiry and runtime health
	s.subSweeper = subscription.NewSweeper(s.subs, s.orch, cfg.SweepInterval, s.logger)
	s.healthSweeper = fleet.NewHealthSweeper(s.orch, cfg.HealthInterval, cfg.FailureThreshold, s.logger)

	// Health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", health.DBChecker(s.db))
	}
	s.checks.Register("fleet", func(ctx context.Context) health.Status {
		return health.Status{
			Name:    "fleet",
			Healthy: true,
			Detail:  fmt.Sprintf("%d running", s.orch.RunningCount()),
		}
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// tenantConfigProvider resolves per-tenant quota configuration: the tenant
// record fixes the mode, platform defaults supply the numbers.
type tenantConfigProvider struct {
	store    fleet.Store
	defaults quota.TenantConfig
}

func (p *tenantConfigProvider) QuotaConfig(ctx context.Context, tenantID string) (quota.TenantConfig, error) {
	tenant, err := p.store.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, fleet.ErrNotFound) {
			return quota.TenantConfig{}, quota.ErrNotFound
		}
		return quota.TenantConfig{}, err
	}

	cfg := p.defaults
	if quota.ValidMode(quota.Mode(tenant.QuotaMode)) {
		cfg.Mode = quota.Mode(tenant.QuotaMode)
	}
	return cfg, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.FromContext(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
		})
	}))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithLogger(c.Request.Context(), s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.FromContext(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminAuthMiddleware guards the operator surface with the shared admin
// secret. In development with no secret configured the check is skipped so
// local setups work out of the box.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "admin API not configured",
			})
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "bad admin secret",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Billing webhooks (signature-verified, no admin auth)
	if s.cfg.StripeWebhookSecret != "" {
		webhookHandler := billing.NewWebhookHandler(s.subs, s.cfg.StripeWebhookSecret, s.logger)
		s.router.POST("/webhooks/stripe", webhookHandler.HandleStripe)
		s.logger.Info("billing webhooks enabled")
	} else {
		s.logger.Warn("STRIPE_WEBHOOK_SECRET not set, billing webhooks disabled")
	}

	fleetHandler := fleet.NewHandlers(s.orch)
	subHandler := subscription.NewHandlers(s.subs)
	quotaHandler := quota.NewHandlers(s.engine)

	api := s.router.Group("/api/v1")

	// RUNTIME-FACING ROUTES (called by tenant runtimes on behalf of end users)
	api.GET("/tenants/:id/quota/:userId", quotaHandler.CheckQuota)
	api.POST("/tenants/:id/quota/:userId/consume", quotaHandler.ConsumeQuota)
	api.POST("/tenants/:id/quota/:userId/grants", quotaHandler.IssueGrant)
	api.POST("/grants/redeem", quotaHandler.RedeemGrant)

	// PUBLIC READS
	api.GET("/tenants/:id/subscription", subHandler.GetSubscription)

	// OPERATOR ROUTES (require X-Admin-Secret)
	admin := api.Group("")
	admin.Use(s.adminAuthMiddleware())
	{
		admin.POST("/tenants", fleetHandler.CreateTenant)
		admin.GET("/tenants", fleetHandler.ListTenants)
		admin.GET("/tenants/:id", fleetHandler.GetTenant)
		admin.POST("/tenants/:id/activate", fleetHandler.ActivateTenant)
		admin.POST("/tenants/:id/start", fleetHandler.StartTenant)
		admin.POST("/tenants/:id/stop", fleetHandler.StopTenant)
		admin.POST("/tenants/:id/restart", fleetHandler.RestartTenant)
		admin.PUT("/tenants/:id/flags", fleetHandler.SetFeatureFlag)

		admin.POST("/tenants/:id/subscription/extend", subHandler.ExtendSubscription)
		admin.GET("/tenants/:id/subscription/history", subHandler.GetHistory)

		admin.GET("/tenants/:id/quota/stats", quotaHandler.GetStats)
		admin.POST("/tenants/:id/quota/:userId/premium", quotaHandler.GrantPremium)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Running   int             `json:"running"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Running:   s.orch.RunningCount(),
		Checks:    statuses,
		Timestamp: s.clk.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start expiry and health sweepers
	go s.subSweeper.Start(runCtx)
	go s.healthSweeper.Start(runCtx)

	// Export connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (sweepers, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.subSweeper.Stop()
	s.healthSweeper.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close every live runtime before the HTTP listener goes away
	s.orch.StopAll(ctx)

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err)
			return err
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine (for tests)
func (s *Server) Router() http.Handler {
	return s.router
}
