// Package metrics provides Prometheus instrumentation for the fleet host.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botfleet",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botfleet",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TenantsRunning tracks the number of live tenant runtimes.
	TenantsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet",
		Name:      "tenants_running",
		Help:      "Number of tenant runtimes currently connected.",
	})

	// TenantStartsTotal counts tenant start attempts by result.
	TenantStartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet",
		Name:      "tenant_starts_total",
		Help:      "Total tenant start attempts by result.",
	}, []string{"result"})

	// TenantStopsTotal counts tenant stops by reason.
	TenantStopsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet",
		Name:      "tenant_stops_total",
		Help:      "Total tenant stops by reason.",
	}, []string{"reason"})

	// HealthProbesTotal counts runtime health probes by outcome.
	HealthProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet",
		Name:      "health_probes_total",
		Help:      "Total runtime health probes by outcome.",
	}, []string{"outcome"})

	// TenantsInErrorState tracks tenants parked for manual intervention.
	TenantsInErrorState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet",
		Name:      "tenants_error_state",
		Help:      "Number of tenants stopped after a failed restart cycle, awaiting manual intervention.",
	})

	// SubscriptionsExpiredTotal counts subscriptions moved to expired by the sweeper.
	SubscriptionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "botfleet",
		Name:      "subscriptions_expired_total",
		Help:      "Total subscriptions transitioned to expired by the sweeper.",
	})

	// SweepDuration observes subscription sweep duration.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "botfleet",
		Name:      "subscription_sweep_duration_seconds",
		Help:      "Duration of one subscription sweep pass in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	// QuotaChecksTotal counts quota checks by outcome.
	QuotaChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet",
		Name:      "quota_checks_total",
		Help:      "Total quota checks by outcome reason.",
	}, []string{"reason"})

	// QuotaConsumesTotal counts quota consumption attempts by result.
	QuotaConsumesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet",
		Name:      "quota_consumes_total",
		Help:      "Total quota consumption attempts by result.",
	}, []string{"result"})

	// GrantsIssuedTotal counts verification grant tokens issued.
	GrantsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "botfleet",
		Name:      "grants_issued_total",
		Help:      "Total verification grant tokens issued.",
	})

	// GrantsRedeemedTotal counts grant redemption attempts by result.
	GrantsRedeemedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botfleet",
		Name:      "grants_redeemed_total",
		Help:      "Total grant redemption attempts by result.",
	}, []string{"result"})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botfleet", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TenantsRunning,
		TenantStartsTotal,
		TenantStopsTotal,
		HealthProbesTotal,
		TenantsInErrorState,
		SubscriptionsExpiredTotal,
		SweepDuration,
		QuotaChecksTotal,
		QuotaConsumesTotal,
		GrantsIssuedTotal,
		GrantsRedeemedTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
