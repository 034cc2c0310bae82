// Package metrics provides Prometheus metrics for the bot runtime.
// It tracks API traffic, retries, throttle behavior, token churn, and
// generator progress.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const (
	Namespace = "mwbot"
)

var (
	// APIRequestsTotal counts action-API calls by site, action and status
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_requests_total",
		Help:      "Total action-API requests by site, action and status",
	}, []string{"site", "action", "status"})

	// APILatency measures action-API call latency by site and action
	APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "api_latency_seconds",
		Help:      "Action-API call latency by site and action",
		Buckets:   prometheus.DefBuckets,
	}, []string{"site", "action"})

	// APIErrors counts action-API errors by error code
	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_errors_total",
		Help:      "Action-API errors by site, action and error code",
	}, []string{"site", "action", "error_code"})

	// APIRetries counts transient-failure retries
	APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_retries_total",
		Help:      "Retry count by site and action",
	}, []string{"site", "action"})

	// ThrottleWaits counts requests that slept on the per-site throttle
	ThrottleWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "throttle_waits_total",
		Help:      "Requests that waited on the per-site throttle",
	}, []string{"site"})

	// ThrottleDelay tracks the current per-site dispatch interval
	ThrottleDelay = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "throttle_delay_seconds",
		Help:      "Current minimum dispatch interval per site",
	}, []string{"site"})

	// LagReports counts server lag signals that widened the throttle
	LagReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "lag_reports_total",
		Help:      "Server lag signals received per site",
	}, []string{"site"})

	// TokenRefreshes counts action-token refreshes after rejection
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "token_refreshes_total",
		Help:      "Action-token refreshes by site and token kind",
	}, []string{"site", "kind"})

	// AuthFailures counts authentication failures
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "auth_failures_total",
		Help:      "Authentication failure count by site and reason",
	}, []string{"site", "reason"})

	// Logins counts completed login flows
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "logins_total",
		Help:      "Completed login flows by site and status",
	}, []string{"site", "status"})

	// ContinuationPages counts continuation batches consumed per module
	ContinuationPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "continuation_pages_total",
		Help:      "Continuation batches fetched by site and query module",
	}, []string{"site", "module"})

	// PreloadBatches counts secondary content fetches issued by preloading
	PreloadBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "preload_batches_total",
		Help:      "Batched content fetches issued by the preloader",
	}, []string{"site"})

	// EditOperations counts write operations by type
	EditOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "edit_operations_total",
		Help:      "Edit operations by site, operation and status",
	}, []string{"site", "operation", "status"})

	// ContentSize tracks page content sizes processed
	ContentSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "content_size_bytes",
		Help:      "Page content size distribution in bytes",
		Buckets:   []float64{100, 1000, 10000, 50000, 100000, 250000, 500000, 1000000},
	}, []string{"operation"})
)

// RecordAPICall records one completed action-API call
func RecordAPICall(site, action string, duration float64, success bool, errorCode string) {
	status := "success"
	if !success {
		status = "error"
	}
	APIRequestsTotal.WithLabelValues(site, action, status).Inc()
	APILatency.WithLabelValues(site, action).Observe(duration)
	if errorCode != "" {
		APIErrors.WithLabelValues(site, action, errorCode).Inc()
	}
}

// RecordRetry records one transient-failure retry
func RecordRetry(site, action string) {
	APIRetries.WithLabelValues(site, action).Inc()
}

// RecordThrottleWait records a request that slept on the throttle
func RecordThrottleWait(site string) {
	ThrottleWaits.WithLabelValues(site).Inc()
}

// SetThrottleDelay updates the current dispatch-interval gauge
func SetThrottleDelay(site string, seconds float64) {
	ThrottleDelay.WithLabelValues(site).Set(seconds)
}

// RecordLagReport records a server lag signal
func RecordLagReport(site string) {
	LagReports.WithLabelValues(site).Inc()
}

// RecordTokenRefresh records an action-token refresh after rejection
func RecordTokenRefresh(site, kind string) {
	TokenRefreshes.WithLabelValues(site, kind).Inc()
}

// RecordAuthFailure records an authentication failure
func RecordAuthFailure(site, reason string) {
	AuthFailures.WithLabelValues(site, reason).Inc()
}

// RecordLogin records a completed login flow
func RecordLogin(site string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	Logins.WithLabelValues(site, status).Inc()
}

// RecordContinuationPage records one consumed continuation batch
func RecordContinuationPage(site, module string) {
	ContinuationPages.WithLabelValues(site, module).Inc()
}

// RecordPreloadBatch records one batched content fetch
func RecordPreloadBatch(site string) {
	PreloadBatches.WithLabelValues(site).Inc()
}

// RecordEdit records a write operation
func RecordEdit(site, operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	EditOperations.WithLabelValues(site, operation, status).Inc()
}
