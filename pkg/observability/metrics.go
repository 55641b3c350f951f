// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the agentbox gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ProvisionBuckets covers sandbox boot latencies, from sub-second container
// starts to slow cold provisioning.
var ProvisionBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120}

// RunBuckets covers agent run durations, from fast failures to runs that
// use most of a ten-minute budget.
var RunBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 900}

var (
	// PoolSize tracks the current number of warm sandboxes held by the pool.
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentbox_pool_size",
			Help: "Warm sandboxes currently pooled",
		},
	)

	// PoolTarget reports the configured warm pool target size.
	PoolTarget = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentbox_pool_target",
			Help: "Configured warm pool target",
		},
	)

	// SandboxProvisionTotal counts sandbox provisioning attempts by outcome.
	SandboxProvisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbox_sandbox_provision_total",
			Help: "Sandbox provisioning attempts",
		},
		[]string{"outcome"},
	)

	// SandboxProvisionDuration records sandbox provisioning latency in seconds.
	SandboxProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentbox_sandbox_provision_duration_seconds",
			Help:    "Sandbox provisioning latency",
			Buckets: ProvisionBuckets,
		},
	)

	// SandboxTerminateTotal counts sandbox terminations by reason
	// (failed, artifacts, released, expired, unhealthy, surplus, shutdown).
	SandboxTerminateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbox_sandbox_terminate_total",
			Help: "Sandbox terminations",
		},
		[]string{"reason"},
	)

	// RunsTotal counts agent runs by outcome (success, error, timeout).
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbox_run_total",
			Help: "Agent runs",
		},
		[]string{"outcome"},
	)

	// RunDuration records end-to-end agent run duration in seconds.
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentbox_run_duration_seconds",
			Help:    "Agent run duration",
			Buckets: RunBuckets,
		},
	)

	// RunRetriesTotal counts agent steps retried after an execution timeout.
	RunRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbox_run_retries_total",
			Help: "Agent run retries",
		},
	)

	// SandboxSecondsTotal accumulates billable sandbox time across runs.
	SandboxSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentbox_sandbox_seconds_total",
			Help: "Billable sandbox seconds",
		},
	)

	// RequestsTotal counts HTTP requests by method, route, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbox_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentbox_request_duration_seconds",
			Help:    "Request duration",
			Buckets: RunBuckets,
		},
		[]string{"method", "path"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentbox_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentbox_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		PoolSize,
		PoolTarget,
		SandboxProvisionTotal,
		SandboxProvisionDuration,
		SandboxTerminateTotal,
		RunsTotal,
		RunDuration,
		RunRetriesTotal,
		SandboxSecondsTotal,
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		RateLimitRejectedTotal,
	)
}
