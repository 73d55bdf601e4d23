package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCFallbacks     *prometheus.CounterVec
	transactionsBroadcast  *prometheus.CounterVec
	walletSigningDuration  *prometheus.HistogramVec

	// Backend API Metrics
	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec
	verifyAttemptsTotal    *prometheus.CounterVec

	// Purchase Flow Metrics
	purchasesTotal        *prometheus.CounterVec
	purchaseDuration      *prometheus.HistogramVec
	purchaseStageDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_fallbacks_total",
				Help: "Total number of times the primary RPC endpoint failed and the fallback was dialed",
			},
			[]string{"primary_endpoint"},
		),
		transactionsBroadcast: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_transactions_broadcast_total",
				Help: "Total number of purchase transactions handed to a wallet for signing and broadcast",
			},
			[]string{"status"},
		),
		walletSigningDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_signing_duration_seconds",
				Help:    "Time spent waiting for the wallet to sign and send a transaction",
				Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90},
			},
			[]string{"status"},
		),

		// Backend API Metrics
		backendRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_requests_total",
				Help: "Total number of marketplace backend requests",
			},
			[]string{"endpoint", "status"},
		),
		backendRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_request_duration_seconds",
				Help:    "Duration of marketplace backend requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint"},
		),
		verifyAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verify_attempts_total",
				Help: "Total number of transaction verification attempts by result",
			},
			[]string{"result"},
		),

		// Purchase Flow Metrics
		purchasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchases_total",
				Help: "Total number of purchase attempts by outcome",
			},
			[]string{"outcome"},
		),
		purchaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "purchase_duration_seconds",
				Help:    "End-to-end duration of purchase attempts in seconds",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		purchaseStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "purchase_stage_duration_seconds",
				Help:    "Duration of each purchase stage in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCFallback records the primary endpoint being abandoned for the fallback.
func (m *Metrics) RecordRPCFallback(primaryEndpoint string) {
	m.solanaRPCFallbacks.WithLabelValues(primaryEndpoint).Inc()
}

// RecordSigning records a wallet sign-and-send call with its outcome.
func (m *Metrics) RecordSigning(status string, duration float64) {
	m.transactionsBroadcast.WithLabelValues(status).Inc()
	m.walletSigningDuration.WithLabelValues(status).Observe(duration)
}

// Backend metric helpers

// RecordBackendRequest records a marketplace backend request.
// A statusCode of 0 means the request never got a response.
func (m *Metrics) RecordBackendRequest(endpoint string, statusCode int, duration float64) {
	m.backendRequestsTotal.WithLabelValues(endpoint, statusCodeToString(statusCode)).Inc()
	m.backendRequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordVerifyAttempt records one verification attempt ("ok", "rejected", "connection_error").
func (m *Metrics) RecordVerifyAttempt(result string) {
	m.verifyAttemptsTotal.WithLabelValues(result).Inc()
}

// Purchase metric helpers

// RecordPurchase records a finished purchase attempt.
func (m *Metrics) RecordPurchase(outcome string, duration float64) {
	m.purchasesTotal.WithLabelValues(outcome).Inc()
	m.purchaseDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordStageDuration records how long one purchase stage took.
func (m *Metrics) RecordStageDuration(stage string, duration time.Duration) {
	m.purchaseStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code == 0:
		return "no_response"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
