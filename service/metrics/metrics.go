package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRateLimitHits     *prometheus.CounterVec
	solanaRPCRetries           *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec

	// Transaction Cache Metrics
	transactionCacheLookupsTotal *prometheus.CounterVec

	// Activity Engine Metrics
	activityEventsTotal     *prometheus.CounterVec
	tokenAccountsDiscovered prometheus.Histogram
	signaturesSkippedTotal  *prometheus.CounterVec
	historyQueryDuration    *prometheus.HistogramVec
	historyQueriesTotal     *prometheus.CounterVec
	metadataLookupsTotal    *prometheus.CounterVec

	// Workflow Metrics
	refreshWorkflowDuration        *prometheus.HistogramVec
	refreshWorkflowExecutionsTotal *prometheus.CounterVec
	refreshActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

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
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures fetched per GetSignaturesForAddress call",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"endpoint"},
		),

		// Transaction Cache Metrics
		transactionCacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_cache_lookups_total",
				Help: "Total number of transaction cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		// Activity Engine Metrics
		activityEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_events_total",
				Help: "Total number of activity events emitted by component and kind",
			},
			[]string{"component", "kind"},
		),
		tokenAccountsDiscovered: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "activity_token_accounts_discovered",
				Help:    "Number of token accounts discovered per mint scan",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		signaturesSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_signatures_skipped_total",
				Help: "Total number of transactions skipped by the classifier",
			},
			[]string{"reason"},
		),
		historyQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_history_query_duration_seconds",
				Help:    "Duration of activity history queries in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		historyQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_history_queries_total",
				Help: "Total number of activity history queries",
			},
			[]string{"status"},
		),
		metadataLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_metadata_lookups_total",
				Help: "Total number of token metadata lookups by result",
			},
			[]string{"result"},
		),

		// Workflow Metrics
		refreshWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_workflow_duration_seconds",
				Help:    "Duration of mint refresh workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mint", "status"},
		),
		refreshWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_workflow_executions_total",
				Help: "Total number of mint refresh workflow executions",
			},
			[]string{"mint", "status"},
		),
		refreshActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_activity_duration_seconds",
				Help:    "Duration of mint refresh workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "mint"},
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

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"mint"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"mint", "event_type"},
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

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// Transaction cache metric helpers

// RecordTransactionCacheLookup records a cache lookup result ("hit" or "miss").
func (m *Metrics) RecordTransactionCacheLookup(result string) {
	m.transactionCacheLookupsTotal.WithLabelValues(result).Inc()
}

// Activity engine metric helpers

// RecordActivityEvents records events emitted by the scanner or classifier.
func (m *Metrics) RecordActivityEvents(component, kind string, count int) {
	m.activityEventsTotal.WithLabelValues(component, kind).Add(float64(count))
}

// RecordTokenAccountsDiscovered records the size of a scan's token account set.
func (m *Metrics) RecordTokenAccountsDiscovered(count int) {
	m.tokenAccountsDiscovered.Observe(float64(count))
}

// RecordSignatureSkipped records a transaction the classifier did not inspect.
func (m *Metrics) RecordSignatureSkipped(reason string) {
	m.signaturesSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordHistoryQuery records an activity history query with duration.
func (m *Metrics) RecordHistoryQuery(status string, duration float64) {
	m.historyQueryDuration.WithLabelValues(status).Observe(duration)
	m.historyQueriesTotal.WithLabelValues(status).Inc()
}

// RecordMetadataLookup records a token metadata lookup result.
func (m *Metrics) RecordMetadataLookup(result string) {
	m.metadataLookupsTotal.WithLabelValues(result).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(mint, status string, duration float64) {
	m.refreshWorkflowDuration.WithLabelValues(mint, status).Observe(duration)
	m.refreshWorkflowExecutionsTotal.WithLabelValues(mint, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, mint string, duration float64) {
	m.refreshActivityDuration.WithLabelValues(activity, mint).Observe(duration)
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

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(mint string, delta float64) {
	m.sseActiveConnections.WithLabelValues(mint).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(mint, eventType string) {
	m.sseEventsSent.WithLabelValues(mint, eventType).Inc()
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
