// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	TransitionsTotal  *prometheus.CounterVec
	TransitionLatency *prometheus.HistogramVec
	RejectionsTotal   *prometheus.CounterVec
	ActionsLogged     *prometheus.CounterVec
	SlashedLamports   prometheus.Counter
	ReputationQueries prometheus.Counter
	VaultBalance      prometheus.Gauge
	ActiveAgents      prometheus.Gauge

	// Stream metrics
	StreamSubscribers  prometheus.Gauge
	StreamMessagesSent prometheus.Counter
	StreamDropped      prometheus.Counter

	// Indexer metrics
	EventsArchived    prometheus.Counter
	ArchiveLag        prometheus.Gauge
	LastArchivedEvent prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	DBConnections   *prometheus.GaugeVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Health metrics
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agent_rep"
	}

	return &Metrics{
		// Ledger metrics
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transitions_total",
			Help:      "Total number of state transitions by kind and status",
		}, []string{"kind", "status"}),
		TransitionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transition_latency_seconds",
			Help:      "State transition latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		RejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rejections_total",
			Help:      "Total number of rejected transitions by kind and error",
		}, []string{"kind", "reason"}),
		ActionsLogged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "actions_logged_total",
			Help:      "Total number of actions logged by type and outcome",
		}, []string{"action_type", "outcome"}),
		SlashedLamports: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "slashed_lamports_total",
			Help:      "Total lamports moved from the stake vault to the treasury",
		}),
		ReputationQueries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reputation_queries_total",
			Help:      "Total number of reputation queries",
		}),
		VaultBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "vault_balance_lamports",
			Help:      "Current stake vault balance",
		}),
		ActiveAgents: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "active_agents",
			Help:      "Current number of active agents",
		}),

		// Stream metrics
		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Current number of websocket subscribers",
		}),
		StreamMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Total number of event messages written to subscribers",
		}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers_dropped_total",
			Help:      "Total number of subscribers dropped for falling behind",
		}),

		// Indexer metrics
		EventsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_archived_total",
			Help:      "Total number of events copied to the archive",
		}),
		ArchiveLag: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "lag_events",
			Help:      "Committed events not yet archived",
		}),
		LastArchivedEvent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "last_archived_sequence",
			Help:      "Sequence of the last archived event",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
		DBConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "connections",
			Help:      "Current number of database connections",
		}, []string{"database", "state"}),

		// API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"method", "route", "code"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		// Health metrics
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTransition records a transition outcome and latency.
// reason is empty on success.
func RecordTransition(kind, reason string, seconds float64) {
	status := "success"
	if reason != "" {
		status = "rejected"
		DefaultMetrics.RejectionsTotal.WithLabelValues(kind, reason).Inc()
	}
	DefaultMetrics.TransitionsTotal.WithLabelValues(kind, status).Inc()
	DefaultMetrics.TransitionLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordActionLogged increments the actions counter.
func RecordActionLogged(actionType, outcome string) {
	DefaultMetrics.ActionsLogged.WithLabelValues(actionType, outcome).Inc()
}

// RecordSlash adds slashed lamports.
func RecordSlash(amount uint64) {
	DefaultMetrics.SlashedLamports.Add(float64(amount))
}

// RecordReputationQuery increments the query counter.
func RecordReputationQuery() {
	DefaultMetrics.ReputationQueries.Inc()
}

// UpdateLedgerGauges sets the vault balance and active agent gauges.
func UpdateLedgerGauges(vaultBalance uint64, activeAgents int) {
	DefaultMetrics.VaultBalance.Set(float64(vaultBalance))
	DefaultMetrics.ActiveAgents.Set(float64(activeAgents))
}

// UpdateStreamSubscribers sets the subscriber gauge.
func UpdateStreamSubscribers(n int) {
	DefaultMetrics.StreamSubscribers.Set(float64(n))
}

// RecordStreamSent increments the sent message counter.
func RecordStreamSent() {
	DefaultMetrics.StreamMessagesSent.Inc()
}

// RecordStreamDropped increments the dropped subscriber counter.
func RecordStreamDropped() {
	DefaultMetrics.StreamDropped.Inc()
}

// RecordArchived records archived events and the indexer position.
func RecordArchived(count int, lastSequence, latestSequence int64) {
	DefaultMetrics.EventsArchived.Add(float64(count))
	DefaultMetrics.LastArchivedEvent.Set(float64(lastSequence))
	DefaultMetrics.ArchiveLag.Set(float64(latestSequence - lastSequence))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// UpdateDBConnections sets the connection gauge for a database.
func UpdateDBConnections(database string, acquired, idle int32) {
	DefaultMetrics.DBConnections.WithLabelValues(database, "acquired").Set(float64(acquired))
	DefaultMetrics.DBConnections.WithLabelValues(database, "idle").Set(float64(idle))
}

// RecordHTTPRequest records an API request against its route template.
func RecordHTTPRequest(method, route string, code int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	DefaultMetrics.HTTPLatency.WithLabelValues(method, route).Observe(seconds)
}

// AddUptime advances the uptime counter.
func AddUptime(seconds float64) {
	DefaultMetrics.UptimeSeconds.Add(seconds)
}
