// Package telemetry provides application-level observability for identity-sync.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and served by the
// side-channel HTTP server started in cmd/server:
//
//	GET http://<host>:<IDS_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not mounted on the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Identity reconciliation outcomes (login, logout, system sync, per-request authentication)
//   - Audit append and shipping counters
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
// The path label holds the Gin route template (e.g. /api/v1/admin/users/:id),
// never the raw URL.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Identity reconciliation metrics.
//
// IdentitySyncTotal is labelled {flow, result}. flow is one of login, logout, user,
// authenticate; result is ok, error or unresolved.
//
// Example PromQL:
//   - Login failure ratio: sum(rate(identity_sync_total{flow="login",result="error"}[5m])) / sum(rate(identity_sync_total{flow="login"}[5m]))
//
// IdentityReconcileConflictsTotal counts creates that lost the subject uniqueness race
// and were converted into a find-then-update. A steady non-zero rate means clients are
// sending duplicate first logins in parallel; it is not an error.
var (
	IdentitySyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_sync_total",
			Help: "Identity synchronisation attempts, by flow and result.",
		},
		[]string{"flow", "result"},
	)

	IdentityCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_created_total",
			Help: "Total number of local identities created from provider claims.",
		},
	)

	IdentityReconcileConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_reconcile_conflicts_total",
			Help: "Identity creates that hit the subject unique constraint and were retried as updates.",
		},
	)

	AuthenticationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authentication_failures_total",
			Help: "Rejected bearer authentications, by reason.",
		},
		[]string{"reason"},
	)
)

// Audit metrics.
//
// AuditRecordsTotal is labelled {event} and counts records durably appended.
// AuditShipErrorsTotal is labelled {shipper} and counts failed deliveries to
// secondary destinations (webhook, file). The database copy is unaffected by these.
var (
	AuditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Audit records appended, by event type.",
		},
		[]string{"event"},
	)

	AuditShipErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_ship_errors_total",
			Help: "Failed audit record deliveries to secondary shippers, by shipper.",
		},
		[]string{"shipper"},
	)
)

// DBOpenConnections tracks open connections held by the sql.DB pool. It is sampled
// every 30 seconds by StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples pool statistics every interval until ctx is cancelled.
// A failed ping stops the collector.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
