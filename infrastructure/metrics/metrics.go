// Package metrics exposes the Prometheus instruments shared by the POS
// services. Collectors are registered once on the default registry; the
// /metrics endpoint is mounted by each service binary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by service, method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by service and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pos_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// EventsPublishedTotal counts events published by topic and outcome.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_events_published_total",
			Help: "Events published to the bus.",
		},
		[]string{"topic", "outcome"},
	)

	// EventsConsumedTotal counts events consumed by topic, consumer and outcome
	// (handled, duplicate, failed, dead_lettered).
	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_events_consumed_total",
			Help: "Events consumed from the bus.",
		},
		[]string{"topic", "consumer", "outcome"},
	)

	// WebSocketConnections gauges open sockets by tenant and store.
	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_websocket_connections",
			Help: "Currently open WebSocket connections.",
		},
		[]string{"tenant_id", "store_code"},
	)

	// StockAlertsTotal counts emitted stock alerts by type.
	StockAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_stock_alerts_total",
			Help: "Stock threshold alerts emitted.",
		},
		[]string{"alert_type"},
	)

	// SnapshotRunsTotal counts scheduler snapshot runs by outcome.
	SnapshotRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_snapshot_runs_total",
			Help: "Scheduled snapshot runs.",
		},
		[]string{"outcome"},
	)

	// CasConflictsTotal counts optimistic-concurrency conflicts by entity.
	CasConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_cas_conflicts_total",
			Help: "ETag compare-and-set conflicts observed.",
		},
		[]string{"entity"},
	)
)
