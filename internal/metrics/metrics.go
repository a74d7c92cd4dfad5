// Package metrics defines all Prometheus metrics for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Watcher metrics
var (
	// WatcherEventsTotal counts normalized change records emitted by the watcher, by kind
	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_events_total",
			Help: "Change records emitted by the watcher, by kind",
		},
		[]string{"kind"},
	)

	// WatcherCoalescedTotal counts raw events absorbed by the debounce window
	WatcherCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watcher_coalesced_events_total",
			Help: "Raw filesystem events coalesced away by debouncing",
		},
	)

	// WatcherActiveWatches tracks the number of directories under watch
	WatcherActiveWatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watcher_active_watches",
			Help: "Number of directories currently being watched",
		},
	)

	// WatcherRewatchAttemptsTotal counts watch re-establishment attempts after errors
	WatcherRewatchAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watcher_rewatch_attempts_total",
			Help: "Watch re-establishment attempts after transient errors",
		},
	)
)

// Hub metrics
var (
	// HubSubscribers tracks the number of registered subscribers
	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_subscribers",
			Help: "Number of currently registered subscribers",
		},
	)

	// HubPublishedTotal counts records published through the hub
	HubPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_published_records_total",
			Help: "Total records published through the hub",
		},
	)

	// HubDroppedTotal counts records dropped from slow subscriber queues
	HubDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_dropped_records_total",
			Help: "Records evicted from slow subscriber queues",
		},
	)

	// HubGapMarkersTotal counts gap markers delivered to subscribers
	HubGapMarkersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_gap_markers_total",
			Help: "Gap markers delivered to subscribers",
		},
	)
)

// Stream session metrics
var (
	// StreamConnectionsCurrent tracks active stream connections by transport (sse/ws)
	StreamConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_connections_current",
			Help: "Active stream connections by transport",
		},
		[]string{"transport"},
	)

	// StreamConnectionsTotal counts accepted stream connections by transport
	StreamConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_connections_total",
			Help: "Total accepted stream connections by transport",
		},
		[]string{"transport"},
	)

	// StreamRecordsWrittenTotal counts records written to clients by transport
	StreamRecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_records_written_total",
			Help: "Records written to stream clients by transport",
		},
		[]string{"transport"},
	)

	// StreamHeartbeatsTotal counts heartbeat frames sent
	StreamHeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_heartbeats_total",
			Help: "Heartbeat frames sent to stream clients",
		},
	)

	// StreamConnectionDuration observes how long stream connections last
	StreamConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stream_connection_duration_seconds",
			Help:    "Stream connection duration in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
		},
	)

	// StreamRejectionsTotal counts connections rejected by the limiter, by reason
	StreamRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_rejections_total",
			Help: "Stream connections rejected by the connection limiter, by reason",
		},
		[]string{"reason"},
	)
)

// Catalog metrics
var (
	// CatalogFiles tracks the number of files currently tracked under the watch root
	CatalogFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_files",
			Help: "Files currently tracked under the watch root",
		},
	)
)
