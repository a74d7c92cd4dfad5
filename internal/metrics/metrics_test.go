package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	// Verify all metrics are registered without name conflicts.
	metrics := []prometheus.Collector{
		WatcherEventsTotal,
		WatcherCoalescedTotal,
		WatcherActiveWatches,
		WatcherRewatchAttemptsTotal,

		HubSubscribers,
		HubPublishedTotal,
		HubDroppedTotal,
		HubGapMarkersTotal,

		StreamConnectionsCurrent,
		StreamConnectionsTotal,
		StreamRecordsWrittenTotal,
		StreamHeartbeatsTotal,
		StreamConnectionDuration,
		StreamRejectionsTotal,

		CatalogFiles,
	}

	for _, m := range metrics {
		require.NotNil(t, m)
	}
}

func TestCounterVecLabels(t *testing.T) {
	WatcherEventsTotal.WithLabelValues("created").Inc()
	value := testutil.ToFloat64(WatcherEventsTotal.WithLabelValues("created"))
	assert.GreaterOrEqual(t, value, 1.0)
}

func TestGaugeSetAndRead(t *testing.T) {
	HubSubscribers.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(HubSubscribers))
	HubSubscribers.Set(0)
}

func TestMetricNamesFollowConvention(t *testing.T) {
	// Counters end in _total, gauges do not.
	counterNames := []string{
		"watcher_events_total",
		"watcher_coalesced_events_total",
		"hub_published_records_total",
		"hub_dropped_records_total",
		"hub_gap_markers_total",
		"stream_heartbeats_total",
		"stream_rejections_total",
	}
	for _, name := range counterNames {
		assert.True(t, strings.HasSuffix(name, "_total"), name)
	}
}
