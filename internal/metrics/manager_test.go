package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveUpstream(t *testing.T) {
	m, _ := NewTestManagerAndRegistry()

	m.ObserveUpstream("athlete/activities", 200, 120*time.Millisecond)
	m.ObserveUpstream("athlete/activities", 200, 80*time.Millisecond)
	m.ObserveUpstream("athlete/activities", 0, time.Second)
	m.ObserveRetry("athlete/activities")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterUpstreamRequests.WithLabelValues("athlete/activities", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterUpstreamRequests.WithLabelValues("athlete/activities", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterUpstreamRetries.WithLabelValues("athlete/activities")))
}

func TestRecorder(t *testing.T) {
	m, reg := NewTestManagerAndRegistry()

	m.CacheLookup("stats", true)
	m.CacheLookup("stats", false)
	m.CacheLookup("stats", false)
	m.HistorySweep(3, 450, false)
	m.HistorySweep(100, 20000, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterCacheLookups.WithLabelValues("stats", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterCacheLookups.WithLabelValues("stats", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterTruncatedSweeps))

	n, err := testutil.GatherAndCount(reg, "strava_stats_test_server_history_sweep_iterations")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
