package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetQueueDepth("g1", 2, 5)
	m.RequestFinished("claude", "succeeded")
	m.RequestFinished("claude", "succeeded")
	m.StageFailed("sync")
	m.CleanupFailed()
	m.ObserveProcess("git", "ok", 150*time.Millisecond)
	m.ObserveSync("main", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueRunning.WithLabelValues("g1")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.QueuePending.WithLabelValues("g1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("claude", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("sync")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanupFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["actuarius_process_duration_seconds"])
	assert.True(t, names["actuarius_sync_duration_seconds"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetQueueDepth("g", 1, 1)
		m.RequestFinished("claude", "failed")
		m.StageFailed("agent")
		m.CleanupFailed()
		m.ObserveProcess("claude", "timeout", time.Second)
		m.ObserveSync("master", time.Second)
	})
}
