package metrics

import (
	"testing"
	"time"

	"cptrack/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OperationEnqueued("user_stats", models.PriorityHigh)
	m.OperationEnqueued("user_stats", models.PriorityHigh)
	m.OperationRetried("user_stats")
	m.OperationFailed("leaderboard")
	m.OperationCompleted("user_stats", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsEnqueued.WithLabelValues("user_stats", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsRetried.WithLabelValues("user_stats")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsFailed.WithLabelValues("leaderboard")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HandlerDuration))
}

func TestObserveStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveStatus(models.StatusSnapshot{IsOnline: true, IsSyncing: true, QueueSize: 4, FailedOperations: 1})
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailedOperations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Online))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Syncing))

	m.ObserveStatus(models.StatusSnapshot{})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Online))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueueSize))
}

func TestIncHTTP(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncHTTP("/status", 200)
	m.IncHTTP("/status", 200)
	m.IncHTTP("/status", 429)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/status", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/status", "429")))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
