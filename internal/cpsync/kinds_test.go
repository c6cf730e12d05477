package cpsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cptrack/internal/codeforces"
	"cptrack/internal/config"
	"cptrack/internal/database"
	"cptrack/internal/models"
	"cptrack/internal/syncqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind     string
	payload  models.Payload
	priority models.Priority
}

type recordingQueue struct {
	calls []call
}

func (q *recordingQueue) AddOperation(kind string, payload models.Payload, priority models.Priority) string {
	q.calls = append(q.calls, call{kind, payload, priority})
	return kind
}

func TestWrappers(t *testing.T) {
	q := &recordingQueue{}
	handles := []string{"a", "b"}

	SyncUserStats(q, "tourist")
	SyncContestData(q, "tourist")
	SyncProblemRecommendations(q, "tourist", 1200, 1600)
	SyncLeaderboard(q, "MIT", handles)
	SyncVerification(q, "tourist", "cp-1")
	handles[0] = "mutated"

	require.Len(t, q.calls, 5)
	assert.Equal(t, call{KindUserStats, models.Payload{"handle": "tourist"}, models.PriorityHigh}, q.calls[0])
	assert.Equal(t, models.PriorityMedium, q.calls[1].priority)
	assert.Equal(t, int64(1600), q.calls[2].payload.GetInt64("max_rating"))
	assert.Equal(t, models.PriorityLow, q.calls[3].priority)
	assert.Equal(t, []string{"a", "b"}, q.calls[3].payload.GetStrings("handles"))
	assert.Equal(t, "cp-1", q.calls[4].payload.GetString("token"))
	assert.Equal(t, models.PriorityHigh, q.calls[4].priority)
}

func TestWrappersThroughManager(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "cp.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	up := &fakeUpstream{users: map[string]codeforces.User{
		"tourist": {Handle: "tourist", Rating: 3800},
	}}
	m := syncqueue.NewManager(syncqueue.Options{Journal: db})
	NewHandlers(up, db, nil).Register(m)
	m.Start(context.Background())
	defer m.Stop()

	SyncUserStats(m, "tourist")
	SyncUserStats(m, "ghost")

	require.Eventually(t, func() bool {
		s := m.Status()
		return !s.IsSyncing && s.QueueSize == 0
	}, 2*time.Second, time.Millisecond)

	user, err := db.GetCPUser(context.Background(), "tourist")
	require.NoError(t, err)
	assert.Equal(t, int64(3800), user.Rating)

	failed := m.FailedOperations()
	require.Len(t, failed, 1)
	assert.Equal(t, "ghost", failed[0].Payload.GetString("handle"))
	assert.Equal(t, 1, failed[0].RetryCount)
}

func TestSlowUpstreamExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "cp.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	client := codeforces.NewClient(config.CodeforcesConfig{BaseURL: slow.URL, Timeout: 20 * time.Millisecond}, nil, nil)
	m := syncqueue.NewManager(syncqueue.Options{
		Policy: syncqueue.RetryPolicy{
			MaxRetries:    1,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		},
	})
	NewHandlers(client, db, nil).Register(m)
	m.Start(context.Background())
	defer m.Stop()

	SyncUserStats(m, "tourist")
	SyncUserStats(m, "petr")

	require.Eventually(t, func() bool {
		return len(m.FailedOperations()) == 2
	}, 5*time.Second, 5*time.Millisecond)

	s := m.Status()
	assert.True(t, s.IsOnline)
	assert.Zero(t, s.QueueSize)
	assert.Equal(t, int32(4), attempts.Load())
	for _, op := range m.FailedOperations() {
		assert.Equal(t, 2, op.RetryCount)
		require.NotNil(t, op.LastError)
		assert.Contains(t, *op.LastError, "timeout")
	}
}
