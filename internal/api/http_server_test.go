package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cptrack/internal/config"
	"cptrack/internal/cpsync"
	"cptrack/internal/database"
	"cptrack/internal/metrics"
	"cptrack/internal/models"
	"cptrack/internal/repository"
	"cptrack/internal/syncqueue"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testEnv struct {
	srv   *HTTPServer
	queue *syncqueue.Manager
	db    *database.DB
	dead  *repository.RedisDeadLetter
}

func setupServer(t *testing.T, cfg config.APIConfig) *testEnv {
	return setupServerWithExports(t, cfg, "")
}

func setupServerWithExports(t *testing.T, cfg config.APIConfig, exportDir string) *testEnv {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := repository.NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	dead := repository.NewRedisDeadLetter(client, "test:deadletter")

	// Not started: operations stay pending so requests can inspect them.
	queue := syncqueue.NewManager(syncqueue.Options{})
	t.Cleanup(queue.Stop)

	reg := prometheus.NewRegistry()
	srv := NewHTTPServer(cfg, Deps{
		Queue:       queue,
		Store:       db,
		DeadLetters: dead,
		Metrics:     metrics.New(reg),
		Gatherer:    reg,
		ExportDir:   exportDir,
	})
	srv.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	return &testEnv{srv: srv, queue: queue, db: db, dead: dead}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSyncEndpoints(t *testing.T) {
	env := setupServer(t, config.APIConfig{})

	tests := []struct {
		name     string
		path     string
		body     string
		kind     string
		priority models.Priority
	}{
		{"UserStats", "/api/v1/sync/user-stats", `{"handle":"tourist"}`, cpsync.KindUserStats, models.PriorityHigh},
		{"Contests", "/api/v1/sync/contests", `{"handle":"tourist"}`, cpsync.KindContestData, models.PriorityMedium},
		{"Recommendations", "/api/v1/sync/recommendations", `{"handle":"tourist","min_rating":1200,"max_rating":1600}`, cpsync.KindProblemRecommendations, models.PriorityMedium},
		{"Leaderboard", "/api/v1/sync/leaderboard", `{"college":"MIT","handles":["Benq","ecnerwala"]}`, cpsync.KindLeaderboard, models.PriorityLow},
		{"Verification", "/api/v1/sync/verification", `{"handle":"tourist","token":"cp-123"}`, cpsync.KindVerification, models.PriorityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.queue.ClearQueue()

			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

			var resp map[string]string
			decode(t, rec, &resp)
			require.NotEmpty(t, resp["id"])

			pending := env.queue.PendingOperations()
			require.Len(t, pending, 1)
			assert.Equal(t, resp["id"], pending[0].ID)
			assert.Equal(t, tt.kind, pending[0].Kind)
			assert.Equal(t, tt.priority, pending[0].Priority)
		})
	}
}

func TestSyncValidation(t *testing.T) {
	env := setupServer(t, config.APIConfig{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"BadJSON", "/api/v1/sync/user-stats", `{"handle":`},
		{"UnknownField", "/api/v1/sync/user-stats", `{"handle":"tourist","extra":1}`},
		{"EmptyHandle", "/api/v1/sync/contests", `{"handle":"  "}`},
		{"InvalidHandle", "/api/v1/sync/user-stats", `{"handle":"a b"}`},
		{"InvertedWindow", "/api/v1/sync/recommendations", `{"handle":"tourist","min_rating":2000,"max_rating":1000}`},
		{"NegativeMin", "/api/v1/sync/recommendations", `{"handle":"tourist","min_rating":-1,"max_rating":1000}`},
		{"NoCollege", "/api/v1/sync/leaderboard", `{"handles":["tourist"]}`},
		{"NoHandles", "/api/v1/sync/leaderboard", `{"college":"MIT"}`},
		{"BadMember", "/api/v1/sync/leaderboard", `{"college":"MIT","handles":["tourist","!"]}`},
		{"NoToken", "/api/v1/sync/verification", `{"handle":"tourist"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp map[string]string
			decode(t, rec, &resp)
			assert.NotEmpty(t, resp["error"])
		})
	}
	assert.Empty(t, env.queue.PendingOperations())
}

func TestRecommendationsDefaultWindow(t *testing.T) {
	env := setupServer(t, config.APIConfig{})

	rec := env.do(t, http.MethodPost, "/api/v1/sync/recommendations", `{"handle":"tourist"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	pending := env.queue.PendingOperations()
	require.Len(t, pending, 1)
	assert.Equal(t, int64(0), pending[0].Payload.GetInt64("min_rating"))
	assert.Equal(t, int64(defaultMaxRating), pending[0].Payload.GetInt64("max_rating"))
}

func TestQueueEndpoints(t *testing.T) {
	env := setupServer(t, config.APIConfig{})
	cpsync.SyncUserStats(env.queue, "tourist")
	cpsync.SyncLeaderboard(env.queue, "MIT", []string{"Benq"})

	rec := env.do(t, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.StatusSnapshot
	decode(t, rec, &status)
	assert.Equal(t, 2, status.QueueSize)
	assert.True(t, status.IsOnline)

	rec = env.do(t, http.MethodGet, "/api/v1/sync/operations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Operations []models.Operation `json:"operations"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Operations, 2)
	assert.Equal(t, cpsync.KindUserStats, list.Operations[0].Kind)

	rec = env.do(t, http.MethodGet, "/api/v1/sync/failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Empty(t, list.Operations)

	rec = env.do(t, http.MethodPost, "/api/v1/sync/retry-failed", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var retried map[string]int
	decode(t, rec, &retried)
	assert.Equal(t, 0, retried["requeued"])

	rec = env.do(t, http.MethodDelete, "/api/v1/sync/queue", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, env.queue.Status().QueueSize)
}

func TestDeadLetters(t *testing.T) {
	env := setupServer(t, config.APIConfig{})
	require.NoError(t, env.dead.PushDeadLetter(context.Background(), models.Operation{
		ID:     "op-dead",
		Kind:   cpsync.KindVerification,
		Status: models.OperationFailed,
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/sync/dead-letters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Operations []models.Operation `json:"operations"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Operations, 1)
	assert.Equal(t, "op-dead", list.Operations[0].ID)
}

func TestExport(t *testing.T) {
	env := setupServer(t, config.APIConfig{})
	cpsync.SyncUserStats(env.queue, "tourist")

	rec := env.do(t, http.MethodGet, "/api/v1/sync/failed/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "sync_queue_2024-03-01_120000.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Pending")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, cpsync.KindUserStats, rows[1][1])
}

func TestSaveExport(t *testing.T) {
	dir := t.TempDir()
	env := setupServerWithExports(t, config.APIConfig{}, dir)

	rec := env.do(t, http.MethodPost, "/api/v1/sync/failed/export", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	assert.Equal(t, filepath.Join(dir, "sync_queue_2024-03-01_120000.xlsx"), resp["path"])
	assert.FileExists(t, resp["path"])

	disabled := setupServer(t, config.APIConfig{})
	rec = disabled.do(t, http.MethodPost, "/api/v1/sync/failed/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserEndpoints(t *testing.T) {
	env := setupServer(t, config.APIConfig{})
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/api/v1/users/tourist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, env.db.UpsertCPUser(ctx, &models.CPUser{Handle: "tourist", Rating: 3800, Rank: "legendary grandmaster"}))
	require.NoError(t, env.db.UpsertUserContests(ctx, []models.UserContest{{Handle: "tourist", ContestID: 1, NewRating: 1600}}))

	rec = env.do(t, http.MethodGet, "/api/v1/users/Tourist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var user models.CPUser
	decode(t, rec, &user)
	assert.Equal(t, int64(3800), user.Rating)

	rec = env.do(t, http.MethodGet, "/api/v1/users/tourist/contests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var contests struct {
		Contests []models.UserContest `json:"contests"`
	}
	decode(t, rec, &contests)
	assert.Len(t, contests.Contests, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/users/tourist/recommendations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"problems":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/users/tourist/verification", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users/x/contests", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardEndpoint(t *testing.T) {
	env := setupServer(t, config.APIConfig{})

	rec := env.do(t, http.MethodGet, "/api/v1/leaderboard/MIT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, env.db.ReplaceLeaderboard(context.Background(), "MIT", []models.LeaderboardEntry{
		{Handle: "Benq", Position: 1, Rating: 3700},
		{Handle: "ecnerwala", Position: 2, Rating: 3500},
	}))

	rec = env.do(t, http.MethodGet, "/api/v1/leaderboard/MIT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		College string                    `json:"college"`
		Entries []models.LeaderboardEntry `json:"entries"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "MIT", resp.College)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "Benq", resp.Entries[0].Handle)
}

func TestRateLimit(t *testing.T) {
	env := setupServer(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}})

	rec := env.do(t, http.MethodGet, "/api/v1/sync/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sync/status", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health and metrics sit outside the limited API.
	rec = env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	env := setupServer(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}})
	router := env.srv.Router()

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)

	keys := 0
	env.srv.limiter.limiters.Range(func(_, _ any) bool {
		keys++
		return true
	})
	assert.Equal(t, 1, keys)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupServer(t, config.APIConfig{})

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sync":"synced"}`, rec.Body.String())

	env.do(t, http.MethodGet, "/api/v1/sync/status", "")

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cptrack_http_requests_total{code="200",route="/api/v1/sync/status"} 1`)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("X-Real-IP", "203.0.113.8")
	assert.Equal(t, "192.0.2.1", clientKey(req))

	req.RemoteAddr = "garbage"
	assert.Equal(t, "unknown", clientKey(req))
}

func TestStatusStream(t *testing.T) {
	env := setupServer(t, config.APIConfig{})
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/sync/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() models.StatusSnapshot {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var snap models.StatusSnapshot
				require.NoError(t, json.Unmarshal([]byte(data), &snap))
				return snap
			}
		}
	}

	assert.Equal(t, 0, next().QueueSize)

	cpsync.SyncUserStats(env.queue, "tourist")
	assert.Equal(t, 1, next().QueueSize)

	cancel()
	require.NoError(t, env.srv.Shutdown(context.Background()))
}
