package database

import (
	"context"
	"testing"
	"time"

	"cptrack/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueueJournal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	first := models.Operation{
		ID:         "op-1",
		Kind:       "user-stats-sync",
		Payload:    models.Payload{"handle": "tourist"},
		Priority:   models.PriorityHigh,
		EnqueuedAt: base,
		Status:     models.OperationPending,
	}
	second := models.Operation{
		ID:         "op-2",
		Kind:       "leaderboard-sync",
		Payload:    models.Payload{"college": "MIT", "handles": []string{"a", "b"}},
		Priority:   models.PriorityLow,
		EnqueuedAt: base.Add(time.Second),
		Status:     models.OperationPending,
	}

	// Save
	require.NoError(t, db.SaveOperation(ctx, second))
	require.NoError(t, db.SaveOperation(ctx, first))

	ops, err := db.LoadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "op-1", ops[0].ID)
	assert.Equal(t, "op-2", ops[1].ID)
	assert.Equal(t, "tourist", ops[0].Payload.GetString("handle"))
	assert.Equal(t, []string{"a", "b"}, ops[1].Payload.GetStrings("handles"))
	assert.Equal(t, models.PriorityLow, ops[1].Priority)
	assert.WithinDuration(t, base, ops[0].EnqueuedAt, time.Millisecond)
	assert.Nil(t, ops[0].NextAttemptAt)
	assert.Nil(t, ops[0].LastError)

	// Update: retry scheduled, then failed
	next := time.Now().Add(time.Minute)
	msg := "upstream 502"
	first.RetryCount = 1
	first.NextAttemptAt = &next
	first.LastError = &msg
	require.NoError(t, db.SaveOperation(ctx, first))

	ops, err = db.LoadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, 1, ops[0].RetryCount)
	require.NotNil(t, ops[0].NextAttemptAt)
	assert.WithinDuration(t, next, *ops[0].NextAttemptAt, time.Millisecond)
	require.NotNil(t, ops[0].LastError)
	assert.Equal(t, msg, *ops[0].LastError)

	failedAt := time.Now()
	first.Status = models.OperationFailed
	first.NextAttemptAt = nil
	first.FailedAt = &failedAt
	require.NoError(t, db.SaveOperation(ctx, first))

	counts, err := db.CountOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.OperationFailed])
	assert.Equal(t, 1, counts[models.OperationPending])

	// Delete
	require.NoError(t, db.DeleteOperation(ctx, "op-2"))
	ops, err = db.LoadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationFailed, ops[0].Status)
	assert.NotNil(t, ops[0].FailedAt)

	// Clear
	require.NoError(t, db.ClearOperations(ctx))
	ops, err = db.LoadOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestSyncQueueNilPayload(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveOperation(ctx, models.Operation{
		ID:         "empty",
		Kind:       "noop",
		Priority:   models.PriorityMedium,
		EnqueuedAt: time.Now(),
		Status:     models.OperationPending,
	}))

	ops, err := db.LoadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.NotNil(t, ops[0].Payload)
	assert.Empty(t, ops[0].Payload)
}

func TestDeleteMissingOperation(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.DeleteOperation(context.Background(), "missing"))
}
