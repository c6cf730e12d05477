package export

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"cptrack/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleReport() Report {
	enqueued := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	failedAt := enqueued.Add(time.Minute)
	msg := "upstream returned 503"
	return Report{
		Pending: []models.Operation{{
			ID:         "op-1",
			Kind:       "user_stats",
			Priority:   models.PriorityHigh,
			Status:     models.OperationPending,
			EnqueuedAt: enqueued,
			Payload:    models.Payload{"handle": "tourist"},
		}},
		Failed: []models.Operation{{
			ID:         "op-2",
			Kind:       "leaderboard",
			Priority:   models.PriorityLow,
			Status:     models.OperationFailed,
			RetryCount: 4,
			EnqueuedAt: enqueued,
			FailedAt:   &failedAt,
			LastError:  &msg,
		}},
		GeneratedAt: enqueued,
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleReport()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{pendingSheet, failedSheet, deadLetterSheet}, f.GetSheetList())

	rows, err := f.GetRows(pendingSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "op-1", rows[1][0])
	assert.Equal(t, "high", rows[1][2])
	assert.Equal(t, `{"handle":"tourist"}`, rows[1][9])

	rows, err = f.GetRows(failedSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "4", rows[1][4])
	assert.Equal(t, "2024-03-01 10:01:00", rows[1][7])
	assert.Equal(t, "upstream returned 503", rows[1][8])
	assert.Equal(t, "{}", rows[1][9])

	rows, err = f.GetRows(deadLetterSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSaveXLSX(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")

	path, err := SaveXLSX(dir, sampleReport())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sync_queue_2024-03-01_100000.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.GetSheetList(), 3)
}
