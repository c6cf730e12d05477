package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cptrack/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	pendingSheet    = "Pending"
	failedSheet     = "Failed"
	deadLetterSheet = "Dead letters"
)

var headers = []string{"ID", "Kind", "Priority", "Status", "Retries", "Enqueued", "Next attempt", "Failed at", "Last error", "Payload"}

// Report is the queue content written to a workbook.
type Report struct {
	Pending     []models.Operation
	Failed      []models.Operation
	DeadLetters []models.Operation
	GeneratedAt time.Time
}

// WriteXLSX renders r as a workbook with one sheet per operation set.
func WriteXLSX(w io.Writer, r Report) error {
	f, err := build(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes r into dir and returns the file path.
func SaveXLSX(dir string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := build(r)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, fmt.Sprintf("sync_queue_%s.xlsx", r.GeneratedAt.Format("2006-01-02_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

func build(r Report) (*excelize.File, error) {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}

	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating style: %w", err)
	}

	sheets := []struct {
		name string
		ops  []models.Operation
	}{
		{pendingSheet, r.Pending},
		{failedSheet, r.Failed},
		{deadLetterSheet, r.DeadLetters},
	}
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				f.Close()
				return nil, fmt.Errorf("error renaming sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			f.Close()
			return nil, fmt.Errorf("error creating sheet: %w", err)
		}
		if err := writeSheet(f, s.name, s.ops, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	_ = f.SetDocProps(&excelize.DocProperties{
		Title:   "Sync queue",
		Created: r.GeneratedAt.UTC().Format(time.RFC3339),
	})
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, ops []models.Operation, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("error writing headers: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyle)

	for i, op := range ops {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			op.ID,
			op.Kind,
			string(op.Priority),
			string(op.Status),
			op.RetryCount,
			formatTime(&op.EnqueuedAt),
			formatTime(op.NextAttemptAt),
			formatTime(op.FailedAt),
			deref(op.LastError),
			payloadJSON(op.Payload),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "E", 14)
	_ = f.SetColWidth(sheet, "F", "H", 22)
	_ = f.SetColWidth(sheet, "I", "J", 48)
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func payloadJSON(p models.Payload) string {
	if len(p) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(p))
	}
	return string(raw)
}
