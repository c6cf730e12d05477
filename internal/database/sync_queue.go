package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cptrack/internal/models"
)

// SaveOperation inserts or replaces the journal row of op.
func (db *DB) SaveOperation(ctx context.Context, op models.Operation) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload of %s: %w", op.ID, err)
	}
	if op.Payload == nil {
		payload = []byte("{}")
	}

	query := `INSERT INTO sync_queue (id, kind, payload, priority, status, retry_count, last_error, enqueued_at, next_attempt_at, failed_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                status = excluded.status,
                retry_count = excluded.retry_count,
                last_error = excluded.last_error,
                next_attempt_at = excluded.next_attempt_at,
                failed_at = excluded.failed_at`
	_, err = db.ExecContext(ctx, query,
		op.ID,
		op.Kind,
		string(payload),
		string(op.Priority),
		string(op.Status),
		op.RetryCount,
		nullString(op.LastError),
		op.EnqueuedAt,
		nullTime(op.NextAttemptAt),
		nullTime(op.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save operation %s: %w", op.ID, err)
	}
	return nil
}

func (db *DB) DeleteOperation(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	return nil
}

func (db *DB) ClearOperations(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

// LoadOperations returns every journaled operation, oldest first.
func (db *DB) LoadOperations(ctx context.Context) ([]models.Operation, error) {
	query := `SELECT id, kind, payload, priority, status, retry_count, last_error, enqueued_at, next_attempt_at, failed_at
              FROM sync_queue ORDER BY enqueued_at ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var (
			op          models.Operation
			payload     string
			priority    string
			status      string
			lastError   sql.NullString
			nextAttempt sql.NullTime
			failedAt    sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.Kind, &payload, &priority, &status, &op.RetryCount,
			&lastError, &op.EnqueuedAt, &nextAttempt, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
			db.logger.Warn().Err(err).Str("operation_id", op.ID).Msg("Dropping unreadable payload")
			op.Payload = models.Payload{}
		}
		op.Priority = models.Priority(priority)
		op.Status = models.OperationStatus(status)
		if lastError.Valid {
			op.LastError = &lastError.String
		}
		if nextAttempt.Valid {
			op.NextAttemptAt = &nextAttempt.Time
		}
		if failedAt.Valid {
			op.FailedAt = &failedAt.Time
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

// CountOperations returns journal row counts keyed by status.
func (db *DB) CountOperations(ctx context.Context) (map[models.OperationStatus]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync queue: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.OperationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.OperationStatus(status)] = n
	}
	return counts, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
