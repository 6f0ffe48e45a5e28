package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"liftbook/internal/domain"
	"liftbook/internal/models"
)

const outboxColumns = `id, task_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func insertOutboxTasks(ctx context.Context, tx *sql.Tx, tasks []*models.OutboxTask) error {
	query := `INSERT INTO outbox (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	for _, task := range tasks {
		if task.Status == "" {
			task.Status = models.OutboxPending
		}
		result, err := tx.ExecContext(ctx, query,
			task.TaskType,
			task.BookingID,
			task.Payload,
			task.Status,
			task.RetryCount,
			task.LastError,
			now,
			task.NextRetryAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create outbox task: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		task.ID = id
		task.CreatedAt = now
	}
	return nil
}

// CreateOutboxTask enqueues a task outside of a booking transaction.
func (db *DB) CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertOutboxTasks(ctx, tx, []*models.OutboxTask{task})
	})
}

func (db *DB) GetPendingOutboxTasks(ctx context.Context, limit int) ([]models.OutboxTask, error) {
	query := `SELECT ` + outboxColumns + `
              FROM outbox
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.queryOutbox(ctx, query, time.Now(), limit)
}

func (db *DB) GetOutboxTask(ctx context.Context, id int64) (*models.OutboxTask, error) {
	tasks, err := db.queryOutbox(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("outbox task %d: %w", id, domain.ErrNotFound)
	}
	return &tasks[0], nil
}

func (db *DB) GetFailedOutboxTasks(ctx context.Context) ([]models.OutboxTask, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE status = 'failed' ORDER BY created_at DESC`
	return db.queryOutbox(ctx, query)
}

func (db *DB) GetOutboxTasksByBooking(ctx context.Context, bookingID string) ([]models.OutboxTask, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE booking_id = ? ORDER BY id ASC`
	return db.queryOutbox(ctx, query, bookingID)
}

func (db *DB) UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	switch status {
	case models.OutboxRetry:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	case models.OutboxCompleted, models.OutboxFailed:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, &now, id}
	default:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox task status: %w", err)
	}
	return nil
}

func (db *DB) queryOutbox(ctx context.Context, query string, args ...interface{}) ([]models.OutboxTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var tasks []models.OutboxTask
	for rows.Next() {
		var t models.OutboxTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}
