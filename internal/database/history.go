package database

import (
	"context"
	"database/sql"
	"fmt"

	"liftbook/internal/models"
)

// status_history is append-only: rows are inserted inside booking
// transactions and never updated or deleted.

func insertHistory(ctx context.Context, tx *sql.Tx, entry *models.StatusHistoryEntry) error {
	query := `INSERT INTO status_history (id, booking_id, old_status, new_status, actor_id, actor_role, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.BookingID,
		entry.OldStatus,
		entry.NewStatus,
		entry.ActorID,
		entry.ActorRole,
		entry.Note,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}

// GetHistory returns entries for a booking, oldest first.
func (db *DB) GetHistory(ctx context.Context, bookingID string) ([]*models.StatusHistoryEntry, error) {
	query := `SELECT id, booking_id, old_status, new_status, actor_id, actor_role, note, created_at
		FROM status_history WHERE booking_id = ? ORDER BY created_at ASC, rowid ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}
	defer rows.Close()

	var entries []*models.StatusHistoryEntry
	for rows.Next() {
		var (
			e    models.StatusHistoryEntry
			note sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.OldStatus, &e.NewStatus, &e.ActorID, &e.ActorRole, &note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		e.Note = note.String
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
