package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"liftbook/internal/models"
)

const paymentColumns = `id, booking_id, amount_cents, status, provider_ref, created_at, updated_at`

// CreatePayment records a payment that did not change the booking, such as a
// declined charge.
func (db *DB) CreatePayment(ctx context.Context, p *models.Payment) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return upsertPayment(ctx, tx, p)
	})
}

func upsertPayment(ctx context.Context, tx *sql.Tx, p *models.Payment) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			provider_ref = excluded.provider_ref,
			updated_at = excluded.updated_at`
	_, err := tx.ExecContext(ctx, query, p.ID, p.BookingID, p.AmountCents, p.Status, p.ProviderRef, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// RecordRefund flips a succeeded payment to refunded and clears the booking's
// deposit flag in one transaction.
func (db *DB) RecordRefund(ctx context.Context, bookingID string, expectedVersion int64, paymentID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		result, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND booking_id = ? AND status = ?`,
			models.PaymentRefunded, now, paymentID, bookingID, models.PaymentSucceeded)
		if err != nil {
			return fmt.Errorf("failed to refund payment: %w", err)
		}
		if err := requireOneRow(result); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx,
			`UPDATE bookings SET deposit_paid = 0, updated_at = ?, version = version + 1 WHERE id = ? AND version = ?`,
			now, bookingID, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update deposit: %w", err)
		}
		return requireOneRow(result)
	})
}

func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	p, err := scanPayment(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (db *DB) GetPaymentsByBooking(ctx context.Context, bookingID string) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func scanPayment(row scanner) (*models.Payment, error) {
	var (
		p   models.Payment
		ref sql.NullString
	)
	if err := row.Scan(&p.ID, &p.BookingID, &p.AmountCents, &p.Status, &ref, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ProviderRef = ref.String
	return &p, nil
}
