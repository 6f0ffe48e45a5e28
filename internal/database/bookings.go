package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liftbook/internal/domain"
	"liftbook/internal/models"
)

const dateLayout = "2006-01-02"

const bookingColumns = `id, customer_id, service_type, pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng, preferred_date, preferred_time_window,
	weight_kg, dimensions, site_access, photos, distance_km,
	base_price, distance_price, weight_surcharge, site_difficulty_surcharge,
	total_estimate, deposit_amount, deposit_paid, final_price,
	driver_id, vehicle_id, assigned_at, status,
	created_at, updated_at, completed_at, cancelled_at, version`

// CreateBooking stores a new booking together with its creation history entry
// and the outbox tasks it triggers.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking, entry *models.StatusHistoryEntry, tasks []*models.OutboxTask) error {
	photos, err := encodePhotos(booking.Photos)
	if err != nil {
		return err
	}

	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if booking.Version == 0 {
		booking.Version = 1
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			booking.ID,
			booking.CustomerID,
			booking.ServiceType,
			booking.PickupAddress,
			booking.PickupLat,
			booking.PickupLng,
			booking.DropoffAddress,
			booking.DropoffLat,
			booking.DropoffLng,
			booking.PreferredDate.Format(dateLayout),
			booking.PreferredTimeWindow,
			booking.WeightKg,
			booking.Dimensions,
			booking.SiteAccess,
			photos,
			booking.DistanceKm,
			booking.BasePrice,
			booking.DistancePrice,
			booking.WeightSurcharge,
			booking.SiteDifficultySurcharge,
			booking.TotalEstimate,
			booking.DepositAmount,
			booking.DepositPaid,
			booking.FinalPrice,
			booking.DriverID,
			booking.VehicleID,
			booking.AssignedAt,
			booking.Status,
			booking.CreatedAt,
			booking.UpdatedAt,
			booking.CompletedAt,
			booking.CancelledAt,
			booking.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}
		if entry != nil {
			if err := insertHistory(ctx, tx, entry); err != nil {
				return err
			}
		}
		return insertOutboxTasks(ctx, tx, tasks)
	})
	return err
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) GetBookingsByCustomer(ctx context.Context, customerID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE customer_id = ? ORDER BY created_at DESC`
	return db.queryBookings(ctx, query, customerID)
}

// GetBookingsByDateRange returns bookings whose preferred date falls within
// [startDate, endDate], both inclusive.
func (db *DB) GetBookingsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE preferred_date >= ? AND preferred_date <= ?
		ORDER BY preferred_date ASC, created_at ASC`
	return db.queryBookings(ctx, query, startDate.Format(dateLayout), endDate.Format(dateLayout))
}

// ApplyTransition persists a validated status change. The booking row is only
// updated while it still holds the expected status and version; otherwise
// ErrConcurrentModification is returned and nothing is written.
func (db *DB) ApplyTransition(ctx context.Context, write domain.BookingWrite) error {
	b := write.Booking
	if b == nil || write.Entry == nil {
		return errors.New("booking and history entry are required")
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE bookings SET
				status = ?, driver_id = ?, vehicle_id = ?, assigned_at = ?,
				final_price = ?, completed_at = ?, cancelled_at = ?, deposit_paid = ?,
				updated_at = ?, version = version + 1
			WHERE id = ? AND status = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query,
			b.Status,
			b.DriverID,
			b.VehicleID,
			b.AssignedAt,
			b.FinalPrice,
			b.CompletedAt,
			b.CancelledAt,
			b.DepositPaid,
			b.UpdatedAt,
			b.ID,
			write.ExpectedStatus,
			write.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if rows == 0 {
			return ErrConcurrentModification
		}

		if write.ReserveVehicleID != "" {
			if err := reserveVehicle(ctx, tx, write.ReserveVehicleID, b.UpdatedAt); err != nil {
				return err
			}
		}
		if write.ReleaseVehicleID != "" {
			if err := setVehicleAvailability(ctx, tx, write.ReleaseVehicleID, true, b.UpdatedAt); err != nil {
				return err
			}
		}

		if err := insertHistory(ctx, tx, write.Entry); err != nil {
			return err
		}
		return insertOutboxTasks(ctx, tx, write.Tasks)
	})
	if err != nil {
		return err
	}

	b.Version = write.ExpectedVersion + 1
	return nil
}

// SetDepositPaid flips the deposit flag and records the payment that caused it.
func (db *DB) SetDepositPaid(ctx context.Context, bookingID string, expectedVersion int64, paid bool, payment *models.Payment) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE bookings SET deposit_paid = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query, paid, time.Now(), bookingID, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update deposit: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if rows == 0 {
			return ErrConcurrentModification
		}
		if payment != nil {
			return upsertPayment(ctx, tx, payment)
		}
		return nil
	})
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func scanBooking(row scanner) (*models.Booking, error) {
	var (
		b       models.Booking
		dateStr string
		photos  sql.NullString
		dims    sql.NullString
		site    sql.NullString
	)
	err := row.Scan(
		&b.ID,
		&b.CustomerID,
		&b.ServiceType,
		&b.PickupAddress,
		&b.PickupLat,
		&b.PickupLng,
		&b.DropoffAddress,
		&b.DropoffLat,
		&b.DropoffLng,
		&dateStr,
		&b.PreferredTimeWindow,
		&b.WeightKg,
		&dims,
		&site,
		&photos,
		&b.DistanceKm,
		&b.BasePrice,
		&b.DistancePrice,
		&b.WeightSurcharge,
		&b.SiteDifficultySurcharge,
		&b.TotalEstimate,
		&b.DepositAmount,
		&b.DepositPaid,
		&b.FinalPrice,
		&b.DriverID,
		&b.VehicleID,
		&b.AssignedAt,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.CompletedAt,
		&b.CancelledAt,
		&b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.PreferredDate, err = time.Parse(dateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse preferred date %s: %w", dateStr, err)
	}
	b.Dimensions = dims.String
	b.SiteAccess = site.String
	if photos.Valid && photos.String != "" {
		if err := json.Unmarshal([]byte(photos.String), &b.Photos); err != nil {
			return nil, fmt.Errorf("failed to decode photos: %w", err)
		}
	}
	return &b, nil
}

func encodePhotos(photos []string) (interface{}, error) {
	if len(photos) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(photos)
	if err != nil {
		return nil, fmt.Errorf("failed to encode photos: %w", err)
	}
	return string(data), nil
}
