package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"liftbook/internal/models"
)

const vehicleColumns = `id, name, type, capacity_tons, license_plate, is_available, hourly_rate_cents, created_at, updated_at`

// UpsertVehicle inserts a vehicle or refreshes its descriptive fields.
// Availability of an existing vehicle is left untouched.
func (db *DB) UpsertVehicle(ctx context.Context, v *models.Vehicle) error {
	query := `INSERT INTO vehicles (` + vehicleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			capacity_tons = excluded.capacity_tons,
			license_plate = excluded.license_plate,
			hourly_rate_cents = excluded.hourly_rate_cents,
			updated_at = excluded.updated_at`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		v.ID,
		v.Name,
		v.Type,
		v.CapacityTons,
		v.LicensePlate,
		v.IsAvailable,
		v.HourlyRateCents,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle: %w", err)
	}
	return nil
}

func (db *DB) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = ?`
	v, err := scanVehicle(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return v, nil
}

func (db *DB) GetVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles ORDER BY type, name`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vehicles, nil
}

func (db *DB) SetVehicleAvailability(ctx context.Context, id string, available bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return setVehicleAvailability(ctx, tx, id, available, time.Now())
	})
}

// reserveVehicle marks the vehicle busy only if it is still available.
func reserveVehicle(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE vehicles SET is_available = 0, updated_at = ? WHERE id = ? AND is_available = 1`, now, id)
	if err != nil {
		return fmt.Errorf("failed to reserve vehicle: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("vehicle %s: %w", id, ErrVehicleUnavailable)
	}
	return nil
}

func setVehicleAvailability(ctx context.Context, tx *sql.Tx, id string, available bool, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE vehicles SET is_available = ?, updated_at = ? WHERE id = ?`, available, now, id)
	if err != nil {
		return fmt.Errorf("failed to update vehicle availability: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanVehicle(row scanner) (*models.Vehicle, error) {
	var (
		v     models.Vehicle
		plate sql.NullString
	)
	err := row.Scan(&v.ID, &v.Name, &v.Type, &v.CapacityTons, &plate, &v.IsAvailable, &v.HourlyRateCents, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.LicensePlate = plate.String
	return &v, nil
}
