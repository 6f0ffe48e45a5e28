package database

import (
	"context"
	"testing"
	"time"

	"liftbook/internal/domain"
	"liftbook/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("cust-1")
	task := &models.OutboxTask{TaskType: models.TaskNotify, BookingID: b.ID, Payload: `{}`}
	require.NoError(t, db.CreateBooking(ctx, b, creationEntry(b), []*models.OutboxTask{task}))
	assert.Equal(t, int64(1), b.Version)
	assert.NotZero(t, task.ID)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, b.CustomerID, got.CustomerID)
	assert.Equal(t, models.ServiceCrane, got.ServiceType)
	assert.Equal(t, "2026-11-03", got.PreferredDate.Format("2006-01-02"))
	assert.Equal(t, []string{"p1.jpg", "p2.jpg"}, got.Photos)
	require.NotNil(t, got.WeightKg)
	assert.Equal(t, 1500.0, *got.WeightKg)
	assert.Nil(t, got.PickupLat)
	assert.Equal(t, int64(44250), got.TotalEstimate)
	assert.Equal(t, int64(8850), got.DepositAmount)
	assert.False(t, got.DepositPaid)
	assert.Nil(t, got.FinalPrice)
	assert.Nil(t, got.DriverID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.WithinDuration(t, b.CreatedAt, got.CreatedAt, time.Millisecond)

	history, err := db.GetHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].OldStatus)
	assert.Equal(t, models.StatusPending, history[0].NewStatus)
}

func TestGetBookingNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetBooking(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetBookingsByCustomerAndDateRange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := newTestBooking("cust-1")
	second := newTestBooking("cust-1")
	second.PreferredDate = time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC)
	other := newTestBooking("cust-2")
	for _, b := range []*models.Booking{first, second, other} {
		require.NoError(t, db.CreateBooking(ctx, b, nil, nil))
	}

	mine, err := db.GetBookingsByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	november, err := db.GetBookingsByDateRange(ctx,
		time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, november, 2)

	december, err := db.GetBookingsByDateRange(ctx,
		time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, december, 1)
	assert.Equal(t, second.ID, december[0].ID)
}

func transitionWrite(b *models.Booking, to models.Status, role models.Role) domain.BookingWrite {
	next := b.Clone()
	next.Status = to
	next.UpdatedAt = time.Now()
	from := b.Status
	return domain.BookingWrite{
		Booking:         next,
		ExpectedStatus:  b.Status,
		ExpectedVersion: b.Version,
		Entry: &models.StatusHistoryEntry{
			ID:        uuid.NewString(),
			BookingID: b.ID,
			OldStatus: &from,
			NewStatus: to,
			ActorRole: role,
			CreatedAt: next.UpdatedAt,
		},
	}
}

func TestApplyTransition(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("cust-1")
	require.NoError(t, db.CreateBooking(ctx, b, creationEntry(b), nil))

	write := transitionWrite(b, models.StatusConfirmed, models.RoleDispatcher)
	write.Tasks = []*models.OutboxTask{{TaskType: models.TaskNotify, BookingID: b.ID, Payload: `{"recipient":"cust-1"}`}}
	require.NoError(t, db.ApplyTransition(ctx, write))
	assert.Equal(t, int64(2), write.Booking.Version)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)

	history, err := db.GetHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.StatusPending, *history[1].OldStatus)
	assert.Equal(t, models.StatusConfirmed, history[1].NewStatus)
	assert.Nil(t, history[1].ActorID)

	tasks, err := db.GetOutboxTasksByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	// stale version is rejected and writes nothing
	stale := transitionWrite(b, models.StatusCancelled, models.RoleDispatcher)
	err = db.ApplyTransition(ctx, stale)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	history, err = db.GetHistory(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestApplyTransitionReservesVehicle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertVehicle(ctx, &models.Vehicle{ID: "veh-1", Name: "Crane 1", Type: models.ServiceCrane, IsAvailable: true}))

	b := newTestBooking("cust-1")
	b.Status = models.StatusConfirmed
	require.NoError(t, db.CreateBooking(ctx, b, nil, nil))

	write := transitionWrite(b, models.StatusAssigned, models.RoleDispatcher)
	driver, vehicle := "drv-1", "veh-1"
	write.Booking.DriverID = &driver
	write.Booking.VehicleID = &vehicle
	write.ReserveVehicleID = vehicle
	require.NoError(t, db.ApplyTransition(ctx, write))

	v, err := db.GetVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.False(t, v.IsAvailable)

	// a second booking cannot take the same vehicle
	other := newTestBooking("cust-2")
	other.Status = models.StatusConfirmed
	require.NoError(t, db.CreateBooking(ctx, other, nil, nil))

	write2 := transitionWrite(other, models.StatusAssigned, models.RoleDispatcher)
	write2.Booking.DriverID = &driver
	write2.Booking.VehicleID = &vehicle
	write2.ReserveVehicleID = vehicle
	err = db.ApplyTransition(ctx, write2)
	assert.ErrorIs(t, err, ErrVehicleUnavailable)

	unchanged, err := db.GetBooking(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, unchanged.Status)
	assert.Nil(t, unchanged.VehicleID)
	history, err := db.GetHistory(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// completing releases it
	assigned, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	release := transitionWrite(assigned, models.StatusCancelled, models.RoleDispatcher)
	release.ReleaseVehicleID = vehicle
	require.NoError(t, db.ApplyTransition(ctx, release))

	v, err = db.GetVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.True(t, v.IsAvailable)
}

func TestSetDepositPaid(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("cust-1")
	require.NoError(t, db.CreateBooking(ctx, b, nil, nil))

	p := &models.Payment{ID: "pay-1", BookingID: b.ID, AmountCents: b.DepositAmount, Status: models.PaymentSucceeded, ProviderRef: "sim_1"}
	require.NoError(t, db.SetDepositPaid(ctx, b.ID, 1, true, p))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.DepositPaid)
	assert.Equal(t, int64(2), got.Version)

	assert.ErrorIs(t, db.SetDepositPaid(ctx, b.ID, 1, false, nil), ErrConcurrentModification)

	p.Status = models.PaymentRefunded
	require.NoError(t, db.SetDepositPaid(ctx, b.ID, 2, false, p))

	payments, err := db.GetPaymentsByBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentRefunded, payments[0].Status)
}

func TestRecordRefund(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("cust-1")
	require.NoError(t, db.CreateBooking(ctx, b, nil, nil))

	p := &models.Payment{ID: "pay-1", BookingID: b.ID, AmountCents: b.DepositAmount, Status: models.PaymentSucceeded, ProviderRef: "sim_1"}
	require.NoError(t, db.SetDepositPaid(ctx, b.ID, 1, true, p))

	require.NoError(t, db.RecordRefund(ctx, b.ID, 2, "pay-1"))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.DepositPaid)
	assert.Equal(t, int64(3), got.Version)

	stored, err := db.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, stored.Status)

	// already refunded
	assert.ErrorIs(t, db.RecordRefund(ctx, b.ID, 3, "pay-1"), ErrConcurrentModification)

	// stale booking version rolls the payment update back
	other := &models.Payment{ID: "pay-2", BookingID: b.ID, AmountCents: 100, Status: models.PaymentSucceeded, ProviderRef: "sim_2"}
	require.NoError(t, db.CreatePayment(ctx, other))
	assert.ErrorIs(t, db.RecordRefund(ctx, b.ID, 1, "pay-2"), ErrConcurrentModification)

	stored, err = db.GetPayment(ctx, "pay-2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, stored.Status)

	got, err = db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}
