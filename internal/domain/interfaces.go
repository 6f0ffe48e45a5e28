package domain

import (
	"context"
	"time"

	"liftbook/internal/models"
)

// BookingWrite is the atomic unit persisted for a transition: the new booking
// state, its history entry and the side effects queued with it. The update
// only applies while the stored row still has ExpectedStatus and
// ExpectedVersion.
type BookingWrite struct {
	Booking         *models.Booking
	ExpectedStatus  models.Status
	ExpectedVersion int64
	Entry           *models.StatusHistoryEntry
	Tasks           []*models.OutboxTask

	// ReserveVehicleID is flipped to unavailable only if it is still available.
	ReserveVehicleID string
	// ReleaseVehicleID is flipped back to available.
	ReleaseVehicleID string
}

type Repository interface {
	CreateBooking(ctx context.Context, booking *models.Booking, entry *models.StatusHistoryEntry, tasks []*models.OutboxTask) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingsByCustomer(ctx context.Context, customerID string) ([]*models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	ApplyTransition(ctx context.Context, write BookingWrite) error
	SetDepositPaid(ctx context.Context, bookingID string, expectedVersion int64, paid bool, payment *models.Payment) error
	// RecordRefund marks a succeeded payment refunded and clears the deposit
	// flag. A payment that is no longer succeeded or a stale booking version
	// yields ErrConcurrentModification.
	RecordRefund(ctx context.Context, bookingID string, expectedVersion int64, paymentID string) error

	GetHistory(ctx context.Context, bookingID string) ([]*models.StatusHistoryEntry, error)

	// CreateOutboxTask queues a side effect that is not tied to a status change.
	CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error

	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	GetVehicles(ctx context.Context) ([]*models.Vehicle, error)
	UpsertVehicle(ctx context.Context, vehicle *models.Vehicle) error

	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUsersByRole(ctx context.Context, role models.Role) ([]*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentsByBooking(ctx context.Context, bookingID string) ([]*models.Payment, error)
}

// Locker serializes work on one key across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

type Notifier interface {
	Notify(ctx context.Context, intent models.NotificationIntent) error
}

// BookingMirror receives the latest state of a booking for external reporting.
type BookingMirror interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
}

// TaskDispatcher wakes the outbox consumer for tasks already committed to storage.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, tasks []*models.OutboxTask)
}

type ChargeRequest struct {
	BookingID   string
	AmountCents int64
}

type ChargeResult struct {
	Status      models.PaymentStatus
	ProviderRef string
}

type PaymentProvider interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, providerRef string) (models.PaymentStatus, error)
}

type Location struct {
	Address string
	Lat     *float64
	Lng     *float64
}

type DistanceProvider interface {
	DistanceKm(ctx context.Context, from, to Location) (float64, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
