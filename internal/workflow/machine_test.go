package workflow

import (
	"errors"
	"testing"
	"time"

	"liftbook/internal/domain"
	"liftbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	customer   = models.Actor{UserID: "cust-1", Role: models.RoleCustomer}
	stranger   = models.Actor{UserID: "cust-2", Role: models.RoleCustomer}
	dispatcher = models.Actor{UserID: "disp-1", Role: models.RoleDispatcher}
	driver     = models.Actor{UserID: "drv-1", Role: models.RoleDriver}
	otherDrv   = models.Actor{UserID: "drv-2", Role: models.RoleDriver}
	superadmin = models.Actor{UserID: "root", Role: models.RoleSuperadmin}
)

func newBooking(status models.Status) *models.Booking {
	b := &models.Booking{
		ID:            "b-1",
		CustomerID:    customer.UserID,
		ServiceType:   models.ServiceCrane,
		Status:        status,
		TotalEstimate: 44250,
		DepositAmount: 8850,
		Version:       1,
	}
	if status == models.StatusAssigned || status == models.StatusEnRoute || status == models.StatusOnSite {
		d, v := driver.UserID, "veh-1"
		b.DriverID = &d
		b.VehicleID = &v
	}
	return b
}

func TestApplyHappyPath(t *testing.T) {
	m := NewMachine()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	b := newBooking(models.StatusPending)

	steps := []Request{
		{Target: models.StatusConfirmed, Actor: dispatcher},
		{Target: models.StatusAssigned, Actor: dispatcher, DriverID: driver.UserID, VehicleID: "veh-1"},
		{Target: models.StatusEnRoute, Actor: driver},
		{Target: models.StatusOnSite, Actor: driver},
		{Target: models.StatusCompleted, Actor: driver, Note: "done"},
	}

	for _, req := range steps {
		prev := b.Status
		next, entry, err := m.Apply(b, req, now)
		require.NoError(t, err, "%s -> %s", prev, req.Target)
		require.NotNil(t, entry)
		assert.Equal(t, req.Target, next.Status)
		assert.Equal(t, prev, *entry.OldStatus)
		assert.Equal(t, req.Target, entry.NewStatus)
		assert.Equal(t, req.Actor.UserID, *entry.ActorID)
		assert.Equal(t, req.Actor.Role, entry.ActorRole)
		assert.Equal(t, b.ID, entry.BookingID)
		assert.Equal(t, now, next.UpdatedAt)
		b = next
	}

	require.NotNil(t, b.FinalPrice)
	assert.Equal(t, int64(44250), *b.FinalPrice)
	require.NotNil(t, b.CompletedAt)
	assert.Equal(t, now, *b.CompletedAt)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	b := newBooking(models.StatusConfirmed)
	_, _, err := NewMachine().Apply(b, Request{
		Target: models.StatusAssigned, Actor: dispatcher, DriverID: "drv-9", VehicleID: "veh-9",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Nil(t, b.DriverID)
	assert.Nil(t, b.VehicleID)
	assert.Nil(t, b.AssignedAt)
}

func TestAssignedRequiresDriverAndVehicle(t *testing.T) {
	m := NewMachine()
	b := newBooking(models.StatusConfirmed)

	for _, req := range []Request{
		{Target: models.StatusAssigned, Actor: dispatcher},
		{Target: models.StatusAssigned, Actor: dispatcher, DriverID: "drv-1"},
		{Target: models.StatusAssigned, Actor: dispatcher, VehicleID: "veh-1"},
	} {
		_, _, err := m.Apply(b, req, time.Now())
		assert.True(t, errors.Is(err, domain.ErrMissingAssignment), "got %v", err)
	}

	next, _, err := m.Apply(b, Request{Target: models.StatusAssigned, Actor: dispatcher, DriverID: "drv-1", VehicleID: "veh-1"}, time.Now())
	require.NoError(t, err)
	assert.True(t, next.IsAssigned())
	assert.Equal(t, "drv-1", *next.DriverID)
	assert.Equal(t, "veh-1", *next.VehicleID)
	assert.NotNil(t, next.AssignedAt)
}

func TestIllegalTransitions(t *testing.T) {
	m := NewMachine()

	for _, from := range models.AllStatuses {
		if from.IsTerminal() {
			continue
		}
		for _, to := range models.AllStatuses {
			if m.CanTransition(from, to) {
				continue
			}
			_, _, err := m.Apply(newBooking(from), Request{Target: to, Actor: superadmin, DriverID: "d", VehicleID: "v"}, time.Now())
			assert.True(t, errors.Is(err, domain.ErrIllegalTransition), "%s -> %s: %v", from, to, err)
		}
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	m := NewMachine()
	for _, from := range []models.Status{models.StatusCompleted, models.StatusCancelled} {
		for _, to := range models.AllStatuses {
			_, _, err := m.Apply(newBooking(from), Request{Target: to, Actor: superadmin}, time.Now())
			assert.True(t, errors.Is(err, domain.ErrTerminalState), "%s -> %s: %v", from, to, err)
		}
	}
}

func TestRoleGates(t *testing.T) {
	m := NewMachine()

	tests := []struct {
		name  string
		from  models.Status
		to    models.Status
		actor models.Actor
		ok    bool
	}{
		{"customer confirms", models.StatusPending, models.StatusConfirmed, customer, false},
		{"driver confirms", models.StatusPending, models.StatusConfirmed, driver, false},
		{"dispatcher confirms", models.StatusPending, models.StatusConfirmed, dispatcher, true},
		{"customer cancels own pending", models.StatusPending, models.StatusCancelled, customer, true},
		{"customer cancels foreign pending", models.StatusPending, models.StatusCancelled, stranger, false},
		{"customer cancels confirmed", models.StatusConfirmed, models.StatusCancelled, customer, true},
		{"customer cancels assigned", models.StatusAssigned, models.StatusCancelled, customer, false},
		{"dispatcher cancels assigned", models.StatusAssigned, models.StatusCancelled, dispatcher, true},
		{"assigned driver departs", models.StatusAssigned, models.StatusEnRoute, driver, true},
		{"other driver departs", models.StatusAssigned, models.StatusEnRoute, otherDrv, false},
		{"dispatcher arrives", models.StatusEnRoute, models.StatusOnSite, dispatcher, true},
		{"customer completes", models.StatusOnSite, models.StatusCompleted, customer, false},
		{"dispatcher cancels en route", models.StatusEnRoute, models.StatusCancelled, dispatcher, false},
		{"superadmin cancels en route", models.StatusEnRoute, models.StatusCancelled, superadmin, true},
		{"superadmin cancels on site", models.StatusOnSite, models.StatusCancelled, superadmin, true},
		{"superadmin confirms", models.StatusPending, models.StatusConfirmed, superadmin, true},
		{"system confirms", models.StatusPending, models.StatusConfirmed, models.SystemActor, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.Apply(newBooking(tt.from), Request{Target: tt.to, Actor: tt.actor}, time.Now())
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, domain.ErrInsufficientRole), "got %v", err)

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
			assert.NotEmpty(t, te.Rule)
		})
	}
}

func TestCancelSetsTimestampAndSystemActor(t *testing.T) {
	now := time.Now()
	next, entry, err := NewMachine().Apply(newBooking(models.StatusPending), Request{
		Target: models.StatusCancelled, Actor: customer, Note: "changed plans",
	}, now)
	require.NoError(t, err)
	require.NotNil(t, next.CancelledAt)
	assert.Equal(t, now, *next.CancelledAt)
	assert.Nil(t, next.FinalPrice)
	assert.Equal(t, "changed plans", entry.Note)
}

func TestCompleteWithExplicitPrice(t *testing.T) {
	price := int64(67000)
	next, _, err := NewMachine().Apply(newBooking(models.StatusOnSite), Request{
		Target: models.StatusCompleted, Actor: dispatcher, FinalPrice: &price,
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, price, *next.FinalPrice)
}

func TestAllowedTargets(t *testing.T) {
	m := NewMachine()

	assert.ElementsMatch(t,
		[]models.Status{models.StatusConfirmed, models.StatusCancelled},
		m.AllowedTargets(newBooking(models.StatusPending), dispatcher))
	assert.ElementsMatch(t,
		[]models.Status{models.StatusCancelled},
		m.AllowedTargets(newBooking(models.StatusPending), customer))
	assert.Empty(t, m.AllowedTargets(newBooking(models.StatusPending), stranger))
	assert.Empty(t, m.AllowedTargets(newBooking(models.StatusCompleted), superadmin))
}
