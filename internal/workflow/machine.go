// Package workflow holds the booking state machine: which status changes are
// legal, which roles may perform them, and what each change writes.
package workflow

import (
	"fmt"
	"time"

	"liftbook/internal/domain"
	"liftbook/internal/models"

	"github.com/google/uuid"
)

type edge struct {
	from models.Status
	to   models.Status
}

type roleSet map[models.Role]bool

func roles(rs ...models.Role) roleSet {
	set := make(roleSet, len(rs))
	for _, r := range rs {
		set[r] = true
	}
	return set
}

// transitions is the complete table of legal edges. Superadmin passes every
// edge and may additionally cancel from any non-terminal status.
var transitions = map[edge]roleSet{
	{models.StatusPending, models.StatusConfirmed}:   roles(models.RoleDispatcher),
	{models.StatusPending, models.StatusCancelled}:   roles(models.RoleCustomer, models.RoleDispatcher),
	{models.StatusConfirmed, models.StatusAssigned}:  roles(models.RoleDispatcher),
	{models.StatusConfirmed, models.StatusCancelled}: roles(models.RoleCustomer, models.RoleDispatcher),
	{models.StatusAssigned, models.StatusEnRoute}:    roles(models.RoleDriver, models.RoleDispatcher),
	{models.StatusAssigned, models.StatusCancelled}:  roles(models.RoleDispatcher),
	{models.StatusEnRoute, models.StatusOnSite}:      roles(models.RoleDriver, models.RoleDispatcher),
	{models.StatusEnRoute, models.StatusCancelled}:   roles(),
	{models.StatusOnSite, models.StatusCompleted}:    roles(models.RoleDriver, models.RoleDispatcher),
	{models.StatusOnSite, models.StatusCancelled}:    roles(),
}

// Request is one attempted status change.
type Request struct {
	Target    models.Status
	Actor     models.Actor
	Note      string
	DriverID  string
	VehicleID string
	// FinalPrice is used on completion; nil falls back to the total estimate.
	FinalPrice *int64
}

// TransitionError explains a rejected request and unwraps to the matching
// domain sentinel.
type TransitionError struct {
	From models.Status
	To   models.Status
	Role models.Role
	Rule string
	err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s -> %s by %s: %s: %v", e.From, e.To, e.Role, e.Rule, e.err)
}

func (e *TransitionError) Unwrap() error {
	return e.err
}

type Machine struct{}

func NewMachine() *Machine {
	return &Machine{}
}

// CanTransition reports whether the edge exists at all, ignoring roles.
func (m *Machine) CanTransition(from, to models.Status) bool {
	_, ok := transitions[edge{from, to}]
	return ok
}

// AllowedTargets lists statuses the actor could move the booking to.
func (m *Machine) AllowedTargets(b *models.Booking, actor models.Actor) []models.Status {
	var out []models.Status
	for _, to := range models.AllStatuses {
		allowed, ok := transitions[edge{b.Status, to}]
		if !ok {
			continue
		}
		if m.authorize(b, actor, allowed) == "" {
			out = append(out, to)
		}
	}
	return out
}

// Apply validates req against b and returns the updated copy with its history
// entry. b is never modified.
func (m *Machine) Apply(b *models.Booking, req Request, now time.Time) (*models.Booking, *models.StatusHistoryEntry, error) {
	reject := func(rule string, sentinel error) (*models.Booking, *models.StatusHistoryEntry, error) {
		return nil, nil, &TransitionError{From: b.Status, To: req.Target, Role: req.Actor.Role, Rule: rule, err: sentinel}
	}

	if b.Status.IsTerminal() {
		return reject("booking is already "+string(b.Status), domain.ErrTerminalState)
	}

	allowed, ok := transitions[edge{b.Status, req.Target}]
	if !ok {
		return reject("no such transition", domain.ErrIllegalTransition)
	}

	if rule := m.authorize(b, req.Actor, allowed); rule != "" {
		return reject(rule, domain.ErrInsufficientRole)
	}

	if req.Target == models.StatusAssigned && (req.DriverID == "" || req.VehicleID == "") {
		return reject("assignment needs both driver and vehicle", domain.ErrMissingAssignment)
	}

	next := b.Clone()
	next.Status = req.Target
	next.UpdatedAt = now

	switch req.Target {
	case models.StatusAssigned:
		driverID, vehicleID := req.DriverID, req.VehicleID
		next.DriverID = &driverID
		next.VehicleID = &vehicleID
		assignedAt := now
		next.AssignedAt = &assignedAt
	case models.StatusCompleted:
		completedAt := now
		next.CompletedAt = &completedAt
		price := b.TotalEstimate
		if req.FinalPrice != nil {
			price = *req.FinalPrice
		}
		next.FinalPrice = &price
	case models.StatusCancelled:
		cancelledAt := now
		next.CancelledAt = &cancelledAt
	}

	oldStatus := b.Status
	entry := &models.StatusHistoryEntry{
		ID:        uuid.NewString(),
		BookingID: b.ID,
		OldStatus: &oldStatus,
		NewStatus: req.Target,
		ActorRole: req.Actor.Role,
		Note:      req.Note,
		CreatedAt: now,
	}
	if !req.Actor.IsSystem() {
		actorID := req.Actor.UserID
		entry.ActorID = &actorID
	}

	return next, entry, nil
}

// authorize returns the failed rule, or "" when the actor may use the edge.
func (m *Machine) authorize(b *models.Booking, actor models.Actor, allowed roleSet) string {
	if actor.Role == models.RoleSuperadmin {
		return ""
	}
	if !allowed[actor.Role] {
		return fmt.Sprintf("role %s may not perform this transition", actor.Role)
	}
	switch actor.Role {
	case models.RoleCustomer:
		if actor.UserID == "" || actor.UserID != b.CustomerID {
			return "customers may only act on their own bookings"
		}
	case models.RoleDriver:
		if actor.UserID == "" || b.DriverID == nil || *b.DriverID != actor.UserID {
			return "drivers may only act on bookings assigned to them"
		}
	}
	return ""
}
