package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liftbook/internal/config"
	"liftbook/internal/domain"
	"liftbook/internal/events"
	"liftbook/internal/metrics"
	"liftbook/internal/models"
	"liftbook/internal/pricing"
	"liftbook/internal/worker"
	"liftbook/internal/workflow"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Settings are the tunables of the lifecycle service.
type Settings struct {
	LockTTL             time.Duration
	CollaboratorTimeout time.Duration
	MaxBookingDays      int
	FallbackDistanceKm  float64
	// MirrorEnabled queues a sheets_upsert task with every change.
	MirrorEnabled bool
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		LockTTL:             cfg.App.LockTTL,
		CollaboratorTimeout: cfg.App.CollaboratorTimeout,
		MaxBookingDays:      cfg.App.MaxBookingDays,
		FallbackDistanceKm:  cfg.Geo.FallbackDistanceKm,
		MirrorEnabled:       cfg.Google.Enabled,
	}
}

func (s Settings) withDefaults() Settings {
	if s.LockTTL <= 0 {
		s.LockTTL = models.DefaultLockTTL * time.Second
	}
	if s.CollaboratorTimeout <= 0 {
		s.CollaboratorTimeout = models.DefaultCollaboratorTimeout * time.Second
	}
	if s.MaxBookingDays <= 0 {
		s.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if s.FallbackDistanceKm <= 0 {
		s.FallbackDistanceKm = models.DefaultFallbackDistanceKm
	}
	return s
}

// BookingService drives bookings through their lifecycle: creation with an
// instant estimate, role-checked transitions, assignment, completion with the
// refined price, and deposit payments.
type BookingService struct {
	repo       domain.Repository
	locker     domain.Locker
	machine    *workflow.Machine
	calc       *pricing.Calculator
	distance   domain.DistanceProvider
	payments   domain.PaymentProvider
	eventBus   domain.EventPublisher
	dispatcher domain.TaskDispatcher
	settings   Settings
	validate   *validator.Validate
	logger     *zerolog.Logger
	now        func() time.Time
}

// NewBookingService wires the service. eventBus and dispatcher may be nil.
func NewBookingService(
	repo domain.Repository,
	locker domain.Locker,
	calc *pricing.Calculator,
	distance domain.DistanceProvider,
	payments domain.PaymentProvider,
	eventBus domain.EventPublisher,
	dispatcher domain.TaskDispatcher,
	settings Settings,
	logger *zerolog.Logger,
) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "booking_service").Logger()
	return &BookingService{
		repo:       repo,
		locker:     locker,
		machine:    workflow.NewMachine(),
		calc:       calc,
		distance:   distance,
		payments:   payments,
		eventBus:   eventBus,
		dispatcher: dispatcher,
		settings:   settings.withDefaults(),
		validate:   newValidator(),
		logger:     &l,
		now:        time.Now,
	}
}

// Quote prices a job without storing anything.
func (s *BookingService) Quote(ctx context.Context, attrs JobAttributes) (*pricing.Estimate, float64, error) {
	_, verr, err := s.validateJob("", attrs)
	if err != nil {
		return nil, 0, err
	}
	quoteErr := domain.NewValidationError()
	for field, msg := range verr.Fields {
		if quoteFields[field] {
			quoteErr.Add(field, msg)
		}
	}
	if err := quoteErr.OrNil(); err != nil {
		return nil, 0, err
	}

	km := s.resolveDistance(ctx, attrs)
	est, err := s.calc.Instant(pricing.JobInput{
		ServiceType: attrs.ServiceType,
		DistanceKm:  decimal.NewFromFloat(km),
		WeightKg:    pricing.DecimalPtr(attrs.WeightKg),
		SiteAccess:  attrs.SiteAccess,
	})
	if err != nil {
		return nil, 0, err
	}
	return est, km, nil
}

// Create validates the request, prices it and stores the booking as pending.
// The creation entry in the history is attributed to actor, who may be the
// customer or staff booking on the customer's behalf.
func (s *BookingService) Create(ctx context.Context, customerID string, attrs JobAttributes, actor models.Actor) (*models.Booking, error) {
	date, verr, err := s.validateJob(customerID, attrs)
	if err != nil {
		return nil, err
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	km := s.resolveDistance(ctx, attrs)
	est, err := s.calc.Instant(pricing.JobInput{
		ServiceType: attrs.ServiceType,
		DistanceKm:  decimal.NewFromFloat(km),
		WeightKg:    pricing.DecimalPtr(attrs.WeightKg),
		SiteAccess:  attrs.SiteAccess,
	})
	if err != nil {
		return nil, err
	}

	window := attrs.PreferredTimeWindow
	if window == "" {
		window = models.WindowMorning
	}

	ts := s.now()
	booking := &models.Booking{
		ID:                      uuid.NewString(),
		CustomerID:              customerID,
		ServiceType:             attrs.ServiceType,
		PickupAddress:           attrs.PickupAddress,
		PickupLat:               attrs.PickupLat,
		PickupLng:               attrs.PickupLng,
		DropoffAddress:          attrs.DropoffAddress,
		DropoffLat:              attrs.DropoffLat,
		DropoffLng:              attrs.DropoffLng,
		PreferredDate:           date,
		PreferredTimeWindow:     window,
		WeightKg:                attrs.WeightKg,
		Dimensions:              attrs.Dimensions,
		SiteAccess:              attrs.SiteAccess,
		Photos:                  attrs.Photos,
		DistanceKm:              km,
		BasePrice:               est.Base,
		DistancePrice:           est.DistanceFee,
		WeightSurcharge:         est.WeightSurcharge,
		SiteDifficultySurcharge: est.SiteDifficultySurcharge,
		TotalEstimate:           est.Total,
		DepositAmount:           est.DepositRequired,
		Status:                  models.StatusPending,
		CreatedAt:               ts,
		UpdatedAt:               ts,
	}

	entry := &models.StatusHistoryEntry{
		ID:        uuid.NewString(),
		BookingID: booking.ID,
		NewStatus: models.StatusPending,
		ActorRole: actor.Role,
		CreatedAt: ts,
	}
	if actor.UserID != "" {
		actorID := actor.UserID
		entry.ActorID = &actorID
	}

	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()

	dispatchers, err := s.dispatcherIDs(cctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.buildTasks(booking, entry, dispatchers)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateBooking(cctx, booking, entry, tasks); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	metrics.IncBookingCreated(string(booking.ServiceType))
	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("customer_id", customerID).
		Str("actor_id", actor.UserID).
		Int64("total_estimate", booking.TotalEstimate).
		Msg("booking created")

	s.dispatch(ctx, tasks)
	s.publishBookingEvent(events.EventBookingCreated, booking, entry)
	return booking, nil
}

// Transition moves a booking to target on behalf of actor.
func (s *BookingService) Transition(ctx context.Context, bookingID string, target models.Status, actor models.Actor, note string) (*models.Booking, *models.StatusHistoryEntry, error) {
	unlock, err := s.lock(ctx, "booking:"+bookingID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	next, entry, err := s.plan(current, workflow.Request{Target: target, Actor: actor, Note: note})
	if err != nil {
		return nil, nil, err
	}
	if err := s.commit(ctx, current, next, entry, ""); err != nil {
		return nil, nil, err
	}
	return next, entry, nil
}

// Assign sets driver and vehicle and moves the booking to assigned. The
// vehicle is reserved in the same write; nothing is stored on rejection.
func (s *BookingService) Assign(ctx context.Context, bookingID, driverID, vehicleID string, actor models.Actor, note string) (*models.Booking, *models.StatusHistoryEntry, error) {
	if actor.Role != models.RoleDispatcher && actor.Role != models.RoleSuperadmin {
		return nil, nil, fmt.Errorf("%w: role %s may not assign bookings", domain.ErrInsufficientRole, actor.Role)
	}

	unlock, err := s.lock(ctx, "booking:"+bookingID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if vehicleID != "" {
		unlockVehicle, err := s.lock(ctx, "vehicle:"+vehicleID)
		if err != nil {
			return nil, nil, err
		}
		defer unlockVehicle()
	}

	current, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	req := workflow.Request{
		Target:    models.StatusAssigned,
		Actor:     actor,
		Note:      note,
		DriverID:  driverID,
		VehicleID: vehicleID,
	}
	next, entry, err := s.plan(current, req)
	if err != nil {
		return nil, nil, err
	}

	if err := s.checkAssignment(ctx, current, driverID, vehicleID); err != nil {
		metrics.IncTransition(string(current.Status), string(models.StatusAssigned), "rejected")
		s.logger.Info().Err(err).Str("booking_id", bookingID).Str("vehicle_id", vehicleID).Msg("assignment rejected")
		return nil, nil, err
	}

	if err := s.commit(ctx, current, next, entry, vehicleID); err != nil {
		return nil, nil, err
	}
	return next, entry, nil
}

func (s *BookingService) checkAssignment(ctx context.Context, b *models.Booking, driverID, vehicleID string) error {
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()

	verr := domain.NewValidationError()
	driver, err := s.repo.GetUserByID(cctx, driverID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		verr.Add("driver_id", "unknown driver")
	case err != nil:
		return fmt.Errorf("load driver: %w", err)
	case driver.Role != models.RoleDriver:
		verr.Add("driver_id", "user is not a driver")
	}

	vehicle, err := s.repo.GetVehicle(cctx, vehicleID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		verr.Add("vehicle_id", "unknown vehicle")
	case err != nil:
		return fmt.Errorf("load vehicle: %w", err)
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if !vehicle.IsAvailable {
		return fmt.Errorf("vehicle %s: %w", vehicleID, domain.ErrVehicleUnavailable)
	}
	if vehicle.Type != b.ServiceType {
		return fmt.Errorf("vehicle %s is %s, booking needs %s: %w", vehicleID, vehicle.Type, b.ServiceType, domain.ErrTypeMismatch)
	}
	return nil
}

// Complete prices the finished job with the refined strategy and moves the
// booking to completed. durationHours may be nil.
func (s *BookingService) Complete(ctx context.Context, bookingID string, actor models.Actor, durationHours *float64, note string) (*models.Booking, *models.StatusHistoryEntry, error) {
	unlock, err := s.lock(ctx, "booking:"+bookingID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	est, err := s.refinedEstimate(ctx, current, durationHours)
	if err != nil {
		return nil, nil, err
	}
	final := est.Total

	next, entry, err := s.plan(current, workflow.Request{
		Target:     models.StatusCompleted,
		Actor:      actor,
		Note:       note,
		FinalPrice: &final,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := s.commit(ctx, current, next, entry, ""); err != nil {
		return nil, nil, err
	}
	return next, entry, nil
}

func (s *BookingService) refinedEstimate(ctx context.Context, b *models.Booking, durationHours *float64) (*pricing.Estimate, error) {
	in := pricing.JobInput{
		ServiceType:   b.ServiceType,
		DistanceKm:    decimal.NewFromFloat(b.DistanceKm),
		WeightKg:      pricing.DecimalPtr(b.WeightKg),
		SiteAccess:    b.SiteAccess,
		DurationHours: pricing.DecimalPtr(durationHours),
	}

	if b.VehicleID != nil && *b.VehicleID != "" {
		cctx, cancel := s.collaboratorCtx(ctx)
		defer cancel()
		vehicle, err := s.repo.GetVehicle(cctx, *b.VehicleID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load vehicle: %w", err)
		}
		if vehicle != nil {
			in.HourlyRateCents = vehicle.HourlyRateCents
		}
	}

	return s.calc.Refined(in)
}

// PayDeposit charges the deposit through the payment provider. The booking
// is marked paid only when the charge succeeds.
func (s *BookingService) PayDeposit(ctx context.Context, bookingID string, actor models.Actor) (*models.Payment, *models.Booking, error) {
	unlock, err := s.lock(ctx, "booking:"+bookingID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	switch actor.Role {
	case models.RoleSuperadmin, models.RoleDispatcher:
	case models.RoleCustomer:
		if actor.UserID != b.CustomerID {
			return nil, nil, fmt.Errorf("%w: customers may only pay their own deposits", domain.ErrInsufficientRole)
		}
	default:
		return nil, nil, fmt.Errorf("%w: role %s may not pay deposits", domain.ErrInsufficientRole, actor.Role)
	}

	if b.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("booking is %s: %w", b.Status, domain.ErrTerminalState)
	}
	if b.DepositPaid {
		return nil, nil, domain.ErrDepositAlreadyPaid
	}

	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()

	// the row exists before money moves so an interrupted charge stays traceable
	payment := &models.Payment{
		ID:          uuid.NewString(),
		BookingID:   b.ID,
		AmountCents: b.DepositAmount,
		Status:      models.PaymentPending,
	}
	if err := s.repo.CreatePayment(cctx, payment); err != nil {
		return nil, nil, fmt.Errorf("record payment: %w", err)
	}

	result, err := s.payments.Charge(cctx, domain.ChargeRequest{BookingID: b.ID, AmountCents: b.DepositAmount})
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", b.ID).Str("payment_id", payment.ID).Msg("deposit charge left pending")
		return nil, nil, fmt.Errorf("charge deposit: %w", err)
	}
	payment.Status = result.Status
	payment.ProviderRef = result.ProviderRef

	if result.Status != models.PaymentSucceeded {
		if err := s.repo.CreatePayment(cctx, payment); err != nil {
			return nil, nil, fmt.Errorf("record payment: %w", err)
		}
		s.logger.Warn().Str("booking_id", b.ID).Str("payment_id", payment.ID).Str("status", string(result.Status)).Msg("deposit charge declined")
		return nil, nil, fmt.Errorf("deposit for %s: %w", b.ID, domain.ErrPaymentDeclined)
	}

	if err := s.repo.SetDepositPaid(cctx, b.ID, b.Version, true, payment); err != nil {
		if rerr := s.repo.CreatePayment(cctx, payment); rerr != nil {
			s.logger.Error().Err(rerr).Str("payment_id", payment.ID).Str("provider_ref", payment.ProviderRef).Msg("charged deposit not recorded")
		} else {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Str("payment_id", payment.ID).Msg("charged deposit recorded but booking not marked paid")
		}
		return nil, nil, fmt.Errorf("mark deposit paid: %w", err)
	}

	updated, err := s.repo.GetBooking(cctx, b.ID)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().Str("booking_id", b.ID).Str("payment_id", payment.ID).Int64("amount", payment.AmountCents).Msg("deposit paid")
	s.queueMirror(ctx, updated.ID)
	s.publishPaymentEvent(events.EventDepositPaid, payment, actor)
	return payment, updated, nil
}

// RefundPayment reverses a succeeded payment and clears the deposit flag.
func (s *BookingService) RefundPayment(ctx context.Context, paymentID string, actor models.Actor) (*models.Payment, error) {
	if actor.Role != models.RoleDispatcher && actor.Role != models.RoleSuperadmin {
		return nil, fmt.Errorf("%w: role %s may not refund payments", domain.ErrInsufficientRole, actor.Role)
	}

	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()

	found, err := s.repo.GetPayment(cctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, "booking:"+found.BookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// another refund may have finished between the lookup and the lock
	payment, err := s.repo.GetPayment(cctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentSucceeded {
		verr := domain.NewValidationError()
		verr.Add("payment_id", fmt.Sprintf("payment is %s, only succeeded payments can be refunded", payment.Status))
		return nil, verr
	}

	b, err := s.repo.GetBooking(cctx, payment.BookingID)
	if err != nil {
		return nil, err
	}

	status, err := s.payments.Refund(cctx, payment.ProviderRef)
	if err != nil {
		return nil, fmt.Errorf("refund payment: %w", err)
	}
	if status != models.PaymentRefunded {
		return nil, fmt.Errorf("refund of %s returned %s: %w", payment.ID, status, domain.ErrPaymentDeclined)
	}

	if err := s.repo.RecordRefund(cctx, b.ID, b.Version, payment.ID); err != nil {
		return nil, fmt.Errorf("record refund: %w", err)
	}
	payment.Status = models.PaymentRefunded

	s.logger.Info().Str("booking_id", b.ID).Str("payment_id", payment.ID).Msg("payment refunded")
	s.queueMirror(ctx, b.ID)
	s.publishPaymentEvent(events.EventPaymentRefunded, payment, actor)
	return payment, nil
}

// GetBooking returns a booking the actor is allowed to see.
func (s *BookingService) GetBooking(ctx context.Context, bookingID string, actor models.Actor) (*models.Booking, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !canView(b, actor) {
		return nil, fmt.Errorf("%w: booking %s is not visible to %s", domain.ErrInsufficientRole, bookingID, actor.Role)
	}
	return b, nil
}

// ListCustomerBookings returns the customer's bookings, newest first.
func (s *BookingService) ListCustomerBookings(ctx context.Context, customerID string, actor models.Actor) ([]*models.Booking, error) {
	if actor.Role == models.RoleCustomer && actor.UserID != customerID {
		return nil, fmt.Errorf("%w: customers may only list their own bookings", domain.ErrInsufficientRole)
	}
	if actor.Role == models.RoleDriver {
		return nil, fmt.Errorf("%w: drivers may not list customer bookings", domain.ErrInsufficientRole)
	}
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()
	return s.repo.GetBookingsByCustomer(cctx, customerID)
}

// History returns the audit trail of a booking in write order.
func (s *BookingService) History(ctx context.Context, bookingID string, actor models.Actor) ([]*models.StatusHistoryEntry, error) {
	if _, err := s.GetBooking(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()
	return s.repo.GetHistory(cctx, bookingID)
}

// Payments lists payment attempts for a booking.
func (s *BookingService) Payments(ctx context.Context, bookingID string, actor models.Actor) ([]*models.Payment, error) {
	if _, err := s.GetBooking(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()
	return s.repo.GetPaymentsByBooking(cctx, bookingID)
}

// AllowedTransitions lists the statuses actor may move the booking to.
func (s *BookingService) AllowedTransitions(ctx context.Context, bookingID string, actor models.Actor) ([]models.Status, error) {
	b, err := s.GetBooking(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	return s.machine.AllowedTargets(b, actor), nil
}

// BookingsInRange returns bookings whose preferred date falls in [start, end].
func (s *BookingService) BookingsInRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()
	return s.repo.GetBookingsByDateRange(cctx, start, end)
}

func canView(b *models.Booking, actor models.Actor) bool {
	switch actor.Role {
	case models.RoleSuperadmin, models.RoleDispatcher, models.RoleSystem:
		return true
	case models.RoleCustomer:
		return actor.UserID != "" && actor.UserID == b.CustomerID
	case models.RoleDriver:
		return actor.UserID != "" && b.DriverID != nil && *b.DriverID == actor.UserID
	}
	return false
}

// plan runs the state machine and records rejections.
func (s *BookingService) plan(current *models.Booking, req workflow.Request) (*models.Booking, *models.StatusHistoryEntry, error) {
	next, entry, err := s.machine.Apply(current, req, s.now())
	if err != nil {
		metrics.IncTransition(string(current.Status), string(req.Target), "rejected")
		s.logger.Info().
			Err(err).
			Str("booking_id", current.ID).
			Str("actor_id", req.Actor.UserID).
			Str("actor_role", string(req.Actor.Role)).
			Msg("transition rejected")
		return nil, nil, err
	}
	return next, entry, nil
}

// commit persists next, its history entry and the resulting outbox tasks in
// one write guarded by the current status and version.
func (s *BookingService) commit(ctx context.Context, current, next *models.Booking, entry *models.StatusHistoryEntry, reserveVehicleID string) error {
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()

	var dispatchers []string
	if next.Status == models.StatusCancelled && entry.ActorRole == models.RoleCustomer {
		ids, err := s.dispatcherIDs(cctx)
		if err != nil {
			return err
		}
		dispatchers = ids
	}

	tasks, err := s.buildTasks(next, entry, dispatchers)
	if err != nil {
		return err
	}

	write := domain.BookingWrite{
		Booking:          next,
		ExpectedStatus:   current.Status,
		ExpectedVersion:  current.Version,
		Entry:            entry,
		Tasks:            tasks,
		ReserveVehicleID: reserveVehicleID,
	}
	if next.Status.IsTerminal() && current.VehicleID != nil && *current.VehicleID != "" {
		write.ReleaseVehicleID = *current.VehicleID
	}

	from, to := string(current.Status), string(next.Status)
	if err := s.repo.ApplyTransition(cctx, write); err != nil {
		result := "error"
		if errors.Is(err, domain.ErrConcurrentModification) || errors.Is(err, domain.ErrVehicleUnavailable) {
			result = "conflict"
		}
		metrics.IncTransition(from, to, result)
		s.logger.Warn().Err(err).Str("booking_id", current.ID).Str("from", from).Str("to", to).Msg("transition not stored")
		return fmt.Errorf("apply transition: %w", err)
	}

	metrics.IncTransition(from, to, "ok")
	s.logger.Info().
		Str("booking_id", next.ID).
		Str("from", from).
		Str("to", to).
		Str("actor_role", string(entry.ActorRole)).
		Msg("booking transitioned")

	s.dispatch(ctx, tasks)
	s.publishBookingEvent(events.EventBookingStatusChanged, next, entry)
	return nil
}

// buildTasks fans a change out to its recipients: the customer always, the
// assigned driver on assignment and cancellation, and the given dispatchers.
// Creation notifies only dispatchers.
func (s *BookingService) buildTasks(b *models.Booking, entry *models.StatusHistoryEntry, dispatchers []string) ([]*models.OutboxTask, error) {
	seen := make(map[string]bool)
	var recipients []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		recipients = append(recipients, id)
	}

	if entry.OldStatus != nil {
		add(b.CustomerID)
		if (b.Status == models.StatusAssigned || b.Status == models.StatusCancelled) && b.DriverID != nil {
			add(*b.DriverID)
		}
	}
	for _, id := range dispatchers {
		add(id)
	}

	tasks := make([]*models.OutboxTask, 0, len(recipients)+1)
	for _, recipient := range recipients {
		payload, err := json.Marshal(models.NotificationIntent{
			BookingID: b.ID,
			OldStatus: entry.OldStatus,
			NewStatus: entry.NewStatus,
			Recipient: recipient,
			Note:      entry.Note,
		})
		if err != nil {
			return nil, fmt.Errorf("encode notification: %w", err)
		}
		tasks = append(tasks, &models.OutboxTask{
			TaskType:  models.TaskNotify,
			BookingID: b.ID,
			Payload:   string(payload),
		})
	}

	if s.settings.MirrorEnabled {
		tasks = append(tasks, &models.OutboxTask{
			TaskType:  models.TaskSheetsUpsert,
			BookingID: b.ID,
			Payload:   worker.SheetsPayload(b.ID),
		})
	}
	return tasks, nil
}

func (s *BookingService) queueMirror(ctx context.Context, bookingID string) {
	if !s.settings.MirrorEnabled {
		return
	}
	task := &models.OutboxTask{TaskType: models.TaskSheetsUpsert, BookingID: bookingID, Payload: worker.SheetsPayload(bookingID)}
	if err := s.repo.CreateOutboxTask(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("booking_id", bookingID).Msg("sheets enqueue error")
		return
	}
	s.dispatch(ctx, []*models.OutboxTask{task})
}

func (s *BookingService) dispatcherIDs(ctx context.Context) ([]string, error) {
	users, err := s.repo.GetUsersByRole(ctx, models.RoleDispatcher)
	if err != nil {
		return nil, fmt.Errorf("load dispatchers: %w", err)
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (s *BookingService) dispatch(ctx context.Context, tasks []*models.OutboxTask) {
	if s.dispatcher == nil || len(tasks) == 0 {
		return
	}
	s.dispatcher.Dispatch(ctx, tasks)
}

func (s *BookingService) resolveDistance(ctx context.Context, attrs JobAttributes) float64 {
	if s.distance == nil {
		return s.settings.FallbackDistanceKm
	}
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()

	from := domain.Location{Address: attrs.PickupAddress, Lat: attrs.PickupLat, Lng: attrs.PickupLng}
	to := domain.Location{Address: attrs.DropoffAddress, Lat: attrs.DropoffLat, Lng: attrs.DropoffLng}
	km, err := s.distance.DistanceKm(cctx, from, to)
	if err != nil {
		s.logger.Warn().Err(err).Float64("fallback_km", s.settings.FallbackDistanceKm).Msg("distance lookup failed, using fallback distance")
		return s.settings.FallbackDistanceKm
	}
	return km
}

func (s *BookingService) load(ctx context.Context, bookingID string) (*models.Booking, error) {
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()
	return s.repo.GetBooking(cctx, bookingID)
}

func (s *BookingService) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locker.TryLock(ctx, key, s.settings.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return unlock, nil
}

func (s *BookingService) collaboratorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.settings.CollaboratorTimeout)
}

func (s *BookingService) publishBookingEvent(eventType string, b *models.Booking, entry *models.StatusHistoryEntry) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:   b.ID,
		CustomerID:  b.CustomerID,
		ServiceType: b.ServiceType,
		OldStatus:   entry.OldStatus,
		NewStatus:   entry.NewStatus,
		ActorRole:   entry.ActorRole,
		Note:        entry.Note,
		Total:       b.TotalEstimate,
		FinalPrice:  b.FinalPrice,
		At:          entry.CreatedAt,
	}
	if entry.ActorID != nil {
		payload.ActorID = *entry.ActorID
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) publishPaymentEvent(eventType string, p *models.Payment, actor models.Actor) {
	if s.eventBus == nil {
		return
	}
	payload := events.PaymentEventPayload{
		BookingID:   p.BookingID,
		PaymentID:   p.ID,
		AmountCents: p.AmountCents,
		Status:      p.Status,
		ActorID:     actor.UserID,
		At:          s.now(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("payment_id", p.ID).Msg("publish event error")
	}
}
