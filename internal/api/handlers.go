package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"liftbook/internal/domain"
	"liftbook/internal/export"
	"liftbook/internal/models"
	"liftbook/internal/service"
)

const dateLayout = "2006-01-02"

type createBookingRequest struct {
	service.JobAttributes
	CustomerID string `json:"customer_id,omitempty"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type assignRequest struct {
	DriverID  string `json:"driver_id"`
	VehicleID string `json:"vehicle_id"`
	Note      string `json:"note,omitempty"`
}

type completeRequest struct {
	DurationHours *float64 `json:"duration_hours,omitempty"`
	Note          string   `json:"note,omitempty"`
}

type transitionResponse struct {
	Booking      *models.Booking            `json:"booking"`
	HistoryEntry *models.StatusHistoryEntry `json:"history_entry"`
}

// decodeJSON reads an optional JSON body; an empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request, _ models.Actor) {
	var attrs service.JobAttributes
	if !decodeJSON(w, r, &attrs) {
		return
	}

	est, km, err := s.bookings.Quote(r.Context(), attrs)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"estimate": est, "distance_km": km})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	var req createBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	customerID, err := s.bookingOwner(r, actor, strings.TrimSpace(req.CustomerID))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	b, err := s.bookings.Create(r.Context(), customerID, req.JobAttributes, actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": b})
}

// bookingOwner decides whose booking is being created. Customers book for
// themselves; dispatchers and superadmins book on behalf of a customer.
func (s *HTTPServer) bookingOwner(r *http.Request, actor models.Actor, requested string) (string, error) {
	switch actor.Role {
	case models.RoleCustomer:
		if requested != "" && requested != actor.UserID {
			return "", fmt.Errorf("%w: customers may only book for themselves", domain.ErrInsufficientRole)
		}
		return actor.UserID, nil
	case models.RoleDispatcher, models.RoleSuperadmin:
		verr := domain.NewValidationError()
		if requested == "" {
			verr.Add("customer_id", "is required")
			return "", verr
		}
		user, err := s.users.GetUser(r.Context(), requested)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		if user == nil || user.Role != models.RoleCustomer {
			verr.Add("customer_id", "must reference a customer")
			return "", verr
		}
		return requested, nil
	default:
		return "", fmt.Errorf("%w: %s may not create bookings", domain.ErrInsufficientRole, actor.Role)
	}
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	id := r.PathValue("id")
	b, err := s.bookings.GetBooking(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	allowed, err := s.bookings.AllowedTransitions(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b, "allowed_transitions": allowed})
}

func (s *HTTPServer) handleCustomerBookings(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	list, err := s.bookings.ListCustomerBookings(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := models.ParseStatus(strings.TrimSpace(req.Status))
	if err != nil {
		writeValidation(w, "status", "must be a known booking status")
		return
	}

	b, entry, err := s.bookings.Transition(r.Context(), r.PathValue("id"), target, actor, req.Note)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Booking: b, HistoryEntry: entry})
}

func (s *HTTPServer) handleAllowedTransitions(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	allowed, err := s.bookings.AllowedTransitions(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if allowed == nil {
		allowed = []models.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed_transitions": allowed})
}

func (s *HTTPServer) handleAssign(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, entry, err := s.bookings.Assign(r.Context(), r.PathValue("id"),
		strings.TrimSpace(req.DriverID), strings.TrimSpace(req.VehicleID), actor, req.Note)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Booking: b, HistoryEntry: entry})
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	var req completeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, entry, err := s.bookings.Complete(r.Context(), r.PathValue("id"), actor, req.DurationHours, req.Note)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Booking: b, HistoryEntry: entry})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	history, err := s.bookings.History(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *HTTPServer) handlePayments(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	payments, err := s.bookings.Payments(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (s *HTTPServer) handlePayDeposit(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	p, b, err := s.bookings.PayDeposit(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment": p, "booking": b})
}

func (s *HTTPServer) handleRefund(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	p, err := s.bookings.RefundPayment(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": p})
}

func (s *HTTPServer) handleVehicles(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	if !hasRole(actor, models.RoleDispatcher, models.RoleSuperadmin) {
		writeDomainError(w, r, fmt.Errorf("%w: fleet is visible to dispatchers only", domain.ErrInsufficientRole))
		return
	}
	vehicles, err := s.users.GetVehicles(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})
}

func (s *HTTPServer) handleDrivers(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	if !hasRole(actor, models.RoleDispatcher, models.RoleSuperadmin) {
		writeDomainError(w, r, fmt.Errorf("%w: drivers are visible to dispatchers only", domain.ErrInsufficientRole))
		return
	}
	drivers, err := s.users.GetDrivers(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if drivers == nil {
		drivers = []*models.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

// handleAuditReport streams the audit workbook for ?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (s *HTTPServer) handleAuditReport(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	if !hasRole(actor, models.RoleDispatcher, models.RoleSuperadmin) {
		writeDomainError(w, r, fmt.Errorf("%w: reports are restricted to dispatchers", domain.ErrInsufficientRole))
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "reports are disabled")
		return
	}

	q := r.URL.Query()
	from, err := time.Parse(dateLayout, q.Get("from"))
	if err != nil {
		writeValidation(w, "from", "must be a date in YYYY-MM-DD format")
		return
	}
	to, err := time.Parse(dateLayout, q.Get("to"))
	if err != nil {
		writeValidation(w, "to", "must be a date in YYYY-MM-DD format")
		return
	}
	if to.Before(from) {
		writeValidation(w, "to", "must not be before from")
		return
	}

	wb, err := s.exporter.AuditWorkbook(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	defer func() { _ = wb.Close() }()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.WriteHeader(http.StatusOK)
	if err := wb.Write(w); err != nil {
		requestLogger(r).Error().Err(err).Msg("stream audit workbook")
	}
}

func (s *HTTPServer) handleFailedOutbox(w http.ResponseWriter, r *http.Request, actor models.Actor) {
	if !hasRole(actor, models.RoleSuperadmin) {
		writeDomainError(w, r, fmt.Errorf("%w: outbox is restricted to superadmins", domain.ErrInsufficientRole))
		return
	}
	if s.outbox == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []models.OutboxTask{}})
		return
	}
	tasks, err := s.outbox.GetFailedOutboxTasks(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.OutboxTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func hasRole(actor models.Actor, roles ...models.Role) bool {
	for _, role := range roles {
		if actor.Role == role {
			return true
		}
	}
	return false
}
