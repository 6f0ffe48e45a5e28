package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"liftbook/internal/domain"
	"liftbook/internal/workflow"
)

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Rule    string            `json:"rule,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

var sentinelStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidInput, http.StatusUnprocessableEntity, "invalid_input"},
	{domain.ErrMissingAssignment, http.StatusUnprocessableEntity, "missing_assignment"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrInsufficientRole, http.StatusForbidden, "insufficient_role"},
	{domain.ErrTerminalState, http.StatusConflict, "terminal_state"},
	{domain.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{domain.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
	{domain.ErrVehicleUnavailable, http.StatusConflict, "vehicle_unavailable"},
	{domain.ErrTypeMismatch, http.StatusConflict, "type_mismatch"},
	{domain.ErrDepositAlreadyPaid, http.StatusConflict, "deposit_already_paid"},
	{domain.ErrPaymentDeclined, http.StatusPaymentRequired, "payment_declined"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrLockUnavailable, http.StatusServiceUnavailable, "lock_unavailable"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// writeDomainError maps service errors onto HTTP statuses. Anything not
// recognised is logged and reported as an internal error.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:   "validation_error",
			Message: "request validation failed",
			Fields:  verr.Fields,
		})
		return
	}

	for _, s := range sentinelStatus {
		if !errors.Is(err, s.err) {
			continue
		}
		body := errorBody{Error: s.code, Message: err.Error()}
		var terr *workflow.TransitionError
		if errors.As(err, &terr) {
			body.Rule = terr.Rule
		}
		if s.status >= http.StatusInternalServerError {
			requestLogger(r).Warn().Err(err).Msg("request failed")
		}
		writeJSON(w, s.status, body)
		return
	}

	requestLogger(r).Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal server error"})
}

func writeValidation(w http.ResponseWriter, field, msg string) {
	verr := domain.NewValidationError()
	verr.Add(field, msg)
	writeJSON(w, http.StatusUnprocessableEntity, errorBody{
		Error:   "validation_error",
		Message: "request validation failed",
		Fields:  verr.Fields,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorBody{Error: message})
}
