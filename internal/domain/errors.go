package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"liftbook/internal/pricing"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidInput = pricing.ErrInvalidInput

	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInsufficientRole  = errors.New("insufficient role")
	ErrTerminalState     = errors.New("booking is in a terminal state")
	ErrMissingAssignment = errors.New("driver and vehicle are required")

	ErrConcurrentModification = errors.New("concurrent modification")
	ErrVehicleUnavailable     = errors.New("vehicle unavailable")
	ErrTypeMismatch           = errors.New("vehicle type does not match service type")
	ErrGeocoding              = errors.New("geocoding failed")
	ErrNotFound               = errors.New("not found")
	ErrDepositAlreadyPaid     = errors.New("deposit already paid")
	ErrPaymentDeclined        = errors.New("payment declined")
	ErrLockUnavailable        = errors.New("lock backend unavailable")
)

// ValidationError carries every field failure found in one request.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a failure for field, keeping the first message per field.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = msg
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// OrNil returns nil when nothing was recorded, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
