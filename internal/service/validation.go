package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"liftbook/internal/domain"
	"liftbook/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/now"
)

const dateLayout = "2006-01-02"

// JobAttributes is everything a customer supplies when requesting a booking.
type JobAttributes struct {
	ServiceType         models.ServiceType `json:"service_type" validate:"required,oneof=crane box_truck"`
	PickupAddress       string             `json:"pickup_address" validate:"required,max=500"`
	PickupLat           *float64           `json:"pickup_lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	PickupLng           *float64           `json:"pickup_lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	DropoffAddress      string             `json:"dropoff_address" validate:"required,max=500"`
	DropoffLat          *float64           `json:"dropoff_lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	DropoffLng          *float64           `json:"dropoff_lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	PreferredDate       string             `json:"preferred_date" validate:"required,datetime=2006-01-02"`
	PreferredTimeWindow models.TimeWindow  `json:"preferred_time_window,omitempty" validate:"omitempty,oneof=morning afternoon flexible"`
	WeightKg            *float64           `json:"weight_kg,omitempty" validate:"omitempty,gte=0"`
	Dimensions          string             `json:"dimensions,omitempty" validate:"max=200"`
	SiteAccess          string             `json:"site_access,omitempty" validate:"max=1000"`
	Photos              []string           `json:"photos,omitempty" validate:"max=20,dive,required,max=500"`
}

// quoteFields are the attributes a quote depends on.
var quoteFields = map[string]bool{
	"service_type": true,
	"weight_kg":    true,
	"pickup_lat":   true,
	"pickup_lng":   true,
	"dropoff_lat":  true,
	"dropoff_lng":  true,
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateJob collects every field failure and returns the parsed preferred
// date when the attributes are acceptable.
func (s *BookingService) validateJob(customerID string, attrs JobAttributes) (time.Time, *domain.ValidationError, error) {
	verr := domain.NewValidationError()

	if strings.TrimSpace(customerID) == "" {
		verr.Add("customer_id", "is required")
	}

	if err := s.validate.Struct(attrs); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return time.Time{}, nil, fmt.Errorf("validate job: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), fieldMessage(fe))
		}
	}

	if strings.TrimSpace(attrs.PickupAddress) == "" {
		verr.Add("pickup_address", "is required")
	}
	if strings.TrimSpace(attrs.DropoffAddress) == "" {
		verr.Add("dropoff_address", "is required")
	}
	checkCoordinatePair(verr, "pickup", attrs.PickupLat, attrs.PickupLng)
	checkCoordinatePair(verr, "dropoff", attrs.DropoffLat, attrs.DropoffLng)

	var date time.Time
	if attrs.PreferredDate != "" {
		current := s.now()
		parsed, err := time.ParseInLocation(dateLayout, attrs.PreferredDate, current.Location())
		if err == nil {
			today := now.With(current).BeginningOfDay()
			switch {
			case parsed.Before(today):
				verr.Add("preferred_date", "must not be in the past")
			case parsed.After(today.AddDate(0, 0, s.settings.MaxBookingDays)):
				verr.Add("preferred_date", fmt.Sprintf("must be within %d days", s.settings.MaxBookingDays))
			default:
				date = parsed
			}
		}
	}

	return date, verr, nil
}

func checkCoordinatePair(verr *domain.ValidationError, prefix string, lat, lng *float64) {
	if (lat == nil) != (lng == nil) {
		field := prefix + "_lng"
		if lat == nil {
			field = prefix + "_lat"
		}
		verr.Add(field, "latitude and longitude must be given together")
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must have at most " + fe.Param() + " items"
		}
		return "must be at most " + fe.Param() + " characters"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	default:
		return "is invalid"
	}
}
