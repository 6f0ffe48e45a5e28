package models

import "time"

type Booking struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`

	ServiceType         ServiceType `json:"service_type"`
	PickupAddress       string      `json:"pickup_address"`
	PickupLat           *float64    `json:"pickup_lat,omitempty"`
	PickupLng           *float64    `json:"pickup_lng,omitempty"`
	DropoffAddress      string      `json:"dropoff_address"`
	DropoffLat          *float64    `json:"dropoff_lat,omitempty"`
	DropoffLng          *float64    `json:"dropoff_lng,omitempty"`
	PreferredDate       time.Time   `json:"preferred_date"`
	PreferredTimeWindow TimeWindow  `json:"preferred_time_window"`
	WeightKg            *float64    `json:"weight_kg,omitempty"`
	Dimensions          string      `json:"dimensions,omitempty"`
	SiteAccess          string      `json:"site_access,omitempty"`
	Photos              []string    `json:"photos,omitempty"`
	DistanceKm          float64     `json:"distance_km"`

	// Pricing snapshot, integer cents.
	BasePrice               int64  `json:"base_price"`
	DistancePrice           int64  `json:"distance_price"`
	WeightSurcharge         int64  `json:"weight_surcharge"`
	SiteDifficultySurcharge int64  `json:"site_difficulty_surcharge"`
	TotalEstimate           int64  `json:"total_estimate"`
	DepositAmount           int64  `json:"deposit_amount"`
	DepositPaid             bool   `json:"deposit_paid"`
	FinalPrice              *int64 `json:"final_price,omitempty"`

	DriverID   *string    `json:"driver_id,omitempty"`
	VehicleID  *string    `json:"vehicle_id,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Version     int64      `json:"version"`
}

// Clone returns a deep copy so callers can derive a new state without
// touching the original.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.PickupLat = cloneFloat(b.PickupLat)
	c.PickupLng = cloneFloat(b.PickupLng)
	c.DropoffLat = cloneFloat(b.DropoffLat)
	c.DropoffLng = cloneFloat(b.DropoffLng)
	c.WeightKg = cloneFloat(b.WeightKg)
	if b.Photos != nil {
		c.Photos = append([]string(nil), b.Photos...)
	}
	if b.FinalPrice != nil {
		v := *b.FinalPrice
		c.FinalPrice = &v
	}
	c.DriverID = cloneString(b.DriverID)
	c.VehicleID = cloneString(b.VehicleID)
	c.AssignedAt = cloneTime(b.AssignedAt)
	c.CompletedAt = cloneTime(b.CompletedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	return &c
}

// IsAssigned reports whether both driver and vehicle are set.
func (b *Booking) IsAssigned() bool {
	return b.DriverID != nil && *b.DriverID != "" && b.VehicleID != nil && *b.VehicleID != ""
}

// StatusHistoryEntry is one immutable audit row. OldStatus is nil for the
// entry written when the booking is created; ActorID is nil for system actions.
type StatusHistoryEntry struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	OldStatus *Status   `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ActorID   *string   `json:"actor_id"`
	ActorRole Role      `json:"actor_role"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
