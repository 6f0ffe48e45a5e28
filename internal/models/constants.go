package models

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusAssigned  Status = "assigned"
	StatusEnRoute   Status = "en_route"
	StatusOnSite    Status = "on_site"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusAssigned,
	StatusEnRoute,
	StatusOnSite,
	StatusCompleted,
	StatusCancelled,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status: %s", s)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Label returns the human readable name used in notifications and reports.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusConfirmed:
		return "Confirmed"
	case StatusAssigned:
		return "Assigned"
	case StatusEnRoute:
		return "En Route"
	case StatusOnSite:
		return "On Site"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

type ServiceType string

const (
	ServiceCrane    ServiceType = "crane"
	ServiceBoxTruck ServiceType = "box_truck"
)

func (t ServiceType) Valid() bool {
	return t == ServiceCrane || t == ServiceBoxTruck
}

type TimeWindow string

const (
	WindowMorning   TimeWindow = "morning"
	WindowAfternoon TimeWindow = "afternoon"
	WindowFlexible  TimeWindow = "flexible"
)

func (w TimeWindow) Valid() bool {
	return w == WindowMorning || w == WindowAfternoon || w == WindowFlexible
}

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleDispatcher Role = "dispatcher"
	RoleDriver     Role = "driver"
	RoleSuperadmin Role = "superadmin"
	// RoleSystem marks actions taken without a user; it satisfies no role gate.
	RoleSystem Role = "system"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RoleDispatcher, RoleDriver, RoleSuperadmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %s", s)
	}
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

const (
	// DefaultFallbackDistanceKm is used when the distance provider cannot
	// resolve the route.
	DefaultFallbackDistanceKm = 15.0

	// DefaultLockTTL bounds how long a booking stays locked by one request.
	DefaultLockTTL = 10 // seconds

	// DefaultCollaboratorTimeout bounds storage/notification/payment calls.
	DefaultCollaboratorTimeout = 5 // seconds

	// WorkerQueueSize bounds the in-memory outbox queue.
	WorkerQueueSize = 128

	// DefaultMaxBookingDays how far ahead a preferred date may be.
	DefaultMaxBookingDays = 365
)
