package models

import "time"

// Payment records one call to the payment provider for a booking.
type Payment struct {
	ID          string        `json:"id"`
	BookingID   string        `json:"booking_id"`
	AmountCents int64         `json:"amount_cents"`
	Status      PaymentStatus `json:"status"`
	ProviderRef string        `json:"provider_ref,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NotificationIntent describes a status change the notification
// collaborator should deliver to one recipient.
type NotificationIntent struct {
	BookingID string  `json:"booking_id"`
	OldStatus *Status `json:"old_status,omitempty"`
	NewStatus Status  `json:"new_status"`
	Recipient string  `json:"recipient"`
	Note      string  `json:"note,omitempty"`
}

const (
	TaskNotify       = "notify"
	TaskSheetsUpsert = "sheets_upsert"
)

const (
	OutboxPending   = "pending"
	OutboxRetry     = "retry"
	OutboxCompleted = "completed"
	OutboxFailed    = "failed"
)

// OutboxTask represents a queued side effect written in the same
// transaction as the booking change that caused it.
type OutboxTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	BookingID   string     `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
