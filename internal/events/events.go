package events

import (
	"encoding/json"
	"sync"
	"time"

	"liftbook/internal/models"
)

const (
	EventBookingCreated       = "booking.created"
	EventBookingStatusChanged = "booking.status_changed"
	EventDepositPaid          = "booking.deposit_paid"
	EventPaymentRefunded      = "booking.payment_refunded"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// BookingEventPayload is the booking snapshot published after a committed change.
type BookingEventPayload struct {
	BookingID   string             `json:"booking_id"`
	CustomerID  string             `json:"customer_id"`
	ServiceType models.ServiceType `json:"service_type"`
	OldStatus   *models.Status     `json:"old_status,omitempty"`
	NewStatus   models.Status      `json:"new_status"`
	ActorID     string             `json:"actor_id,omitempty"`
	ActorRole   models.Role        `json:"actor_role"`
	Note        string             `json:"note,omitempty"`
	Total       int64              `json:"total_estimate"`
	FinalPrice  *int64             `json:"final_price,omitempty"`
	At          time.Time          `json:"at"`
}

// PaymentEventPayload describes a deposit charge or refund.
type PaymentEventPayload struct {
	BookingID   string               `json:"booking_id"`
	PaymentID   string               `json:"payment_id"`
	AmountCents int64                `json:"amount_cents"`
	Status      models.PaymentStatus `json:"status"`
	ActorID     string               `json:"actor_id,omitempty"`
	At          time.Time            `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex

	// OnError, when set, receives handler failures.
	OnError func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type, then wildcard subscribers.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	onError := b.OnError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
