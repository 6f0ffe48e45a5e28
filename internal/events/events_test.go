package events

import (
	"errors"
	"testing"

	"liftbook/internal/models"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventBookingStatusChanged, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	old := models.StatusPending
	payload := BookingEventPayload{BookingID: "b-1", OldStatus: &old, NewStatus: models.StatusConfirmed}
	if err := bus.PublishJSON(EventBookingStatusChanged, payload); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != EventBookingStatusChanged {
		t.Errorf("expected type %s, got %s", EventBookingStatusChanged, received.Type)
	}
	if received.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded BookingEventPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.BookingID != "b-1" || decoded.NewStatus != models.StatusConfirmed || *decoded.OldStatus != models.StatusPending {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusMultipleSubscribersAndWildcard(t *testing.T) {
	bus := NewEventBus()
	var count1, count2, all int

	bus.Subscribe(EventBookingCreated, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventBookingCreated, func(_ *Event) error { count2++; return nil })
	bus.Subscribe(AllEvents, func(_ *Event) error { all++; return nil })

	_ = bus.PublishJSON(EventBookingCreated, nil)
	_ = bus.PublishJSON(EventDepositPaid, nil)

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both subscribers called once, got %d and %d", count1, count2)
	}
	if all != 2 {
		t.Errorf("expected wildcard subscriber called twice, got %d", all)
	}
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	var reported error
	bus.OnError = func(_ *Event, err error) { reported = err }

	called := false
	bus.Subscribe(EventBookingCreated, func(_ *Event) error { return errors.New("boom") })
	bus.Subscribe(EventBookingCreated, func(_ *Event) error { called = true; return nil })

	if err := bus.PublishJSON(EventBookingCreated, map[string]string{}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	if reported == nil || reported.Error() != "boom" {
		t.Errorf("expected handler error to be reported, got %v", reported)
	}
	if !called {
		t.Errorf("a failing handler must not stop the others")
	}
}

func TestPublishJSONErrors(t *testing.T) {
	var nilBus *EventBus
	if err := nilBus.PublishJSON("x", nil); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}

	bus := NewEventBus()
	if err := bus.PublishJSON("x", make(chan int)); err == nil {
		t.Errorf("expected marshal error")
	}
}
