// Package notify delivers booking status notifications.
package notify

import (
	"context"
	"fmt"

	"liftbook/internal/models"

	"github.com/rs/zerolog"
)

// Message renders the human readable text for an intent.
func Message(intent models.NotificationIntent) string {
	text := fmt.Sprintf("Booking %s is now %s", intent.BookingID, intent.NewStatus.Label())
	if intent.OldStatus == nil {
		text = fmt.Sprintf("New booking %s received (%s)", intent.BookingID, intent.NewStatus.Label())
	}
	if intent.Note != "" {
		text += "\nNote: " + intent.Note
	}
	return text
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, intent models.NotificationIntent) error {
	ev := n.logger.Info().
		Str("booking_id", intent.BookingID).
		Str("recipient", intent.Recipient).
		Str("new_status", string(intent.NewStatus))
	if intent.OldStatus != nil {
		ev = ev.Str("old_status", string(*intent.OldStatus))
	}
	ev.Msg(Message(intent))
	return nil
}
