package notify

import (
	"context"
	"fmt"

	"liftbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender is the subset of the bot API used for delivery.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// TelegramNotifier sends the notification to the recipient's Telegram chat.
// Recipients without a chat id are skipped.
type TelegramNotifier struct {
	bot    TelegramSender
	users  UserLookup
	logger *zerolog.Logger
}

func NewTelegramNotifier(bot TelegramSender, users UserLookup, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, users: users, logger: logger}
}

// NewTelegramBot connects to the Bot API with the given token.
func NewTelegramBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, intent models.NotificationIntent) error {
	user, err := n.users.GetUserByID(ctx, intent.Recipient)
	if err != nil {
		return fmt.Errorf("lookup recipient %s: %w", intent.Recipient, err)
	}
	if user.TelegramChatID == 0 {
		n.logger.Debug().Str("recipient", user.ID).Msg("Recipient has no telegram chat, skipping")
		return nil
	}

	msg := tgbotapi.NewMessage(user.TelegramChatID, Message(intent))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
