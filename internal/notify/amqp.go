package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"liftbook/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

const routingKeyPrefix = "booking.status."

// Publisher is the subset of *amqp.Channel used for delivery.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes intents to a topic exchange, routed by the new status.
type AMQPNotifier struct {
	ch       Publisher
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPNotifier(ch Publisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{ch: ch, exchange: exchange}
}

// DialAMQP connects, declares the exchange and returns a ready notifier.
func DialAMQP(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	n := NewAMQPNotifier(ch, exchange)
	n.conn = conn
	return n, nil
}

// RoutingKey returns the key an intent is published with.
func RoutingKey(intent models.NotificationIntent) string {
	return routingKeyPrefix + string(intent.NewStatus)
}

func (n *AMQPNotifier) Notify(ctx context.Context, intent models.NotificationIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}

	err = n.ch.PublishWithContext(ctx, n.exchange, RoutingKey(intent), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    intent.BookingID + ":" + intent.Recipient + ":" + string(intent.NewStatus),
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}
