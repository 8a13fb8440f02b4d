package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/metinatakli/cinema-booking/internal/mailer"
	amqp "github.com/rabbitmq/amqp091-go"
)

const bookingConfirmedTemplate = "booking_confirmed.tmpl"

type Handler func(ctx context.Context, event domain.BookingConfirmedEvent) error

// Consumer delivers booking.confirmed messages to a handler and reconnects with
// exponential backoff whenever the broker goes away.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	handler  Handler
	logger   *slog.Logger
}

func NewConsumer(url, queue string, handler Handler, logger *slog.Logger) *Consumer {
	if queue == "" {
		queue = BookingConfirmedQueue
	}

	return &Consumer{
		url:      url,
		queue:    queue,
		prefetch: 20,
		handler:  handler,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		c.logger.Warn("booking consumer stopped, reconnecting", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", c.queue, err)
	}

	c.logger.Info("consuming booking events", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}

			if err := c.Handle(ctx, d.Body); err != nil {
				c.logger.Error("booking event rejected", "message_id", d.MessageId, "error", err)
				// Requeueing a message that fails the same way would loop forever.
				_ = d.Nack(false, false)
				continue
			}

			_ = d.Ack(false)
		}
	}
}

// Handle decodes one message body and passes it to the handler.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var event domain.BookingConfirmedEvent

	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode booking event: %w", err)
	}

	if event.PaymentID == "" {
		return errors.New("booking event has no payment id")
	}

	return c.handler(ctx, event)
}

// EmailHandler sends the booking confirmation email for each event.
func EmailHandler(m mailer.Mailer, logger *slog.Logger) Handler {
	return func(ctx context.Context, event domain.BookingConfirmedEvent) error {
		if event.Email == "" {
			logger.Warn("booking event has no email, skipping", "payment_id", event.PaymentID)
			return nil
		}

		if err := m.Send(event.Email, bookingConfirmedTemplate, event); err != nil {
			return fmt.Errorf("send booking confirmation: %w", err)
		}

		logger.Info("booking confirmation sent", "payment_id", event.PaymentID)

		return nil
	}
}
