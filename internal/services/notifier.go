package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"beyondink/internal/models"
)

// Transport carries a notification event to whatever sends the email.
type Transport interface {
	Deliver(ctx context.Context, event models.NotificationEvent) error
}

// Publisher is the part of the RabbitMQ client the queue transport needs.
type Publisher interface {
	PublishJSON(v any) error
}

// DirectTransport sends the email in-process.
type DirectTransport struct {
	Emails *EmailService
}

func (t DirectTransport) Deliver(ctx context.Context, event models.NotificationEvent) error {
	_, err := t.Emails.HandleEvent(ctx, event)
	return err
}

// QueueTransport publishes the event for the notification consumer.
type QueueTransport struct {
	Publisher Publisher
}

func (t QueueTransport) Deliver(_ context.Context, event models.NotificationEvent) error {
	if t.Publisher == nil {
		return fmt.Errorf("no notification publisher configured")
	}
	return t.Publisher.PublishJSON(event)
}

// Dispatcher is the best-effort notification collaborator used by the
// pipeline. It bounds each delivery with its own timeout.
type Dispatcher struct {
	transport Transport
	timeout   time.Duration
}

// NewDispatcher creates a Dispatcher over transport.
func NewDispatcher(transport Transport, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{transport: transport, timeout: timeout}
}

// Notify builds the event for record and delivers it.
func (d *Dispatcher) Notify(ctx context.Context, eventKind string, record any) error {
	event, err := NewNotificationEvent(eventKind, record)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.transport.Deliver(ctx, event); err != nil {
		return fmt.Errorf("failed to deliver %s: %w", eventKind, err)
	}
	return nil
}

// NewNotificationEvent wraps a stored record in the payload shape the email
// functions accept.
func NewNotificationEvent(eventKind string, record any) (models.NotificationEvent, error) {
	var payload any
	switch r := record.(type) {
	case *models.BookingRequest:
		payload = models.BookingEmailRequest{Booking: r}
	case *models.MailingListSubscriber:
		payload = models.SubscriptionEmailRequest{Email: r.Email, FullName: r.FullName}
	case *models.ContactMessage:
		payload = models.ContactEmailRequest{Contact: r}
	default:
		return models.NotificationEvent{}, fmt.Errorf("no notification payload for %T", record)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.NotificationEvent{}, fmt.Errorf("failed to marshal %s payload: %w", eventKind, err)
	}
	return models.NotificationEvent{Kind: eventKind, Payload: body}, nil
}

// NotificationConsumer returns a queue handler that sends the email for each
// delivered event. Returned errors nack the message.
func NotificationConsumer(emails *EmailService, timeout time.Duration) func(amqp.Delivery) error {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return func(msg amqp.Delivery) error {
		var event models.NotificationEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			return fmt.Errorf("failed to decode notification event: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := emails.HandleEvent(ctx, event); err != nil {
			return err
		}
		slog.Info("notification sent", "event", event.Kind, "delivery_tag", msg.DeliveryTag)
		return nil
	}
}
