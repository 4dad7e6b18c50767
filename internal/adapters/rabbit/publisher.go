package rabbit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/showtime-reservations/internal/observability"
)

// EventsExchange is the topic exchange notifications are published to; the
// routing key is the notification topic.
const EventsExchange = "showtime.events"

type Publisher struct {
	mu     sync.Mutex
	ch     *amqp.Channel
	logger observability.Logger
}

func NewPublisher(conn *amqp.Connection, logger observability.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	err = ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Publisher{ch: ch, logger: logger}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, EventsExchange, key, false, false, msg)
}

// Emit publishes payload as JSON. Failures are logged and swallowed; use it
// behind notify.Async so a slow broker never stalls a request.
func (p *Publisher) Emit(ctx context.Context, topic string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithField("topic", topic).WithError(err).Error("failed to marshal notification")
		return
	}
	msg := amqp.Publishing{
		MessageId:    uuid.New().String(),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.Publish(ctx, topic, msg); err != nil {
		p.logger.WithField("topic", topic).WithError(err).Error("failed to publish notification")
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
