package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
)

// PaymentConfirmedQueue carries gateway confirmations for deferred payments.
const PaymentConfirmedQueue = "payment.confirmed"

// Handler processes one message body. A nil error acks the delivery.
type Handler func(ctx context.Context, body []byte) error

type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

func NewConsumer(conn *amqp.Connection, queue string, logger observability.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.Qos(50, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}
	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

// Consume delivers messages to handle until ctx is done or the channel closes.
// A storage failure is requeued once; any other failure is rejected without
// requeue so a poison message cannot loop.
func (c *Consumer) Consume(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %s", c.queue)
	}
	for {
		select {
		case <-ctx.Done():
			return c.ch.Close()
		case d, ok := <-msgs:
			if !ok {
				return errors.Newf("deliveries channel for %s closed", c.queue)
			}
			if err := handle(ctx, d.Body); err != nil {
				c.logger.WithField("queue", c.queue).WithField("message_id", d.MessageId).WithError(err).Error("failed to handle message")
				_ = d.Nack(false, errors.Is(err, domain.ErrStorage) && !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
