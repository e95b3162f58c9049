package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

// NewConsumer declares a durable queue bound to exchange for each routing key.
func NewConsumer(conn *amqp.Connection, exchange, queue string, keys []string, logger observability.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			return nil, errors.Wrapf(err, "bind %s to %s", queue, key)
		}
	}
	if err := ch.Qos(8, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

// Handler processes one delivery body. A returned error requeues the
// message once; a redelivered message that fails again is dropped.
type Handler func(ctx context.Context, routingKey string, body []byte) error

// Consume runs handle for each delivery until ctx is done or the channel
// closes.
func (c *Consumer) Consume(ctx context.Context, handle Handler) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %s", c.queue)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.dispatch(ctx, d, handle)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery, handle Handler) {
	log := c.logger.WithFields(map[string]interface{}{
		"message_id":  d.MessageId,
		"routing_key": d.RoutingKey,
	})
	if err := handle(ctx, d.RoutingKey, d.Body); err != nil {
		requeue := !d.Redelivered
		log.WithError(err).WithField("requeue", requeue).Error("message handling failed")
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.WithError(nackErr).Error("nack failed")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("ack failed")
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
