// Package outbox relays committed outbox records to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// Source hands unpublished records to publish and marks the accepted ones.
type Source interface {
	PublishOutbox(ctx context.Context, limit int, publish func(context.Context, domain.OutboxRecord) error) (int, error)
}

type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	source    Source
	sink      Sink
	batchSize int
	logger    observability.Logger
}

func NewPublisher(source Source, sink Sink, batchSize int, logger observability.Logger) *Publisher {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Publisher{source: source, sink: sink, batchSize: batchSize, logger: logger}
}

// Flush publishes one batch. The record's dedupe key is the message id so
// consumers can drop redeliveries.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	return p.source.PublishOutbox(ctx, p.batchSize, func(ctx context.Context, rec domain.OutboxRecord) error {
		err := p.sink.Publish(ctx, rec.EventType, amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		})
		if err != nil {
			observability.RabbitPublishRetries.Inc()
			return errors.Wrapf(err, "publish outbox %s", rec.ID)
		}
		return nil
	})
}

// Run flushes every interval, draining full batches back to back.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := p.Flush(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox flush failed")
					break
				}
				if n > 0 {
					p.logger.WithField("published", n).Debug("outbox flushed")
				}
				if n < p.batchSize {
					break
				}
			}
		}
	}
}
