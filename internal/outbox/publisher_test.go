package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-ticketing/internal/adapters/memory"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	fail bool
	got  []amqp.Publishing
	keys []string
}

func (s *sink) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	if s.fail {
		return errors.New("channel closed")
	}
	s.keys = append(s.keys, key)
	s.got = append(s.got, msg)
	return nil
}

func issue(t *testing.T, store *memory.Store) domain.Purchase {
	t.Helper()
	ctx := context.Background()
	tt := domain.TicketType{ID: uuid.New(), EventID: uuid.New(), Price: decimal.NewFromInt(5), CapacityTotal: 5, MaxPerOrder: 5, IsActive: true}
	p := domain.NewPurchase(domain.Buyer{ID: uuid.New()}, domain.NewReservation(tt, 1), nil, decimal.Zero, time.Now())
	p.PaymentStatus = domain.PaymentCompleted
	require.NoError(t, store.CreatePurchase(ctx, p))
	_, err := store.InsertTickets(ctx, p, []domain.Ticket{{ID: uuid.New(), TicketNumber: uuid.NewString(), PurchaseID: p.ID, Sequence: 1}})
	require.NoError(t, err)
	return p
}

func TestFlushPublishesOnce(t *testing.T) {
	store := memory.NewStore()
	p := issue(t, store)
	s := &sink{}
	pub := outbox.NewPublisher(store, s, 10, observability.Discard())

	n, err := pub.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, s.got, 1)
	assert.Equal(t, domain.EventTicketsIssued, s.keys[0])
	assert.Contains(t, s.got[0].MessageId, p.ID.String())
	assert.Equal(t, amqp.Persistent, s.got[0].DeliveryMode)

	n, err = pub.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlushKeepsRecordOnFailure(t *testing.T) {
	store := memory.NewStore()
	issue(t, store)
	s := &sink{fail: true}
	pub := outbox.NewPublisher(store, s, 10, observability.Discard())

	_, err := pub.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.OutboxNew, store.Outbox()[0].Status)

	s.fail = false
	n, err := pub.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
