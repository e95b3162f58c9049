package issuance_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/adapters/memory"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/issuance"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "0123456789abcdef0123456789abcdef"

func completedPurchase(t *testing.T, store *memory.Store, qty int) domain.Purchase {
	t.Helper()
	p := domain.Purchase{
		ID:            uuid.New(),
		BuyerID:       uuid.New(),
		BuyerEmail:    "buyer@example.com",
		EventID:       uuid.New(),
		TicketTypeID:  uuid.New(),
		Quantity:      qty,
		Currency:      "MXN",
		Total:         decimal.NewFromInt(66),
		PaymentStatus: domain.PaymentPending,
		CreatedAt:     time.Now(),
	}
	ctx := context.Background()
	require.NoError(t, store.CreatePurchase(ctx, p))
	ok, err := store.TransitionPurchase(ctx, p.ID, domain.PaymentPending, domain.PaymentCompleted, "pi_1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	p, err = store.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	return p
}

func newIssuer(t *testing.T, store *memory.Store) (*issuance.Issuer, *issuance.Signer) {
	t.Helper()
	signer, err := issuance.NewSigner(signingKey)
	require.NoError(t, err)
	return issuance.NewIssuer(store, signer, observability.Discard()), signer
}

func TestIssueForPurchaseIsExactlyOnce(t *testing.T) {
	store := memory.NewStore()
	issuer, _ := newIssuer(t, store)
	p := completedPurchase(t, store, 3)

	first, err := issuer.IssueForPurchase(context.Background(), p)
	require.NoError(t, err)
	second, err := issuer.IssueForPurchase(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, first, second)

	all, err := store.ListTicketsByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for i, tk := range all {
		assert.Equal(t, i+1, tk.Sequence)
		assert.Equal(t, domain.TicketValid, tk.Status)
		assert.True(t, strings.HasPrefix(tk.TicketNumber, "TKT-"))
	}

	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, domain.EventTicketsIssued, outbox[0].EventType)
	var ev domain.TicketsIssued
	require.NoError(t, json.Unmarshal(outbox[0].Payload, &ev))
	assert.Equal(t, p.ID, ev.PurchaseID)
	assert.Len(t, ev.Tickets, 3)
}

func TestIssueForPurchaseConcurrentDuplicates(t *testing.T) {
	store := memory.NewStore()
	issuer, _ := newIssuer(t, store)
	p := completedPurchase(t, store, 3)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tickets, err := issuer.IssueForPurchase(context.Background(), p)
			assert.NoError(t, err)
			assert.Len(t, tickets, 3)
		}()
	}
	wg.Wait()

	all, err := store.ListTicketsByPurchase(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestIssueForPurchaseRequiresCompleted(t *testing.T) {
	store := memory.NewStore()
	issuer, _ := newIssuer(t, store)

	_, err := issuer.IssueForPurchase(context.Background(), domain.Purchase{ID: uuid.New(), Quantity: 1, PaymentStatus: domain.PaymentPending})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestIssuedPayloadVerifies(t *testing.T) {
	store := memory.NewStore()
	issuer, signer := newIssuer(t, store)
	p := completedPurchase(t, store, 1)

	tickets, err := issuer.IssueForPurchase(context.Background(), p)
	require.NoError(t, err)

	claims, err := signer.Verify(tickets[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, tickets[0].TicketNumber, claims.TicketNumber)
	assert.Equal(t, p.EventID.String(), claims.EventID)
	assert.Equal(t, "event_ticket", claims.Type)
}
