package purchase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/adapters/memory"
	"github.com/robertarktes/event-ticketing/internal/discount"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/inventory"
	"github.com/robertarktes/event-ticketing/internal/issuance"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/payment"
	"github.com/robertarktes/event-ticketing/internal/purchase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type world struct {
	store     *memory.Store
	inventory *inventory.Ledger
	discounts *discount.Ledger
	payments  *payment.Sandbox
	issuer    *issuance.Issuer
	machine   *purchase.Machine
	checkout  *purchase.Checkout

	mu  sync.Mutex
	now time.Time
}

func (w *world) clock() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *world) advance(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = w.now.Add(d)
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{store: memory.NewStore(), now: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	log := observability.Discard()

	w.inventory = inventory.NewLedger(w.store, inventory.WithClock(w.clock), inventory.WithBackoff(time.Microsecond, time.Millisecond))
	w.discounts = discount.NewLedger(w.store, discount.WithClock(w.clock), discount.WithBackoff(time.Microsecond, time.Millisecond))
	w.payments = payment.NewSandbox("http://localhost")

	signer, err := issuance.NewSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	w.issuer = issuance.NewIssuer(w.store, signer, log)
	w.machine = w.machineWith(w.payments)
	w.checkout = purchase.NewCheckout(w.machine, w.inventory, w.discounts, w.payments, "http://localhost", log)
	return w
}

// machineWith builds a machine over the world's store that asks sessions
// about payment state.
func (w *world) machineWith(sessions purchase.SessionRetriever) *purchase.Machine {
	return purchase.NewMachine(purchase.Deps{
		Store:     w.store,
		Inventory: w.inventory,
		Discounts: w.discounts,
		Issuer:    w.issuer,
		Sessions:  sessions,
		FeeRate:   decimal.RequireFromString("0.10"),
		Logger:    observability.Discard(),
		Now:       w.clock,
	})
}

// fixedSessions answers RetrieveSession from a table.
type fixedSessions map[string]payment.SessionStatus

func (f fixedSessions) RetrieveSession(_ context.Context, id string) (payment.SessionStatus, error) {
	st, ok := f[id]
	if !ok {
		return payment.SessionStatus{}, errors.Wrapf(domain.ErrNotFound, "payment session %s", id)
	}
	return st, nil
}

func (w *world) open(t *testing.T, ticketTypeID uuid.UUID, quantity int) domain.Purchase {
	t.Helper()
	ctx := context.Background()
	res, err := w.inventory.Reserve(ctx, ticketTypeID, quantity)
	require.NoError(t, err)
	p, err := w.machine.Open(ctx, purchase.OpenRequest{Buyer: buyer(), TicketTypeID: ticketTypeID, Quantity: quantity, Reservation: res})
	require.NoError(t, err)
	return p
}

func (w *world) ticketType(t *testing.T, capacity int) domain.TicketType {
	t.Helper()
	tt, err := w.inventory.CreateTicketType(context.Background(), domain.TicketType{
		EventID:       uuid.New(),
		Name:          "General",
		Price:         decimal.NewFromInt(20),
		Currency:      "MXN",
		CapacityTotal: capacity,
		MaxPerOrder:   10,
		IsActive:      true,
	})
	require.NoError(t, err)
	return tt
}

func (w *world) reserved(t *testing.T, id uuid.UUID) int {
	t.Helper()
	tt, err := w.inventory.Get(context.Background(), id)
	require.NoError(t, err)
	return tt.CapacityReserved
}

func buyer() domain.Buyer {
	return domain.Buyer{ID: uuid.New(), Email: "buyer@example.com"}
}

func TestCheckoutStartOpensPendingPurchase(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)

	res, err := w.checkout.Start(context.Background(), purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 2})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentPending, res.Purchase.PaymentStatus)
	assert.Equal(t, "44.00", res.Purchase.Total.StringFixed(2))
	assert.NotEmpty(t, res.Session.ID)
	assert.Equal(t, res.Session.ID, res.Purchase.PaymentSessionID)
	assert.Equal(t, 2, w.reserved(t, tt.ID))

	created := w.payments.Created()
	require.Len(t, created, 1)
	assert.Equal(t, res.Purchase.ID, created[0].PurchaseID)
	assert.True(t, created[0].Amount.Equal(res.Purchase.Total))
}

func TestCompleteIsIdempotent(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()

	res, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 3})
	require.NoError(t, err)
	require.NoError(t, w.payments.MarkPaid(res.Session.ID))

	first, err := w.machine.Complete(ctx, res.Purchase.ID, res.Session.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyCompleted)
	assert.Equal(t, domain.PaymentCompleted, first.Purchase.PaymentStatus)
	assert.NotEmpty(t, first.Purchase.PaymentRef)
	require.Len(t, first.Tickets, 3)

	second, err := w.machine.CompleteBySession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)
	assert.Equal(t, domain.PaymentCompleted, second.Purchase.PaymentStatus)
	assert.Equal(t, first.Purchase.PaymentRef, second.Purchase.PaymentRef)
	assert.Equal(t, first.Tickets, second.Tickets)

	assert.Len(t, w.store.Outbox(), 1)
	assert.Equal(t, 3, w.reserved(t, tt.ID))
}

func TestCompleteConcurrentDeliveries(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()

	res, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 3})
	require.NoError(t, err)
	require.NoError(t, w.payments.MarkPaid(res.Session.ID))

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := w.machine.Complete(ctx, res.Purchase.ID, res.Session.ID)
			if !assert.NoError(t, err) {
				return
			}
			assert.Len(t, r.Tickets, 3)
			if !r.AlreadyCompleted {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	tickets, err := w.store.ListTicketsByPurchase(ctx, res.Purchase.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 3)
}

func TestCompleteRejectsMismatchedReference(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()

	a, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1})
	require.NoError(t, err)
	b, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, w.payments.MarkPaid(b.Session.ID))

	_, err = w.machine.Complete(ctx, a.Purchase.ID, b.Session.ID)
	assert.True(t, errors.Is(err, domain.ErrReferenceMismatch))

	p, err := w.machine.Get(ctx, a.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p.PaymentStatus)
}

func TestCompleteWithoutAttachedSessionNeedsMatchingReference(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()
	p := w.open(t, tt.ID, 1)

	m := w.machineWith(fixedSessions{
		"cs_anonymous": {ID: "cs_anonymous", Status: "complete", Paid: true, PaymentRef: "pi_anon"},
		"cs_other":     {ID: "cs_other", PurchaseID: uuid.New(), Status: "complete", Paid: true, PaymentRef: "pi_other"},
		"cs_own":       {ID: "cs_own", PurchaseID: p.ID, Status: "complete", Paid: true, PaymentRef: "pi_own"},
	})

	for _, ref := range []string{"cs_anonymous", "cs_other"} {
		_, err := m.Complete(ctx, p.ID, ref)
		assert.True(t, errors.Is(err, domain.ErrReferenceMismatch), ref)
	}
	assert.Equal(t, domain.PaymentPending, mustGet(t, w, p.ID).PaymentStatus)

	r, err := m.Complete(ctx, p.ID, "cs_own")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, r.Purchase.PaymentStatus)
	assert.Equal(t, "pi_own", r.Purchase.PaymentRef)
	assert.Len(t, r.Tickets, 1)
}

func TestCompleteRejectsCapturedAmountMismatch(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()
	p := w.open(t, tt.ID, 2)
	require.NoError(t, w.machine.AttachSession(ctx, p.ID, "cs_q"))

	sessions := fixedSessions{"cs_q": {
		ID: "cs_q", Status: "complete", Paid: true, PaymentRef: "pi_q",
		Amount: decimal.NewNullDecimal(decimal.NewFromInt(1)), Currency: "MXN",
	}}
	m := w.machineWith(sessions)

	_, err := m.Complete(ctx, p.ID, "")
	assert.True(t, errors.Is(err, domain.ErrReferenceMismatch))
	assert.Equal(t, domain.PaymentPending, mustGet(t, w, p.ID).PaymentStatus)

	st := sessions["cs_q"]
	st.Amount = decimal.NewNullDecimal(p.Total)
	st.Currency = "USD"
	sessions["cs_q"] = st
	_, err = m.Complete(ctx, p.ID, "")
	assert.True(t, errors.Is(err, domain.ErrReferenceMismatch))

	st.Currency = "mxn"
	sessions["cs_q"] = st
	r, err := m.Complete(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, r.Purchase.PaymentStatus)
	assert.Len(t, r.Tickets, 2)
}

func TestCompleteRequiresPaidSession(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()

	res, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1})
	require.NoError(t, err)

	_, err = w.machine.Complete(ctx, res.Purchase.ID, res.Session.ID)
	assert.True(t, errors.Is(err, domain.ErrPaymentNotConfirmed))

	tickets, err := w.store.ListTicketsByPurchase(ctx, res.Purchase.ID)
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestFailReleasesInventoryOnce(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 3)
	ctx := context.Background()

	res, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, 3, w.reserved(t, tt.ID))

	p, err := w.machine.Fail(ctx, res.Purchase.ID, "payment.failed")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, p.PaymentStatus)
	assert.NotNil(t, p.FailedAt)
	assert.Equal(t, 0, w.reserved(t, tt.ID))

	other, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, w.reserved(t, tt.ID))

	_, err = w.machine.Fail(ctx, res.Purchase.ID, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, 3, w.reserved(t, tt.ID), "a repeated fail must not release again")
	assert.Equal(t, domain.PaymentPending, mustGet(t, w, other.Purchase.ID).PaymentStatus)
}

func TestConcurrentFailReleasesOnce(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 4)
	ctx := context.Background()

	keep, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1})
	require.NoError(t, err)
	res, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 3})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.machine.Fail(ctx, res.Purchase.ID, "expired")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, w.reserved(t, tt.ID))
	assert.Equal(t, domain.PaymentPending, mustGet(t, w, keep.Purchase.ID).PaymentStatus)
}

func TestFailReleasesDiscountUse(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()
	one := 1
	_, err := w.discounts.Create(ctx, domain.DiscountCode{Code: "ONCE", Type: domain.DiscountPercentage, Value: decimal.NewFromInt(25), MaxUses: &one, IsActive: true})
	require.NoError(t, err)

	res, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 2, DiscountCode: "once"})
	require.NoError(t, err)
	assert.Equal(t, "10.00", res.Purchase.Discount.StringFixed(2))
	assert.Equal(t, "34.00", res.Purchase.Total.StringFixed(2))

	_, err = w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1, DiscountCode: "ONCE"})
	require.True(t, errors.Is(err, domain.ErrUsageLimitReached))
	assert.Equal(t, 2, w.reserved(t, tt.ID), "inventory of the rejected checkout is released")

	_, err = w.machine.Fail(ctx, res.Purchase.ID, "expired")
	require.NoError(t, err)

	_, err = w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1, DiscountCode: "ONCE"})
	assert.NoError(t, err)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()

	done, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, w.payments.MarkPaid(done.Session.ID))
	_, err = w.machine.Complete(ctx, done.Purchase.ID, done.Session.ID)
	require.NoError(t, err)

	_, err = w.machine.Fail(ctx, done.Purchase.ID, "late")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Equal(t, 1, w.reserved(t, tt.ID))

	failed, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = w.machine.Fail(ctx, failed.Purchase.ID, "cancelled")
	require.NoError(t, err)
	require.NoError(t, w.payments.MarkPaid(failed.Session.ID))
	_, err = w.machine.Complete(ctx, failed.Purchase.ID, failed.Session.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestCheckoutCompensatesProcessorFailure(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()

	w.payments.FailNext(errors.New("provider down"))
	_, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	assert.Equal(t, 0, w.reserved(t, tt.ID))

	stale, err := w.store.ListStalePending(ctx, w.clock().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestCheckoutSurfacesStockShortage(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 2)
	ctx := context.Background()

	_, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 2})
	require.NoError(t, err)

	_, err = w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1})
	var stock *domain.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, 0, stock.Available)
}

func TestOpenRequiresMatchingReservation(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 5)
	ctx := context.Background()

	res, err := w.inventory.Reserve(ctx, tt.ID, 2)
	require.NoError(t, err)

	_, err = w.machine.Open(ctx, purchase.OpenRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 3, Reservation: res})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	p, err := w.machine.Open(ctx, purchase.OpenRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 2, Reservation: res})
	require.NoError(t, err)

	require.NoError(t, w.machine.AttachSession(ctx, p.ID, "cs_a"))
	require.NoError(t, w.machine.AttachSession(ctx, p.ID, "cs_a"))
	err = w.machine.AttachSession(ctx, p.ID, "cs_b")
	assert.True(t, errors.Is(err, domain.ErrReferenceMismatch))
}

func TestSweeperFailsOnlyStalePurchases(t *testing.T) {
	w := newWorld(t)
	tt := w.ticketType(t, 10)
	ctx := context.Background()
	sweeper := purchase.NewSweeper(w.machine, 30*time.Minute, observability.Discard())

	old, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 2})
	require.NoError(t, err)
	paid, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, w.payments.MarkPaid(paid.Session.ID))
	_, err = w.machine.Complete(ctx, paid.Purchase.ID, paid.Session.ID)
	require.NoError(t, err)

	w.advance(40 * time.Minute)
	fresh, err := w.checkout.Start(ctx, purchase.CheckoutRequest{Buyer: buyer(), TicketTypeID: tt.ID, Quantity: 3})
	require.NoError(t, err)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.PaymentFailed, mustGet(t, w, old.Purchase.ID).PaymentStatus)
	assert.Equal(t, domain.PaymentCompleted, mustGet(t, w, paid.Purchase.ID).PaymentStatus)
	assert.Equal(t, domain.PaymentPending, mustGet(t, w, fresh.Purchase.ID).PaymentStatus)
	assert.Equal(t, 4, w.reserved(t, tt.ID))

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func mustGet(t *testing.T, w *world, id uuid.UUID) domain.Purchase {
	t.Helper()
	p, err := w.machine.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}
