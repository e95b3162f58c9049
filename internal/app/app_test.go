package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/payment"
	"github.com/robertarktes/event-ticketing/internal/purchase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Store:              "memory",
		PurchaseTTL:        time.Minute,
		FeeRate:            decimal.RequireFromString("0.10"),
		Currency:           "MXN",
		ReserveMaxAttempts: 4,
		TicketSigningKey:   "0123456789abcdef0123456789abcdef",
		PublicBaseURL:      "http://localhost:8080",
	}
}

func TestBuildMemory(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, memoryConfig(), observability.Discard())
	require.NoError(t, err)
	defer a.Close()

	_, sandbox := a.Payments.(*payment.Sandbox)
	assert.True(t, sandbox)
	assert.Same(t, a.Store, a.Catalog)
	require.NoError(t, a.Ping(ctx))

	tt, err := a.Inventory.CreateTicketType(ctx, domain.TicketType{
		EventID:       uuid.New(),
		Name:          "General",
		Price:         decimal.NewFromInt(100),
		Currency:      "MXN",
		CapacityTotal: 5,
		MaxPerOrder:   5,
		IsActive:      true,
	})
	require.NoError(t, err)

	res, err := a.Checkout.Start(ctx, purchaseRequest(tt.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, res.Purchase.PaymentStatus)

	stale, err := a.Sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stale)
}

func TestBuildRejectsShortSigningKey(t *testing.T) {
	cfg := memoryConfig()
	cfg.TicketSigningKey = "short"
	a, err := Build(context.Background(), cfg, observability.Discard())
	require.Error(t, err)
	a.Close()
}

func TestAddCheck(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(), observability.Discard())
	require.NoError(t, err)
	a.AddCheck(func(context.Context) error { return domain.ErrUpstream })
	assert.ErrorIs(t, a.Ping(context.Background()), domain.ErrUpstream)
}

func purchaseRequest(ticketTypeID uuid.UUID) purchase.CheckoutRequest {
	return purchase.CheckoutRequest{
		Buyer:        domain.Buyer{ID: uuid.New(), Email: "buyer@example.com"},
		TicketTypeID: ticketTypeID,
		Quantity:     2,
	}
}
