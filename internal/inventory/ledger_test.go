package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/adapters/memory"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/inventory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, opts ...inventory.Option) (*inventory.Ledger, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	opts = append([]inventory.Option{
		inventory.WithClock(func() time.Time { return now }),
		inventory.WithBackoff(time.Microsecond, time.Millisecond),
	}, opts...)
	return inventory.NewLedger(store, opts...), store
}

func createType(t *testing.T, l *inventory.Ledger, capacity, maxPerOrder int) domain.TicketType {
	t.Helper()
	tt, err := l.CreateTicketType(context.Background(), domain.TicketType{
		EventID:       uuid.New(),
		Name:          "General",
		Price:         decimal.NewFromInt(20),
		Currency:      "MXN",
		CapacityTotal: capacity,
		MaxPerOrder:   maxPerOrder,
		IsActive:      true,
	})
	require.NoError(t, err)
	return tt
}

func TestReserveNeverOversells(t *testing.T) {
	const n = 24
	l, _ := newLedger(t, inventory.WithMaxAttempts(n))
	tt := createType(t, l, n-1, 10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		outOfStk int
		other    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.Reserve(context.Background(), tt.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientStock):
				outOfStk++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, n-1, ok)
	assert.Equal(t, 1, outOfStk)

	got, err := l.Get(context.Background(), tt.ID)
	require.NoError(t, err)
	assert.Equal(t, n-1, got.CapacityReserved)
}

func TestReserveReturnsPostIncrementSnapshot(t *testing.T) {
	l, _ := newLedger(t)
	tt := createType(t, l, 10, 5)

	res, err := l.Reserve(context.Background(), tt.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.CapacityReserved)
	assert.Equal(t, 10, res.CapacityTotal)
	assert.Equal(t, tt.EventID, res.EventID)
	assert.True(t, res.UnitPrice.Equal(decimal.NewFromInt(20)))

	res, err = l.Reserve(context.Background(), tt.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, res.CapacityReserved)
}

func TestReserveRejections(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Reserve(ctx, uuid.New(), 1)
	assert.True(t, errors.Is(err, domain.ErrTicketTypeNotFound))

	tt := createType(t, l, 3, 2)

	_, err = l.Reserve(ctx, tt.ID, 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = l.Reserve(ctx, tt.ID, 4)
	var stock *domain.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, 3, stock.Available)
	assert.Equal(t, 4, stock.Requested)

	_, err = l.Reserve(ctx, tt.ID, 3)
	assert.True(t, errors.Is(err, domain.ErrOrderLimitExceeded))

	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	notYet := createType(t, l, 3, 2)
	notYet.SalesStart = &later
	_, err = l.UpdateTicketType(ctx, notYet)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, notYet.ID, 1)
	assert.True(t, errors.Is(err, domain.ErrSalesNotStarted))
	assert.True(t, errors.Is(err, domain.ErrInactive))

	ended := createType(t, l, 3, 2)
	ended.SalesEnd = &earlier
	_, err = l.UpdateTicketType(ctx, ended)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, ended.ID, 1)
	assert.True(t, errors.Is(err, domain.ErrSalesEnded))

	off := createType(t, l, 3, 2)
	off.IsActive = false
	_, err = l.UpdateTicketType(ctx, off)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, off.ID, 1)
	assert.True(t, errors.Is(err, domain.ErrInactive))
	assert.False(t, errors.Is(err, domain.ErrSalesEnded))
}

func TestReleaseClampsAtZero(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	tt := createType(t, l, 3, 3)

	_, err := l.Reserve(ctx, tt.ID, 2)
	require.NoError(t, err)

	got, err := l.Release(ctx, tt.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CapacityReserved)
	assert.Equal(t, int64(2), got.Version)
}

func TestReleaseFreesCapacityForNextBuyer(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	tt := createType(t, l, 3, 3)

	_, err := l.Reserve(ctx, tt.ID, 3)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, tt.ID, 1)
	require.True(t, errors.Is(err, domain.ErrInsufficientStock))

	_, err = l.Release(ctx, tt.ID, 3)
	require.NoError(t, err)
	res, err := l.Reserve(ctx, tt.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.CapacityReserved)
}

func TestCreateTicketTypeValidation(t *testing.T) {
	l, _ := newLedger(t)
	start := now
	end := now.Add(-time.Minute)

	cases := map[string]domain.TicketType{
		"no capacity":    {EventID: uuid.New(), Name: "A", Currency: "MXN", MaxPerOrder: 1},
		"negative price": {EventID: uuid.New(), Name: "A", Currency: "MXN", CapacityTotal: 1, MaxPerOrder: 1, Price: decimal.NewFromInt(-1)},
		"no max":         {EventID: uuid.New(), Name: "A", Currency: "MXN", CapacityTotal: 1},
		"bad window":     {EventID: uuid.New(), Name: "A", Currency: "MXN", CapacityTotal: 1, MaxPerOrder: 1, SalesStart: &start, SalesEnd: &end},
		"no event":       {Name: "A", Currency: "MXN", CapacityTotal: 1, MaxPerOrder: 1},
	}
	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.CreateTicketType(context.Background(), tt)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		})
	}
}

func TestUpdateTicketTypeKeepsReservedCount(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	tt := createType(t, l, 5, 5)
	_, err := l.Reserve(ctx, tt.ID, 4)
	require.NoError(t, err)

	tt.CapacityTotal = 3
	_, err = l.UpdateTicketType(ctx, tt)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	tt.CapacityTotal = 8
	tt.Name = "Early bird"
	got, err := l.UpdateTicketType(ctx, tt)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CapacityReserved)
	assert.Equal(t, 8, got.CapacityTotal)
	assert.Equal(t, "Early bird", got.Name)
}
