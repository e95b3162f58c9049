package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/app"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/domain"
	apihttp "github.com/robertarktes/event-ticketing/internal/http"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/purchase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "ctl-secret-0123456789"

func testConfig() *config.Config {
	return &config.Config{
		Store:              "memory",
		PurchaseTTL:        time.Hour,
		FeeRate:            decimal.RequireFromString("0.10"),
		Currency:           "MXN",
		ReserveMaxAttempts: 4,
		JWTSecret:          jwtSecret,
		TicketSigningKey:   "0123456789abcdef0123456789abcdef",
		PublicBaseURL:      "http://localhost",
	}
}

// fixture builds one shared memory app and a pending purchase on it.
func fixture(t *testing.T) (*app.App, domain.Purchase) {
	t.Helper()
	ctx := context.Background()
	a, err := app.Build(ctx, testConfig(), observability.Discard())
	require.NoError(t, err)

	tt, err := a.Inventory.CreateTicketType(ctx, domain.TicketType{
		EventID:       uuid.New(),
		Name:          "General",
		Price:         decimal.NewFromInt(50),
		Currency:      "MXN",
		CapacityTotal: 10,
		MaxPerOrder:   4,
		IsActive:      true,
	})
	require.NoError(t, err)
	res, err := a.Checkout.Start(ctx, purchase.CheckoutRequest{
		Buyer:        domain.Buyer{ID: uuid.New(), Email: "buyer@example.com"},
		TicketTypeID: tt.ID,
		Quantity:     3,
	})
	require.NoError(t, err)
	return a, res.Purchase
}

func run(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	open := func(context.Context) (*app.App, error) { return a, nil }
	cfg := testConfig()
	cmd := newRootCmd(open, func() (*config.Config, error) { return cfg, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFailPurchaseReleasesInventory(t *testing.T) {
	a, p := fixture(t)

	out, err := run(t, a, "fail-purchase", p.ID.String(), "--reason", "refund requested")
	require.NoError(t, err)
	assert.Contains(t, out, "is failed")

	tt, err := a.Inventory.Get(context.Background(), p.TicketTypeID)
	require.NoError(t, err)
	assert.Zero(t, tt.CapacityReserved)

	_, err = run(t, a, "fail-purchase", "not-a-uuid")
	assert.Error(t, err)
}

func TestReconciliationCommandsOnCleanStore(t *testing.T) {
	a, p := fixture(t)

	out, err := run(t, a, "check-duplicates")
	require.NoError(t, err)
	assert.Contains(t, out, "no over-issued purchases")

	out, err = run(t, a, "audit-inventory")
	require.NoError(t, err)
	assert.Contains(t, out, "inventory counters match")

	out, err = run(t, a, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "failed 0 stale purchase(s)")

	out, err = run(t, a, "stats", p.EventID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "total=0")

	_, err = run(t, a, "check-audit", p.EventID.String())
	assert.ErrorContains(t, err, "MONGO_URI")
}

func TestIssueToken(t *testing.T) {
	a, _ := fixture(t)

	out, err := run(t, a, "issue-token", "door-1", "--role", apihttp.RoleDoor)
	require.NoError(t, err)
	claims, err := apihttp.NewAuthenticator(jwtSecret).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "door-1", claims.Subject)
	assert.Equal(t, apihttp.RoleDoor, claims.Role)

	_, err = run(t, a, "issue-token", "door-1", "--role", "root")
	assert.Error(t, err)
	_, err = run(t, a, "issue-token", "not-a-uuid", "--role", apihttp.RoleBuyer)
	assert.Error(t, err)
}
