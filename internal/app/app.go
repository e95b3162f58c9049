// Package app wires the core services from configuration. Each binary under
// cmd/ builds an App and then uses the parts it needs.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/event-ticketing/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/discount"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/inventory"
	"github.com/robertarktes/event-ticketing/internal/issuance"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/payment"
	"github.com/robertarktes/event-ticketing/internal/purchase"
	"github.com/robertarktes/event-ticketing/internal/redemption"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is everything the services need from the system of record. Both
// crdb.Repository and memory.Store satisfy it.
type Store interface {
	inventory.Store
	discount.Store
	purchase.Store
	issuance.Store
	redemption.Store

	ListTicketTypes(ctx context.Context, eventID uuid.UUID) ([]domain.TicketType, error)
	EventSales(ctx context.Context, eventID uuid.UUID) (domain.SalesSummary, error)
	FindOverIssued(ctx context.Context) ([]domain.OverIssuedPurchase, error)
	InventoryDrift(ctx context.Context) ([]domain.InventoryDrift, error)
	ListCheckIns(ctx context.Context, ticketID uuid.UUID) ([]domain.CheckIn, error)
	ListPurchasesByBuyer(ctx context.Context, buyerID uuid.UUID, page domain.Page) ([]domain.Purchase, error)
	ListTicketsByUser(ctx context.Context, userID uuid.UUID, page domain.Page) ([]domain.Ticket, error)
	ListAttendees(ctx context.Context, eventID uuid.UUID, status domain.TicketStatus, page domain.Page) ([]domain.Attendee, error)
	PublishOutbox(ctx context.Context, limit int, publish func(context.Context, domain.OutboxRecord) error) (int, error)
}

type Catalog interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	CreateEvent(ctx context.Context, e domain.Event) error
	ListByOrganizer(ctx context.Context, organizerID string) ([]domain.Event, error)
}

type App struct {
	Config    *config.Config
	Logger    observability.Logger
	Store     Store
	Catalog   Catalog
	Payments  payment.Processor
	Signer    *issuance.Signer
	Inventory *inventory.Ledger
	Discounts *discount.Ledger
	Machine   *purchase.Machine
	Checkout  *purchase.Checkout
	Sweeper   *purchase.Sweeper
	Gate      *redemption.Gate

	// AuditLog is nil without MONGO_URI.
	AuditLog *mongoadapter.AuditLogger

	pings   []func(ctx context.Context) error
	closers []func()
}

// Build connects the configured backends and assembles the services.
// Close releases whatever Build opened, also when Build fails halfway.
func Build(ctx context.Context, cfg *config.Config, logger observability.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	var gateOpts []redemption.Option
	switch cfg.Store {
	case "memory":
		store := memory.NewStore()
		a.Store = store
		a.Catalog = store
	default:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			return a, errors.Wrap(err, "connect crdb")
		}
		a.closers = append(a.closers, pool.Close)
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			return a, errors.Wrap(err, "migrate crdb")
		}
		a.Store = repo
		a.pings = append(a.pings, repo.Ping)
	}

	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return a, errors.Wrap(err, "connect mongo")
		}
		a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
		db := client.Database(cfg.MongoDB)
		catalog := mongoadapter.NewCatalogRepository(db, logger)
		if err := catalog.EnsureIndexes(ctx); err != nil {
			return a, errors.Wrap(err, "mongo indexes")
		}
		a.Catalog = catalog
		a.pings = append(a.pings, func(ctx context.Context) error { return client.Ping(ctx, nil) })
		a.AuditLog = mongoadapter.NewAuditLogger(db, logger)
		gateOpts = append(gateOpts, redemption.WithAuditLog(a.AuditLog))
	}
	if a.Catalog == nil {
		return a, errors.New("MONGO_URI is required with STORE=crdb")
	}

	if cfg.PaymentAPIURL == "" {
		logger.Warn("PAYMENT_API_URL not set, using sandbox payment processor")
		a.Payments = payment.NewSandbox(cfg.PublicBaseURL + "/sandbox")
	} else {
		a.Payments = payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentAPIKey, &http.Client{Timeout: 10 * time.Second})
	}

	signer, err := issuance.NewSigner(cfg.TicketSigningKey)
	if err != nil {
		return a, err
	}
	a.Signer = signer

	a.Inventory = inventory.NewLedger(a.Store,
		inventory.WithMaxAttempts(cfg.ReserveMaxAttempts),
		inventory.WithLogger(logger))
	a.Discounts = discount.NewLedger(a.Store,
		discount.WithMaxAttempts(cfg.ReserveMaxAttempts),
		discount.WithLogger(logger))
	a.Machine = purchase.NewMachine(purchase.Deps{
		Store:     a.Store,
		Inventory: a.Inventory,
		Discounts: a.Discounts,
		Issuer:    issuance.NewIssuer(a.Store, signer, logger),
		Sessions:  a.Payments,
		FeeRate:   cfg.FeeRate,
		Logger:    logger,
	})
	a.Checkout = purchase.NewCheckout(a.Machine, a.Inventory, a.Discounts, a.Payments, cfg.PublicBaseURL, logger)
	a.Sweeper = purchase.NewSweeper(a.Machine, cfg.PurchaseTTL, logger)
	a.Gate = redemption.NewGate(a.Store, signer, logger, gateOpts...)
	return a, nil
}

// Ping checks every backend that was connected.
func (a *App) Ping(ctx context.Context) error {
	for _, ping := range a.pings {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AddCheck registers an extra readiness check, e.g. for Redis.
func (a *App) AddCheck(ping func(ctx context.Context) error) {
	a.pings = append(a.pings, ping)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
