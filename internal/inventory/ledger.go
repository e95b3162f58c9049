package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/retry"
	"go.opentelemetry.io/otel/attribute"
)

// Store is the persistence the ledger needs. CompareAndSetReserved must
// write only when the stored version equals version, bumping it, and return
// domain.ErrStaleVersion otherwise.
type Store interface {
	GetTicketType(ctx context.Context, id uuid.UUID) (domain.TicketType, error)
	CreateTicketType(ctx context.Context, t domain.TicketType) error
	CompareAndSetReserved(ctx context.Context, id uuid.UUID, version int64, reserved int) (domain.TicketType, error)
	// UpdateTicketType rewrites the organizer settings of t, leaving
	// capacity_reserved alone, under the same version check.
	UpdateTicketType(ctx context.Context, t domain.TicketType) (domain.TicketType, error)
}

type Ledger struct {
	store  Store
	policy retry.Policy
	now    func() time.Time
	logger observability.Logger
}

type Option func(*Ledger)

func WithMaxAttempts(n int) Option {
	return func(l *Ledger) { l.policy.MaxAttempts = n }
}

func WithBackoff(base, maxDelay time.Duration) Option {
	return func(l *Ledger) {
		l.policy.BaseDelay = base
		l.policy.MaxDelay = maxDelay
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger observability.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		policy: retry.DefaultPolicy(),
		now:    time.Now,
		logger: observability.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (domain.TicketType, error) {
	return l.store.GetTicketType(ctx, id)
}

// Reserve claims quantity units of the ticket type. The returned
// reservation reflects the counter right after this caller's increment.
func (l *Ledger) Reserve(ctx context.Context, ticketTypeID uuid.UUID, quantity int) (domain.Reservation, error) {
	ctx, span := observability.Tracer("inventory").Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", ticketTypeID.String()), attribute.Int("quantity", quantity))

	if quantity < 1 {
		return domain.Reservation{}, errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}

	var res domain.Reservation
	err := retry.Do(ctx, l.policy, l.conflict, func(ctx context.Context) error {
		t, err := l.store.GetTicketType(ctx, ticketTypeID)
		if err != nil {
			return err
		}
		if err := t.OnSale(l.now()); err != nil {
			return err
		}
		if available := t.Available(); available < quantity {
			return &domain.InsufficientStockError{TicketTypeID: t.ID, Requested: quantity, Available: max(available, 0)}
		}
		if quantity > t.MaxPerOrder {
			return errors.Wrapf(domain.ErrOrderLimitExceeded, "maximum %d tickets per order", t.MaxPerOrder)
		}

		updated, err := l.store.CompareAndSetReserved(ctx, t.ID, t.Version, t.CapacityReserved+quantity)
		if err != nil {
			return err
		}
		res = domain.NewReservation(updated, quantity)
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			err = errors.Wrapf(domain.ErrReservationFailed, "ticket type %s", ticketTypeID)
		}
		observability.Reservations.WithLabelValues(outcome(err)).Inc()
		span.RecordError(err)
		return domain.Reservation{}, err
	}

	observability.Reservations.WithLabelValues("reserved").Inc()
	return res, nil
}

// Release gives quantity units back. Releasing more than is reserved clamps
// the counter at zero.
func (l *Ledger) Release(ctx context.Context, ticketTypeID uuid.UUID, quantity int) (domain.TicketType, error) {
	ctx, span := observability.Tracer("inventory").Start(ctx, "inventory.Release")
	defer span.End()

	if quantity < 1 {
		return domain.TicketType{}, errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}

	var out domain.TicketType
	err := retry.Do(ctx, l.policy, l.conflict, func(ctx context.Context) error {
		t, err := l.store.GetTicketType(ctx, ticketTypeID)
		if err != nil {
			return err
		}
		next := t.CapacityReserved - quantity
		if next < 0 {
			l.logger.WithFields(map[string]interface{}{
				"ticket_type_id": ticketTypeID,
				"reserved":       t.CapacityReserved,
				"quantity":       quantity,
			}).Warn("over-release clamped to zero")
			next = 0
		}
		out, err = l.store.CompareAndSetReserved(ctx, t.ID, t.Version, next)
		return err
	})
	if errors.Is(err, retry.ErrExhausted) {
		return domain.TicketType{}, errors.Wrapf(domain.ErrReservationFailed, "release ticket type %s", ticketTypeID)
	}
	return out, err
}

func (l *Ledger) CreateTicketType(ctx context.Context, t domain.TicketType) (domain.TicketType, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if err := validate(t); err != nil {
		return domain.TicketType{}, err
	}

	now := l.now()
	t.CapacityReserved = 0
	t.Version = 0
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := l.store.CreateTicketType(ctx, t); err != nil {
		return domain.TicketType{}, errors.Wrap(err, "create ticket type")
	}
	return t, nil
}

// UpdateTicketType applies an organizer edit. Capacity cannot drop below
// what is already reserved.
func (l *Ledger) UpdateTicketType(ctx context.Context, t domain.TicketType) (domain.TicketType, error) {
	if err := validate(t); err != nil {
		return domain.TicketType{}, err
	}

	var out domain.TicketType
	err := retry.Do(ctx, l.policy, l.conflict, func(ctx context.Context) error {
		cur, err := l.store.GetTicketType(ctx, t.ID)
		if err != nil {
			return err
		}
		if t.CapacityTotal < cur.CapacityReserved {
			return errors.Wrapf(domain.ErrInvalidInput, "capacity_total below the %d already reserved", cur.CapacityReserved)
		}
		next := t
		next.EventID = cur.EventID
		next.Version = cur.Version
		next.CapacityReserved = cur.CapacityReserved
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = l.now()
		out, err = l.store.UpdateTicketType(ctx, next)
		return err
	})
	if errors.Is(err, retry.ErrExhausted) {
		return domain.TicketType{}, errors.Wrapf(domain.ErrReservationFailed, "update ticket type %s", t.ID)
	}
	return out, err
}

func validate(t domain.TicketType) error {
	switch {
	case t.EventID == uuid.Nil:
		return errors.Wrap(domain.ErrInvalidInput, "event_id is required")
	case t.Name == "":
		return errors.Wrap(domain.ErrInvalidInput, "name is required")
	case t.CapacityTotal < 1:
		return errors.Wrap(domain.ErrInvalidInput, "capacity_total must be at least 1")
	case t.Price.IsNegative():
		return errors.Wrap(domain.ErrInvalidInput, "price must not be negative")
	case t.MaxPerOrder < 1:
		return errors.Wrap(domain.ErrInvalidInput, "max_per_order must be at least 1")
	case t.SalesStart != nil && t.SalesEnd != nil && !t.SalesStart.Before(*t.SalesEnd):
		return errors.Wrap(domain.ErrInvalidInput, "sales_start must be before sales_end")
	case t.Currency == "":
		return errors.Wrap(domain.ErrInvalidInput, "currency is required")
	}
	return nil
}

func (l *Ledger) conflict(attempt int) {
	observability.CASConflicts.WithLabelValues("inventory").Inc()
	l.logger.WithField("attempt", attempt).Debug("ticket type version conflict, retrying")
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrOrderLimitExceeded):
		return "order_limit"
	case errors.Is(err, domain.ErrInactive):
		return "inactive"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrReservationFailed):
		return "conflict"
	default:
		return "error"
	}
}
