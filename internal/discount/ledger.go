package discount

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/retry"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetDiscountCode(ctx context.Context, code string) (domain.DiscountCode, error)
	GetDiscountCodeByID(ctx context.Context, id uuid.UUID) (domain.DiscountCode, error)
	CreateDiscountCode(ctx context.Context, d domain.DiscountCode) error
	CompareAndSetUses(ctx context.Context, id uuid.UUID, version int64, uses int) (domain.DiscountCode, error)
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

// Peek runs the validity checks without consuming a use.
func (l *Ledger) Peek(ctx context.Context, code string, eventID uuid.UUID) (domain.DiscountCode, error) {
	d, err := l.store.GetDiscountCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return domain.DiscountCode{}, err
	}
	if err := d.Check(eventID, l.now()); err != nil {
		return domain.DiscountCode{}, err
	}
	return d, nil
}

// ValidateAndConsume checks the code for eventID and takes one use of it.
func (l *Ledger) ValidateAndConsume(ctx context.Context, code string, eventID uuid.UUID) (domain.DiscountSnapshot, error) {
	ctx, span := observability.Tracer("discount").Start(ctx, "discount.ValidateAndConsume")
	defer span.End()

	code = domain.NormalizeCode(code)
	if code == "" {
		return domain.DiscountSnapshot{}, errors.Wrap(domain.ErrInvalidInput, "promo code is empty")
	}

	var snap domain.DiscountSnapshot
	err := retry.Do(ctx, l.policy, l.conflict, func(ctx context.Context) error {
		d, err := l.store.GetDiscountCode(ctx, code)
		if err != nil {
			return err
		}
		if err := d.Check(eventID, l.now()); err != nil {
			return err
		}
		updated, err := l.store.CompareAndSetUses(ctx, d.ID, d.Version, d.CurrentUses+1)
		if err != nil {
			return err
		}
		snap = updated.Snapshot()
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			err = errors.Wrapf(domain.ErrDiscountUnavailable, "code %s", code)
		}
		observability.DiscountUses.WithLabelValues(outcome(err)).Inc()
		span.RecordError(err)
		return domain.DiscountSnapshot{}, err
	}
	observability.DiscountUses.WithLabelValues("consumed").Inc()
	return snap, nil
}

// Release returns one use of the code, floored at zero.
func (l *Ledger) Release(ctx context.Context, id uuid.UUID) error {
	err := retry.Do(ctx, l.policy, l.conflict, func(ctx context.Context) error {
		d, err := l.store.GetDiscountCodeByID(ctx, id)
		if err != nil {
			return err
		}
		if d.CurrentUses == 0 {
			l.logger.WithField("discount_code_id", id).Warn("release of unused discount code ignored")
			return nil
		}
		_, err = l.store.CompareAndSetUses(ctx, d.ID, d.Version, d.CurrentUses-1)
		return err
	})
	if errors.Is(err, retry.ErrExhausted) {
		return errors.Wrapf(domain.ErrDiscountUnavailable, "release discount code %s", id)
	}
	if err == nil {
		observability.DiscountUses.WithLabelValues("released").Inc()
	}
	return err
}

func (l *Ledger) Create(ctx context.Context, d domain.DiscountCode) (domain.DiscountCode, error) {
	d.Code = domain.NormalizeCode(d.Code)
	if d.Code == "" {
		return domain.DiscountCode{}, errors.Wrap(domain.ErrInvalidInput, "code is required")
	}
	if !d.Type.Valid() {
		return domain.DiscountCode{}, errors.Wrapf(domain.ErrInvalidInput, "unknown discount type %q", d.Type)
	}
	if !d.Value.IsPositive() {
		return domain.DiscountCode{}, errors.Wrap(domain.ErrInvalidInput, "discount_value must be positive")
	}
	if d.Type == domain.DiscountPercentage && d.Value.GreaterThan(decimal.NewFromInt(100)) {
		return domain.DiscountCode{}, errors.Wrap(domain.ErrInvalidInput, "percentage discount cannot exceed 100")
	}
	if d.MaxUses != nil && *d.MaxUses < 1 {
		return domain.DiscountCode{}, errors.Wrap(domain.ErrInvalidInput, "max_uses must be at least 1")
	}
	if d.ValidFrom != nil && d.ValidUntil != nil && !d.ValidFrom.Before(*d.ValidUntil) {
		return domain.DiscountCode{}, errors.Wrap(domain.ErrInvalidInput, "valid_from must be before valid_until")
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CurrentUses = 0
	d.Version = 0
	d.CreatedAt = l.now()
	if err := l.store.CreateDiscountCode(ctx, d); err != nil {
		return domain.DiscountCode{}, errors.Wrap(err, "create discount code")
	}
	return d, nil
}

func (l *Ledger) conflict(attempt int) {
	observability.CASConflicts.WithLabelValues("discount").Inc()
	l.logger.WithField("attempt", attempt).Debug("discount code version conflict, retrying")
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrUsageLimitReached):
		return "usage_limit"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDiscountUnavailable):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
