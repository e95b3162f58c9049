package redemption

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/issuance"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// Store persists ticket state. RedeemTicket flips a valid ticket to used
// and appends the check-in row in one transaction, reporting false when the
// ticket was no longer valid.
type Store interface {
	GetTicketByNumber(ctx context.Context, number string) (domain.Ticket, error)
	GetPurchase(ctx context.Context, id uuid.UUID) (domain.Purchase, error)
	RedeemTicket(ctx context.Context, c domain.CheckIn) (bool, error)
	CancelTicket(ctx context.Context, ticketID uuid.UUID) (bool, error)
	CheckInStats(ctx context.Context, eventID uuid.UUID) (domain.CheckInStats, error)
}

// AuditLog mirrors check-ins into a secondary store.
type AuditLog interface {
	LogCheckIn(ctx context.Context, c domain.CheckIn, ticketNumber string) error
}

type Gate struct {
	store  Store
	signer *issuance.Signer
	audit  AuditLog
	now    func() time.Time
	logger observability.Logger
}

type Option func(*Gate)

func WithAuditLog(a AuditLog) Option {
	return func(g *Gate) { g.audit = a }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func NewGate(store Store, signer *issuance.Signer, logger observability.Logger, opts ...Option) *Gate {
	g := &Gate{store: store, signer: signer, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type CheckInRequest struct {
	TicketNumber string
	CheckedInBy  string
	Method       domain.CheckInMethod
	// EventID, when set, rejects tickets for other events.
	EventID uuid.UUID
}

func (g *Gate) CheckIn(ctx context.Context, req CheckInRequest) (domain.Ticket, error) {
	ctx, span := observability.Tracer("redemption").Start(ctx, "redemption.CheckIn")
	defer span.End()

	t, err := g.checkIn(ctx, req)
	observability.CheckIns.WithLabelValues(checkInOutcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
	}
	return t, err
}

func (g *Gate) checkIn(ctx context.Context, req CheckInRequest) (domain.Ticket, error) {
	number := domain.NormalizeTicketNumber(req.TicketNumber)
	if number == "" {
		return domain.Ticket{}, errors.Wrap(domain.ErrInvalidInput, "ticket number is required")
	}
	if req.CheckedInBy == "" {
		return domain.Ticket{}, errors.Wrap(domain.ErrInvalidInput, "checked_in_by is required")
	}
	if req.Method == "" {
		req.Method = domain.CheckInManual
	}
	if req.Method != domain.CheckInManual && req.Method != domain.CheckInQR {
		return domain.Ticket{}, errors.Wrapf(domain.ErrInvalidInput, "unknown check-in method %q", req.Method)
	}

	t, err := g.store.GetTicketByNumber(ctx, number)
	if err != nil {
		return domain.Ticket{}, err
	}
	if req.EventID != uuid.Nil && t.EventID != req.EventID {
		return domain.Ticket{}, errors.Wrapf(domain.ErrWrongEvent, "ticket %s", number)
	}
	if err := checkRedeemable(t); err != nil {
		return domain.Ticket{}, err
	}

	p, err := g.store.GetPurchase(ctx, t.PurchaseID)
	if err != nil {
		return domain.Ticket{}, errors.Wrap(err, "load purchase")
	}
	if p.PaymentStatus != domain.PaymentCompleted {
		return domain.Ticket{}, errors.Wrapf(domain.ErrNotValid, "purchase is %s", p.PaymentStatus)
	}

	c := domain.CheckIn{
		ID:          uuid.New(),
		TicketID:    t.ID,
		EventID:     t.EventID,
		CheckedInBy: req.CheckedInBy,
		Method:      req.Method,
		CheckedInAt: g.now().UTC(),
	}
	won, err := g.store.RedeemTicket(ctx, c)
	if err != nil {
		return domain.Ticket{}, errors.Wrap(err, "redeem ticket")
	}
	if !won {
		// Another scanner got there first, or the ticket was cancelled.
		t, err = g.store.GetTicketByNumber(ctx, number)
		if err != nil {
			return domain.Ticket{}, err
		}
		if err := checkRedeemable(t); err != nil {
			return domain.Ticket{}, err
		}
		return domain.Ticket{}, errors.Wrap(domain.ErrStaleVersion, "ticket changed during check-in")
	}

	t.Status = domain.TicketUsed
	t.CheckedInAt = &c.CheckedInAt
	t.CheckedInBy = c.CheckedInBy

	if g.audit != nil {
		if err := g.audit.LogCheckIn(ctx, c, t.TicketNumber); err != nil {
			g.logger.WithError(err).WithField("ticket_number", t.TicketNumber).Warn("check-in audit mirror failed")
		}
	}
	return t, nil
}

// CheckInToken redeems the ticket named by a signed scannable payload.
func (g *Gate) CheckInToken(ctx context.Context, token string, eventID uuid.UUID, by string) (domain.Ticket, error) {
	claims, err := g.signer.Verify(token)
	if err != nil {
		observability.CheckIns.WithLabelValues("bad_signature").Inc()
		return domain.Ticket{}, err
	}
	if eventID != uuid.Nil && claims.EventID != eventID.String() {
		observability.CheckIns.WithLabelValues("wrong_event").Inc()
		return domain.Ticket{}, errors.Wrapf(domain.ErrWrongEvent, "ticket %s", claims.TicketNumber)
	}
	return g.CheckIn(ctx, CheckInRequest{
		TicketNumber: claims.TicketNumber,
		CheckedInBy:  by,
		Method:       domain.CheckInQR,
		EventID:      eventID,
	})
}

// Cancel invalidates an unused ticket.
func (g *Gate) Cancel(ctx context.Context, ticketNumber string) (domain.Ticket, error) {
	number := domain.NormalizeTicketNumber(ticketNumber)
	t, err := g.store.GetTicketByNumber(ctx, number)
	if err != nil {
		return domain.Ticket{}, err
	}
	switch t.Status {
	case domain.TicketCancelled:
		return t, nil
	case domain.TicketUsed:
		return domain.Ticket{}, errors.Wrapf(domain.ErrInvalidTransition, "ticket %s already used", number)
	}

	won, err := g.store.CancelTicket(ctx, t.ID)
	if err != nil {
		return domain.Ticket{}, errors.Wrap(err, "cancel ticket")
	}
	if !won {
		t, err = g.store.GetTicketByNumber(ctx, number)
		if err != nil {
			return domain.Ticket{}, err
		}
		if t.Status != domain.TicketCancelled {
			return domain.Ticket{}, errors.Wrapf(domain.ErrInvalidTransition, "ticket %s already used", number)
		}
		return t, nil
	}
	t.Status = domain.TicketCancelled
	g.logger.WithField("ticket_number", number).Info("ticket cancelled")
	return t, nil
}

func (g *Gate) Stats(ctx context.Context, eventID uuid.UUID) (domain.CheckInStats, error) {
	s, err := g.store.CheckInStats(ctx, eventID)
	if err != nil {
		return domain.CheckInStats{}, err
	}
	s.EventID = eventID
	if s.Total > 0 {
		s.Percentage = math.Round(float64(s.CheckedIn)/float64(s.Total)*10000) / 100
	}
	return s, nil
}

func checkRedeemable(t domain.Ticket) error {
	switch t.Status {
	case domain.TicketValid:
		return nil
	case domain.TicketUsed:
		e := &domain.AlreadyUsedError{TicketNumber: t.TicketNumber, CheckedInBy: t.CheckedInBy}
		if t.CheckedInAt != nil {
			e.CheckedInAt = *t.CheckedInAt
		}
		return e
	default:
		return errors.Wrapf(domain.ErrNotValid, "ticket %s is %s", t.TicketNumber, t.Status)
	}
}

func checkInOutcome(err error) string {
	switch {
	case err == nil:
		return "checked_in"
	case errors.Is(err, domain.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, domain.ErrNotValid):
		return "not_valid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrWrongEvent):
		return "wrong_event"
	default:
		return "error"
	}
}
