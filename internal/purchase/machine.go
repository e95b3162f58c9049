package purchase

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/payment"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Store persists purchases. TransitionPurchase and AttachPaymentSession are
// conditional writes that report whether this caller's update applied.
type Store interface {
	CreatePurchase(ctx context.Context, p domain.Purchase) error
	GetPurchase(ctx context.Context, id uuid.UUID) (domain.Purchase, error)
	GetPurchaseBySession(ctx context.Context, sessionID string) (domain.Purchase, error)
	AttachPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) (bool, error)
	TransitionPurchase(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus, paymentRef string, at time.Time) (bool, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Purchase, error)
}

type InventoryReleaser interface {
	Release(ctx context.Context, ticketTypeID uuid.UUID, quantity int) (domain.TicketType, error)
}

type DiscountReleaser interface {
	Release(ctx context.Context, discountCodeID uuid.UUID) error
}

type TicketIssuer interface {
	IssueForPurchase(ctx context.Context, p domain.Purchase) ([]domain.Ticket, error)
}

type SessionRetriever interface {
	RetrieveSession(ctx context.Context, sessionID string) (payment.SessionStatus, error)
}

type Machine struct {
	store     Store
	inventory InventoryReleaser
	discounts DiscountReleaser
	issuer    TicketIssuer
	sessions  SessionRetriever
	feeRate   decimal.Decimal
	now       func() time.Time
	logger    observability.Logger
}

type Deps struct {
	Store     Store
	Inventory InventoryReleaser
	Discounts DiscountReleaser
	Issuer    TicketIssuer
	Sessions  SessionRetriever
	FeeRate   decimal.Decimal
	Logger    observability.Logger
	Now       func() time.Time
}

func NewMachine(d Deps) *Machine {
	m := &Machine{
		store:     d.Store,
		inventory: d.Inventory,
		discounts: d.Discounts,
		issuer:    d.Issuer,
		sessions:  d.Sessions,
		feeRate:   d.FeeRate,
		now:       d.Now,
		logger:    d.Logger,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = observability.Discard()
	}
	return m
}

type OpenRequest struct {
	Buyer        domain.Buyer
	TicketTypeID uuid.UUID
	Quantity     int
	Reservation  domain.Reservation
	Discount     *domain.DiscountSnapshot
}

// Open records a pending purchase backed by a reservation the caller
// already holds.
func (m *Machine) Open(ctx context.Context, req OpenRequest) (domain.Purchase, error) {
	if req.Reservation.TicketTypeID != req.TicketTypeID || req.Reservation.Quantity != req.Quantity {
		return domain.Purchase{}, errors.Wrap(domain.ErrInvalidInput, "reservation does not cover this purchase")
	}
	if req.Buyer.ID == uuid.Nil {
		return domain.Purchase{}, errors.Wrap(domain.ErrInvalidInput, "buyer is required")
	}

	p := domain.NewPurchase(req.Buyer, req.Reservation, req.Discount, m.feeRate, m.now().UTC())
	if err := m.store.CreatePurchase(ctx, p); err != nil {
		return domain.Purchase{}, errors.Wrap(err, "create purchase")
	}
	m.logger.WithFields(map[string]interface{}{
		"purchase_id": p.ID,
		"quantity":    p.Quantity,
		"total":       p.Total.String(),
	}).Info("purchase opened")
	return p, nil
}

// AttachSession records the payment session id. It can be set once.
func (m *Machine) AttachSession(ctx context.Context, purchaseID uuid.UUID, sessionID string) error {
	if sessionID == "" {
		return errors.Wrap(domain.ErrInvalidInput, "session id is required")
	}
	ok, err := m.store.AttachPaymentSession(ctx, purchaseID, sessionID)
	if err != nil {
		return errors.Wrap(err, "attach payment session")
	}
	if ok {
		return nil
	}

	p, err := m.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	if p.PaymentSessionID == sessionID {
		return nil
	}
	if p.PaymentStatus != domain.PaymentPending {
		return errors.Wrapf(domain.ErrInvalidTransition, "purchase %s is %s", p.ID, p.PaymentStatus)
	}
	return errors.Wrapf(domain.ErrReferenceMismatch, "purchase %s already has a payment session", p.ID)
}

type Result struct {
	Purchase         domain.Purchase `json:"purchase"`
	Tickets          []domain.Ticket `json:"tickets"`
	AlreadyCompleted bool            `json:"already_completed"`
}

// Complete moves a paid purchase to completed and issues its tickets.
// Completing an already completed purchase returns the same tickets.
func (m *Machine) Complete(ctx context.Context, purchaseID uuid.UUID, sessionRef string) (Result, error) {
	ctx, span := observability.Tracer("purchase").Start(ctx, "purchase.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("purchase_id", purchaseID.String()))

	p, err := m.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return Result{}, err
	}
	if sessionRef == "" {
		sessionRef = p.PaymentSessionID
	}
	if sessionRef == "" {
		return Result{}, errors.Wrapf(domain.ErrPaymentNotConfirmed, "purchase %s has no payment session", p.ID)
	}
	if p.PaymentSessionID != "" && p.PaymentSessionID != sessionRef {
		m.logger.WithFields(map[string]interface{}{
			"purchase_id": p.ID,
			"session_ref": sessionRef,
		}).Warn("payment reference mismatch")
		return Result{}, errors.Wrapf(domain.ErrReferenceMismatch, "purchase %s", p.ID)
	}

	switch p.PaymentStatus {
	case domain.PaymentCompleted:
		return m.issue(ctx, p, true)
	case domain.PaymentFailed:
		return Result{}, errors.Wrapf(domain.ErrInvalidTransition, "purchase %s already failed", p.ID)
	}

	st, err := m.sessions.RetrieveSession(ctx, sessionRef)
	if err != nil {
		return Result{}, errors.Wrap(err, "retrieve payment session")
	}
	// A session the provider does not tie back to this purchase is only
	// trusted when it was attached at checkout.
	if st.PurchaseID != p.ID && (st.PurchaseID != uuid.Nil || p.PaymentSessionID == "") {
		return Result{}, errors.Wrapf(domain.ErrReferenceMismatch, "session %s does not belong to purchase %s", sessionRef, p.ID)
	}
	if !st.Paid {
		return Result{}, errors.Wrapf(domain.ErrPaymentNotConfirmed, "session %s is %s", sessionRef, st.Status)
	}
	if (st.Amount.Valid && !st.Amount.Decimal.Equal(p.Total)) ||
		(st.Currency != "" && !strings.EqualFold(st.Currency, p.Currency)) {
		m.logger.WithFields(map[string]interface{}{
			"purchase_id": p.ID,
			"session_ref": sessionRef,
			"captured":    st.Amount.Decimal.String() + " " + st.Currency,
			"total":       p.Total.String() + " " + p.Currency,
		}).Warn("captured amount does not match purchase total")
		return Result{}, errors.Wrapf(domain.ErrReferenceMismatch, "session %s captured a different amount", sessionRef)
	}

	won, err := m.store.TransitionPurchase(ctx, p.ID, domain.PaymentPending, domain.PaymentCompleted, st.PaymentRef, m.now().UTC())
	if err != nil {
		return Result{}, errors.Wrap(err, "complete purchase")
	}
	p, err = m.store.GetPurchase(ctx, p.ID)
	if err != nil {
		return Result{}, err
	}
	if !won {
		if p.PaymentStatus == domain.PaymentCompleted {
			return m.issue(ctx, p, true)
		}
		m.logger.WithFields(map[string]interface{}{
			"purchase_id": p.ID,
			"payment_ref": st.PaymentRef,
		}).Error("payment captured for a failed purchase")
		return Result{}, errors.Wrapf(domain.ErrInvalidTransition, "purchase %s already failed", p.ID)
	}

	observability.PurchaseTransitions.WithLabelValues(string(domain.PaymentCompleted)).Inc()
	m.logger.WithField("purchase_id", p.ID).Info("purchase completed")
	return m.issue(ctx, p, false)
}

// CompleteBySession resolves the purchase from its payment session id.
func (m *Machine) CompleteBySession(ctx context.Context, sessionID string) (Result, error) {
	p, err := m.store.GetPurchaseBySession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	return m.Complete(ctx, p.ID, sessionID)
}

func (m *Machine) issue(ctx context.Context, p domain.Purchase, already bool) (Result, error) {
	tickets, err := m.issuer.IssueForPurchase(ctx, p)
	if err != nil {
		return Result{}, errors.Wrap(err, "issue tickets")
	}
	return Result{Purchase: p, Tickets: tickets, AlreadyCompleted: already}, nil
}

// Fail moves a pending purchase to failed and gives back its inventory and
// discount use. Only the caller that wins the transition releases anything.
func (m *Machine) Fail(ctx context.Context, purchaseID uuid.UUID, reason string) (domain.Purchase, error) {
	ctx, span := observability.Tracer("purchase").Start(ctx, "purchase.Fail")
	defer span.End()

	p, err := m.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	switch p.PaymentStatus {
	case domain.PaymentFailed:
		return p, nil
	case domain.PaymentCompleted:
		return domain.Purchase{}, errors.Wrapf(domain.ErrInvalidTransition, "purchase %s already completed", p.ID)
	}

	won, err := m.store.TransitionPurchase(ctx, p.ID, domain.PaymentPending, domain.PaymentFailed, "", m.now().UTC())
	if err != nil {
		return domain.Purchase{}, errors.Wrap(err, "fail purchase")
	}
	p, err = m.store.GetPurchase(ctx, p.ID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if !won {
		if p.PaymentStatus == domain.PaymentCompleted {
			return domain.Purchase{}, errors.Wrapf(domain.ErrInvalidTransition, "purchase %s already completed", p.ID)
		}
		return p, nil
	}

	observability.PurchaseTransitions.WithLabelValues(string(domain.PaymentFailed)).Inc()
	log := m.logger.WithFields(map[string]interface{}{
		"purchase_id": p.ID,
		"reason":      reason,
	})
	log.Info("purchase failed")

	// The transition is final; release problems are logged for reconciliation.
	if _, err := m.inventory.Release(ctx, p.TicketTypeID, p.Quantity); err != nil {
		log.WithError(err).Error("inventory release failed")
	}
	if p.Promo != nil {
		if err := m.discounts.Release(ctx, p.Promo.CodeID); err != nil {
			log.WithError(err).Error("discount release failed")
		}
	}
	return p, nil
}

// FailBySession fails the purchase holding the payment session.
func (m *Machine) FailBySession(ctx context.Context, sessionID, reason string) (domain.Purchase, error) {
	p, err := m.store.GetPurchaseBySession(ctx, sessionID)
	if err != nil {
		return domain.Purchase{}, err
	}
	return m.Fail(ctx, p.ID, reason)
}

func (m *Machine) Get(ctx context.Context, purchaseID uuid.UUID) (domain.Purchase, error) {
	return m.store.GetPurchase(ctx, purchaseID)
}
