package purchase

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/payment"
)

type Reserver interface {
	Reserve(ctx context.Context, ticketTypeID uuid.UUID, quantity int) (domain.Reservation, error)
	Release(ctx context.Context, ticketTypeID uuid.UUID, quantity int) (domain.TicketType, error)
}

type DiscountConsumer interface {
	ValidateAndConsume(ctx context.Context, code string, eventID uuid.UUID) (domain.DiscountSnapshot, error)
	Release(ctx context.Context, discountCodeID uuid.UUID) error
}

type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
}

// Checkout runs the buyer-facing flow: reserve, discount, open, pay.
type Checkout struct {
	machine   *Machine
	inventory Reserver
	discounts DiscountConsumer
	payments  SessionCreator
	baseURL   string
	logger    observability.Logger
}

func NewCheckout(machine *Machine, inventory Reserver, discounts DiscountConsumer, payments SessionCreator, baseURL string, logger observability.Logger) *Checkout {
	return &Checkout{
		machine:   machine,
		inventory: inventory,
		discounts: discounts,
		payments:  payments,
		baseURL:   baseURL,
		logger:    logger,
	}
}

type CheckoutRequest struct {
	Buyer        domain.Buyer
	TicketTypeID uuid.UUID
	Quantity     int
	DiscountCode string
}

type CheckoutResult struct {
	Purchase domain.Purchase `json:"purchase"`
	Session  payment.Session `json:"session"`
}

func (c *Checkout) Start(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	ctx, span := observability.Tracer("purchase").Start(ctx, "checkout.Start")
	defer span.End()

	res, err := c.inventory.Reserve(ctx, req.TicketTypeID, req.Quantity)
	if err != nil {
		return CheckoutResult{}, err
	}

	var promo *domain.DiscountSnapshot
	if req.DiscountCode != "" {
		snap, err := c.discounts.ValidateAndConsume(ctx, req.DiscountCode, res.EventID)
		if err != nil {
			c.releaseInventory(ctx, res)
			return CheckoutResult{}, err
		}
		promo = &snap
	}

	p, err := c.machine.Open(ctx, OpenRequest{
		Buyer:        req.Buyer,
		TicketTypeID: req.TicketTypeID,
		Quantity:     req.Quantity,
		Reservation:  res,
		Discount:     promo,
	})
	if err != nil {
		c.releaseInventory(ctx, res)
		if promo != nil {
			if rerr := c.discounts.Release(ctx, promo.CodeID); rerr != nil {
				c.logger.WithError(rerr).Error("discount release after failed open")
			}
		}
		return CheckoutResult{}, err
	}

	sess, err := c.payments.CreateCheckoutSession(ctx, payment.SessionRequest{
		PurchaseID:    p.ID,
		Amount:        p.Total,
		Currency:      p.Currency,
		Description:   fmt.Sprintf("%d ticket(s)", p.Quantity),
		Quantity:      p.Quantity,
		CustomerEmail: p.BuyerEmail,
		SuccessURL:    c.baseURL + "/v1/payments/sessions/{CHECKOUT_SESSION_ID}/verify",
		CancelURL:     c.baseURL + "/v1/purchases/" + p.ID.String(),
	})
	if err != nil {
		c.compensate(ctx, p.ID, "payment session creation failed")
		return CheckoutResult{}, errors.Wrap(err, "create checkout session")
	}
	if err := c.machine.AttachSession(ctx, p.ID, sess.ID); err != nil {
		c.compensate(ctx, p.ID, "attach payment session failed")
		return CheckoutResult{}, err
	}

	p.PaymentSessionID = sess.ID
	return CheckoutResult{Purchase: p, Session: sess}, nil
}

func (c *Checkout) releaseInventory(ctx context.Context, res domain.Reservation) {
	if _, err := c.inventory.Release(ctx, res.TicketTypeID, res.Quantity); err != nil {
		c.logger.WithError(err).WithField("ticket_type_id", res.TicketTypeID).Error("inventory release after failed checkout")
	}
}

func (c *Checkout) compensate(ctx context.Context, purchaseID uuid.UUID, reason string) {
	if _, err := c.machine.Fail(ctx, purchaseID, reason); err != nil {
		c.logger.WithError(err).WithField("purchase_id", purchaseID).Error("compensating fail")
	}
}
