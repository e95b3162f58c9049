package issuance

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// Store persists tickets. InsertTickets must skip rows whose
// (purchase_id, sequence) already exists and, in the same transaction,
// record a tickets.issued outbox event when anything was inserted.
type Store interface {
	InsertTickets(ctx context.Context, p domain.Purchase, tickets []domain.Ticket) (int, error)
	ListTicketsByPurchase(ctx context.Context, purchaseID uuid.UUID) ([]domain.Ticket, error)
}

type Issuer struct {
	store  Store
	signer *Signer
	now    func() time.Time
	logger observability.Logger
}

func NewIssuer(store Store, signer *Signer, logger observability.Logger) *Issuer {
	return &Issuer{store: store, signer: signer, now: time.Now, logger: logger}
}

// IssueForPurchase materializes the purchase's tickets. Calling it again
// returns the same set.
func (i *Issuer) IssueForPurchase(ctx context.Context, p domain.Purchase) ([]domain.Ticket, error) {
	ctx, span := observability.Tracer("issuance").Start(ctx, "issuance.IssueForPurchase")
	defer span.End()
	span.SetAttributes(attribute.String("purchase_id", p.ID.String()), attribute.Int("quantity", p.Quantity))

	if p.PaymentStatus != domain.PaymentCompleted {
		return nil, errors.Wrapf(domain.ErrInvalidTransition, "purchase %s is %s", p.ID, p.PaymentStatus)
	}

	existing, err := i.store.ListTicketsByPurchase(ctx, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list tickets")
	}
	if len(existing) >= p.Quantity {
		return existing, nil
	}

	have := make(map[int]bool, len(existing))
	for _, t := range existing {
		have[t.Sequence] = true
	}

	now := i.now().UTC()
	var batch []domain.Ticket
	for seq := 1; seq <= p.Quantity; seq++ {
		if have[seq] {
			continue
		}
		t, err := i.newTicket(p, seq, now)
		if err != nil {
			return nil, err
		}
		batch = append(batch, t)
	}

	inserted, err := i.store.InsertTickets(ctx, p, batch)
	if err != nil {
		return nil, errors.Wrap(err, "insert tickets")
	}
	if inserted > 0 {
		observability.TicketsIssued.Add(float64(inserted))
		i.logger.WithFields(map[string]interface{}{
			"purchase_id": p.ID,
			"inserted":    inserted,
		}).Info("tickets issued")
	}

	tickets, err := i.store.ListTicketsByPurchase(ctx, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "read back tickets")
	}
	if len(tickets) != p.Quantity {
		i.logger.WithFields(map[string]interface{}{
			"purchase_id": p.ID,
			"quantity":    p.Quantity,
			"tickets":     len(tickets),
		}).Error("ticket count does not match purchase quantity")
	}
	return tickets, nil
}

func (i *Issuer) newTicket(p domain.Purchase, seq int, now time.Time) (domain.Ticket, error) {
	number, err := domain.NewTicketNumber()
	if err != nil {
		return domain.Ticket{}, err
	}
	payload, err := i.signer.Sign(number, p.EventID, now)
	if err != nil {
		return domain.Ticket{}, err
	}
	return domain.Ticket{
		ID:           uuid.New(),
		TicketNumber: number,
		PurchaseID:   p.ID,
		Sequence:     seq,
		UserID:       p.BuyerID,
		EventID:      p.EventID,
		TicketTypeID: p.TicketTypeID,
		Status:       domain.TicketValid,
		Payload:      payload,
		IssuedAt:     now,
	}, nil
}
