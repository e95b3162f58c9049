// Package memory is a process-local store with the same conditional-write
// semantics as the CockroachDB repository.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

type Store struct {
	mu sync.Mutex

	events      map[uuid.UUID]domain.Event
	ticketTypes map[uuid.UUID]domain.TicketType
	codes       map[uuid.UUID]domain.DiscountCode
	codeIndex   map[string]uuid.UUID
	purchases   map[uuid.UUID]domain.Purchase
	sessions    map[string]uuid.UUID
	tickets     map[uuid.UUID]domain.Ticket
	numbers     map[string]uuid.UUID
	sequences   map[seqKey]uuid.UUID
	checkIns    []domain.CheckIn
	outbox      []domain.OutboxRecord

	now func() time.Time
}

type seqKey struct {
	purchase uuid.UUID
	seq      int
}

func NewStore() *Store {
	return &Store{
		events:      map[uuid.UUID]domain.Event{},
		ticketTypes: map[uuid.UUID]domain.TicketType{},
		codes:       map[uuid.UUID]domain.DiscountCode{},
		codeIndex:   map[string]uuid.UUID{},
		purchases:   map[uuid.UUID]domain.Purchase{},
		sessions:    map[string]uuid.UUID{},
		tickets:     map[uuid.UUID]domain.Ticket{},
		numbers:     map[string]uuid.UUID{},
		sequences:   map[seqKey]uuid.UUID{},
		now:         time.Now,
	}
}

func (s *Store) CreateEvent(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "event %s exists", e.ID)
	}
	s.events[e.ID] = e
	return nil
}

func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, errors.Wrapf(domain.ErrEventNotFound, "id %s", id)
	}
	return e, nil
}

func (s *Store) ListByOrganizer(_ context.Context, organizerID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, e := range s.events {
		if e.OrganizerID == organizerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) GetTicketType(_ context.Context, id uuid.UUID) (domain.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.ticketTypes[id]
	if !ok {
		return domain.TicketType{}, errors.Wrapf(domain.ErrTicketTypeNotFound, "id %s", id)
	}
	return t, nil
}

func (s *Store) CreateTicketType(_ context.Context, t domain.TicketType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ticketTypes[t.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "ticket type %s exists", t.ID)
	}
	s.ticketTypes[t.ID] = t
	return nil
}

func (s *Store) ListTicketTypes(_ context.Context, eventID uuid.UUID) ([]domain.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TicketType
	for _, t := range s.ticketTypes {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CompareAndSetReserved(_ context.Context, id uuid.UUID, version int64, reserved int) (domain.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.ticketTypes[id]
	if !ok {
		return domain.TicketType{}, errors.Wrapf(domain.ErrTicketTypeNotFound, "id %s", id)
	}
	if t.Version != version {
		return domain.TicketType{}, errors.WithStack(domain.ErrStaleVersion)
	}
	if reserved < 0 || reserved > t.CapacityTotal {
		return domain.TicketType{}, errors.Wrapf(domain.ErrInvalidInput, "capacity_reserved %d out of range", reserved)
	}
	t.CapacityReserved = reserved
	t.Version++
	t.UpdatedAt = s.now()
	s.ticketTypes[id] = t
	return t, nil
}

func (s *Store) UpdateTicketType(_ context.Context, next domain.TicketType) (domain.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.ticketTypes[next.ID]
	if !ok {
		return domain.TicketType{}, errors.Wrapf(domain.ErrTicketTypeNotFound, "id %s", next.ID)
	}
	if t.Version != next.Version {
		return domain.TicketType{}, errors.WithStack(domain.ErrStaleVersion)
	}
	t.Name = next.Name
	t.Price = next.Price
	t.Currency = next.Currency
	t.CapacityTotal = next.CapacityTotal
	t.MaxPerOrder = next.MaxPerOrder
	t.SalesStart = next.SalesStart
	t.SalesEnd = next.SalesEnd
	t.IsActive = next.IsActive
	t.Version++
	t.UpdatedAt = next.UpdatedAt
	s.ticketTypes[t.ID] = t
	return t, nil
}

func (s *Store) GetDiscountCode(_ context.Context, code string) (domain.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codeIndex[code]
	if !ok {
		return domain.DiscountCode{}, errors.Wrapf(domain.ErrDiscountNotFound, "code %s", code)
	}
	return s.codes[id], nil
}

func (s *Store) GetDiscountCodeByID(_ context.Context, id uuid.UUID) (domain.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.codes[id]
	if !ok {
		return domain.DiscountCode{}, errors.Wrapf(domain.ErrDiscountNotFound, "id %s", id)
	}
	return d, nil
}

func (s *Store) CreateDiscountCode(_ context.Context, d domain.DiscountCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codeIndex[d.Code]; ok {
		return errors.Wrapf(domain.ErrConflict, "code %s exists", d.Code)
	}
	s.codes[d.ID] = d
	s.codeIndex[d.Code] = d.ID
	return nil
}

func (s *Store) CompareAndSetUses(_ context.Context, id uuid.UUID, version int64, uses int) (domain.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.codes[id]
	if !ok {
		return domain.DiscountCode{}, errors.Wrapf(domain.ErrDiscountNotFound, "id %s", id)
	}
	if d.Version != version {
		return domain.DiscountCode{}, errors.WithStack(domain.ErrStaleVersion)
	}
	if uses < 0 || (d.MaxUses != nil && uses > *d.MaxUses) {
		return domain.DiscountCode{}, errors.Wrapf(domain.ErrInvalidInput, "current_uses %d out of range", uses)
	}
	d.CurrentUses = uses
	d.Version++
	s.codes[id] = d
	return d, nil
}

func (s *Store) CreatePurchase(_ context.Context, p domain.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.purchases[p.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "purchase %s exists", p.ID)
	}
	s.purchases[p.ID] = clonePurchase(p)
	return nil
}

func (s *Store) GetPurchase(_ context.Context, id uuid.UUID) (domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return domain.Purchase{}, errors.Wrapf(domain.ErrPurchaseNotFound, "id %s", id)
	}
	return clonePurchase(p), nil
}

func (s *Store) GetPurchaseBySession(_ context.Context, sessionID string) (domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessions[sessionID]
	if !ok {
		return domain.Purchase{}, errors.Wrapf(domain.ErrPurchaseNotFound, "session %s", sessionID)
	}
	return clonePurchase(s.purchases[id]), nil
}

func (s *Store) AttachPaymentSession(_ context.Context, id uuid.UUID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return false, errors.Wrapf(domain.ErrPurchaseNotFound, "id %s", id)
	}
	if p.PaymentStatus != domain.PaymentPending || (p.PaymentSessionID != "" && p.PaymentSessionID != sessionID) {
		return false, nil
	}
	if other, taken := s.sessions[sessionID]; taken && other != id {
		return false, errors.Wrapf(domain.ErrConflict, "session %s belongs to another purchase", sessionID)
	}
	p.PaymentSessionID = sessionID
	p.UpdatedAt = s.now()
	s.purchases[id] = p
	s.sessions[sessionID] = id
	return true, nil
}

func (s *Store) TransitionPurchase(_ context.Context, id uuid.UUID, from, to domain.PaymentStatus, paymentRef string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return false, errors.Wrapf(domain.ErrPurchaseNotFound, "id %s", id)
	}
	if p.PaymentStatus != from {
		return false, nil
	}
	p.PaymentStatus = to
	p.UpdatedAt = at
	switch to {
	case domain.PaymentCompleted:
		p.CompletedAt = &at
		p.PaymentRef = paymentRef
	case domain.PaymentFailed:
		p.FailedAt = &at
	}
	s.purchases[id] = p
	return true, nil
}

func (s *Store) ListStalePending(_ context.Context, before time.Time, limit int) ([]domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Purchase
	for _, p := range s.purchases {
		if p.PaymentStatus == domain.PaymentPending && p.CreatedAt.Before(before) {
			out = append(out, clonePurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListPurchasesByBuyer(_ context.Context, buyerID uuid.UUID, page domain.Page) ([]domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Purchase
	for _, p := range s.purchases {
		if p.BuyerID == buyerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	lo, hi := page.Slice(len(out))
	return out[lo:hi], nil
}

func (s *Store) InsertTickets(_ context.Context, p domain.Purchase, tickets []domain.Ticket) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []domain.Ticket
	for _, t := range tickets {
		if _, dup := s.sequences[seqKey{t.PurchaseID, t.Sequence}]; dup {
			continue
		}
		if _, dup := s.numbers[t.TicketNumber]; dup {
			return 0, errors.Wrapf(domain.ErrConflict, "ticket number %s exists", t.TicketNumber)
		}
		fresh = append(fresh, t)
	}
	for _, t := range fresh {
		s.tickets[t.ID] = t
		s.numbers[t.TicketNumber] = t.ID
		s.sequences[seqKey{t.PurchaseID, t.Sequence}] = t.ID
	}
	if len(fresh) > 0 {
		rec, err := domain.TicketsIssuedRecord(p, fresh, s.now())
		if err != nil {
			return 0, errors.Wrap(err, "encode tickets issued")
		}
		s.outbox = append(s.outbox, rec)
	}
	return len(fresh), nil
}

func (s *Store) ListTicketsByPurchase(_ context.Context, purchaseID uuid.UUID) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.PurchaseID == purchaseID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *Store) ListTicketsByUser(_ context.Context, userID uuid.UUID, page domain.Page) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return ticketLess(out[i], out[j])
	})
	lo, hi := page.Slice(len(out))
	return out[lo:hi], nil
}

func (s *Store) ListAttendees(_ context.Context, eventID uuid.UUID, status domain.TicketStatus, page domain.Page) ([]domain.Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Attendee
	for _, t := range s.tickets {
		if t.EventID != eventID || (status != "" && t.Status != status) {
			continue
		}
		out = append(out, domain.Attendee{Ticket: t, BuyerEmail: s.purchases[t.PurchaseID].BuyerEmail})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return ticketLess(out[i].Ticket, out[j].Ticket)
	})
	lo, hi := page.Slice(len(out))
	return out[lo:hi], nil
}

func ticketLess(a, b domain.Ticket) bool {
	if a.PurchaseID != b.PurchaseID {
		return a.PurchaseID.String() < b.PurchaseID.String()
	}
	return a.Sequence < b.Sequence
}

func (s *Store) GetTicketByNumber(_ context.Context, number string) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.numbers[number]
	if !ok {
		return domain.Ticket{}, errors.Wrapf(domain.ErrTicketNotFound, "number %s", number)
	}
	return s.tickets[id], nil
}

func (s *Store) RedeemTicket(_ context.Context, c domain.CheckIn) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[c.TicketID]
	if !ok {
		return false, errors.Wrapf(domain.ErrTicketNotFound, "id %s", c.TicketID)
	}
	if t.Status != domain.TicketValid {
		return false, nil
	}
	at := c.CheckedInAt
	t.Status = domain.TicketUsed
	t.CheckedInAt = &at
	t.CheckedInBy = c.CheckedInBy
	s.tickets[t.ID] = t
	s.checkIns = append(s.checkIns, c)
	return true, nil
}

func (s *Store) CancelTicket(_ context.Context, ticketID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return false, errors.Wrapf(domain.ErrTicketNotFound, "id %s", ticketID)
	}
	if t.Status != domain.TicketValid {
		return false, nil
	}
	t.Status = domain.TicketCancelled
	s.tickets[ticketID] = t
	return true, nil
}

func (s *Store) CheckInStats(_ context.Context, eventID uuid.UUID) (domain.CheckInStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.CheckInStats{EventID: eventID}
	for _, t := range s.tickets {
		if t.EventID != eventID {
			continue
		}
		st.Total++
		switch t.Status {
		case domain.TicketUsed:
			st.CheckedIn++
		case domain.TicketValid:
			st.Valid++
		case domain.TicketCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

func (s *Store) ListCheckIns(_ context.Context, ticketID uuid.UUID) ([]domain.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.CheckIn
	for _, c := range s.checkIns {
		if c.TicketID == ticketID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) EventSales(_ context.Context, eventID uuid.UUID) (domain.SalesSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := domain.SalesSummary{EventID: eventID}
	for _, p := range s.purchases {
		if p.EventID != eventID || p.PaymentStatus != domain.PaymentCompleted {
			continue
		}
		sum.Revenue = sum.Revenue.Add(p.Total)
		sum.Purchases++
		sum.TicketsSold += p.Quantity
	}
	return sum, nil
}

func (s *Store) FindOverIssued(_ context.Context) ([]domain.OverIssuedPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[uuid.UUID]int{}
	for _, t := range s.tickets {
		counts[t.PurchaseID]++
	}
	var out []domain.OverIssuedPurchase
	for id, n := range counts {
		if p, ok := s.purchases[id]; ok && n > p.Quantity {
			out = append(out, domain.OverIssuedPurchase{PurchaseID: id, Quantity: p.Quantity, Tickets: n})
		}
	}
	return out, nil
}

func (s *Store) InventoryDrift(_ context.Context) ([]domain.InventoryDrift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := map[uuid.UUID]int{}
	for _, p := range s.purchases {
		if p.PaymentStatus != domain.PaymentFailed {
			held[p.TicketTypeID] += p.Quantity
		}
	}
	var out []domain.InventoryDrift
	for id, t := range s.ticketTypes {
		if t.CapacityReserved != held[id] {
			out = append(out, domain.InventoryDrift{TicketTypeID: id, Name: t.Name, Reserved: t.CapacityReserved, Held: held[id]})
		}
	}
	return out, nil
}

// Outbox returns the recorded outbox events in insertion order.
func (s *Store) Outbox() []domain.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxRecord(nil), s.outbox...)
}

// PublishOutbox hands up to limit unpublished records to publish, oldest
// first, and marks the ones it accepted. It stops at the first failure.
func (s *Store) PublishOutbox(ctx context.Context, limit int, publish func(context.Context, domain.OutboxRecord) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent := 0
	for i := range s.outbox {
		if limit > 0 && sent >= limit {
			break
		}
		if s.outbox[i].Status != domain.OutboxNew {
			continue
		}
		if err := publish(ctx, s.outbox[i]); err != nil {
			return sent, err
		}
		at := s.now()
		s.outbox[i].Status = domain.OutboxPublished
		s.outbox[i].PublishedAt = &at
		sent++
	}
	return sent, nil
}

func clonePurchase(p domain.Purchase) domain.Purchase {
	if p.Promo != nil {
		promo := *p.Promo
		p.Promo = &promo
	}
	return p
}
