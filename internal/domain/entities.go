package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is the catalog entry ticket types belong to. OrganizerID is the
// staff subject allowed to administer it.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Venue       string    `json:"venue"`
	StartsAt    time.Time `json:"starts_at"`
	OrganizerID string    `json:"organizer_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type TicketType struct {
	ID               uuid.UUID       `json:"id"`
	EventID          uuid.UUID       `json:"event_id"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	CapacityTotal    int             `json:"capacity_total"`
	CapacityReserved int             `json:"capacity_reserved"`
	MaxPerOrder      int             `json:"max_per_order"`
	SalesStart       *time.Time      `json:"sales_start,omitempty"`
	SalesEnd         *time.Time      `json:"sales_end,omitempty"`
	IsActive         bool            `json:"is_active"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (t TicketType) Available() int {
	return t.CapacityTotal - t.CapacityReserved
}

// OnSale returns nil when the type can be sold at now.
func (t TicketType) OnSale(now time.Time) error {
	if !t.IsActive {
		return ErrInactive
	}
	if t.SalesStart != nil && now.Before(*t.SalesStart) {
		return ErrSalesNotStarted
	}
	if t.SalesEnd != nil && now.After(*t.SalesEnd) {
		return ErrSalesEnded
	}
	return nil
}

type DiscountCode struct {
	ID          uuid.UUID       `json:"id"`
	Code        string          `json:"code"`
	Type        DiscountType    `json:"discount_type"`
	Value       decimal.Decimal `json:"discount_value"`
	MaxUses     *int            `json:"max_uses,omitempty"`
	CurrentUses int             `json:"current_uses"`
	IsActive    bool            `json:"is_active"`
	ValidFrom   *time.Time      `json:"valid_from,omitempty"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	EventID     *uuid.UUID      `json:"event_id,omitempty"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Check evaluates the validity rules in order, without looking at stock.
func (d DiscountCode) Check(eventID uuid.UUID, now time.Time) error {
	if !d.IsActive {
		return ErrDiscountInactive
	}
	if d.EventID != nil && *d.EventID != eventID {
		return ErrWrongEvent
	}
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return ErrNotYetValid
	}
	if d.ValidUntil != nil && now.After(*d.ValidUntil) {
		return ErrExpired
	}
	if d.MaxUses != nil && d.CurrentUses >= *d.MaxUses {
		return ErrUsageLimitReached
	}
	return nil
}

func (d DiscountCode) Snapshot() DiscountSnapshot {
	return DiscountSnapshot{CodeID: d.ID, Code: d.Code, Type: d.Type, Value: d.Value}
}

// DiscountSnapshot is the discount terms frozen into a purchase.
type DiscountSnapshot struct {
	CodeID uuid.UUID       `json:"code_id"`
	Code   string          `json:"code"`
	Type   DiscountType    `json:"discount_type"`
	Value  decimal.Decimal `json:"discount_value"`
}

type Purchase struct {
	ID               uuid.UUID         `json:"id"`
	BuyerID          uuid.UUID         `json:"buyer_id"`
	BuyerEmail       string            `json:"buyer_email"`
	EventID          uuid.UUID         `json:"event_id"`
	TicketTypeID     uuid.UUID         `json:"ticket_type_id"`
	Quantity         int               `json:"quantity"`
	Currency         string            `json:"currency"`
	UnitPrice        decimal.Decimal   `json:"unit_price"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	Discount         decimal.Decimal   `json:"discount"`
	Fee              decimal.Decimal   `json:"fee"`
	Total            decimal.Decimal   `json:"total"`
	Promo            *DiscountSnapshot `json:"promo,omitempty"`
	PaymentStatus    PaymentStatus     `json:"payment_status"`
	PaymentSessionID string            `json:"payment_session_id,omitempty"`
	PaymentRef       string            `json:"payment_ref,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	FailedAt         *time.Time        `json:"failed_at,omitempty"`
}

type Ticket struct {
	ID           uuid.UUID    `json:"id"`
	TicketNumber string       `json:"ticket_number"`
	PurchaseID   uuid.UUID    `json:"purchase_id"`
	Sequence     int          `json:"sequence"`
	UserID       uuid.UUID    `json:"user_id"`
	EventID      uuid.UUID    `json:"event_id"`
	TicketTypeID uuid.UUID    `json:"ticket_type_id"`
	Status       TicketStatus `json:"status"`
	Payload      string       `json:"payload"`
	IssuedAt     time.Time    `json:"issued_at"`
	CheckedInAt  *time.Time   `json:"checked_in_at,omitempty"`
	CheckedInBy  string       `json:"checked_in_by,omitempty"`
}

type CheckIn struct {
	ID          uuid.UUID     `json:"id"`
	TicketID    uuid.UUID     `json:"ticket_id"`
	EventID     uuid.UUID     `json:"event_id"`
	CheckedInBy string        `json:"checked_in_by"`
	Method      CheckInMethod `json:"method"`
	CheckedInAt time.Time     `json:"checked_in_at"`
}

type CheckInStats struct {
	EventID    uuid.UUID `json:"event_id"`
	Total      int       `json:"total"`
	CheckedIn  int       `json:"checked_in"`
	Valid      int       `json:"valid"`
	Cancelled  int       `json:"cancelled"`
	Percentage float64   `json:"percentage"`
}

type SalesSummary struct {
	EventID     uuid.UUID       `json:"event_id"`
	Revenue     decimal.Decimal `json:"revenue"`
	Purchases   int             `json:"purchases"`
	TicketsSold int             `json:"tickets_sold"`
}

// OverIssuedPurchase is a purchase holding more tickets than it paid for.
type OverIssuedPurchase struct {
	PurchaseID uuid.UUID `json:"purchase_id"`
	Quantity   int       `json:"quantity"`
	Tickets    int       `json:"tickets"`
}

// InventoryDrift compares a reserved counter with the quantity held by
// pending and completed purchases.
type InventoryDrift struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id"`
	Name         string    `json:"name"`
	Reserved     int       `json:"reserved"`
	Held         int       `json:"held"`
}

// Attendee is an issued ticket with the email of the buyer it was sold to.
type Attendee struct {
	Ticket
	BuyerEmail string `json:"buyer_email"`
}

// Page selects a window of a listing, newest first unless stated otherwise.
type Page struct {
	Limit  int
	Offset int
}

// Slice bounds a listing of n items to the page.
func (p Page) Slice(n int) (lo, hi int) {
	lo = min(max(p.Offset, 0), n)
	hi = n
	if p.Limit > 0 {
		hi = min(lo+p.Limit, n)
	}
	return lo, hi
}
