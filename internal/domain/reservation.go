package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reservation is the post-increment snapshot of a successful reserve.
type Reservation struct {
	TicketTypeID     uuid.UUID       `json:"ticket_type_id"`
	EventID          uuid.UUID       `json:"event_id"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Currency         string          `json:"currency"`
	CapacityReserved int             `json:"capacity_reserved"`
	CapacityTotal    int             `json:"capacity_total"`
}

func NewReservation(t TicketType, quantity int) Reservation {
	return Reservation{
		TicketTypeID:     t.ID,
		EventID:          t.EventID,
		Quantity:         quantity,
		UnitPrice:        t.Price,
		Currency:         t.Currency,
		CapacityReserved: t.CapacityReserved,
		CapacityTotal:    t.CapacityTotal,
	}
}
