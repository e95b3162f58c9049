package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventTicketsIssued = "tickets.issued"

// TicketsIssued is the outbox payload consumed by the notifier.
type TicketsIssued struct {
	PurchaseID uuid.UUID       `json:"purchase_id"`
	EventID    uuid.UUID       `json:"event_id"`
	BuyerEmail string          `json:"buyer_email"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	Tickets    []IssuedTicket  `json:"tickets"`
}

type IssuedTicket struct {
	TicketNumber string `json:"ticket_number"`
	Sequence     int    `json:"sequence"`
	Payload      string `json:"payload"`
}

func NewTicketsIssued(p Purchase, tickets []Ticket) TicketsIssued {
	ev := TicketsIssued{
		PurchaseID: p.ID,
		EventID:    p.EventID,
		BuyerEmail: p.BuyerEmail,
		Total:      p.Total,
		Currency:   p.Currency,
		Tickets:    make([]IssuedTicket, 0, len(tickets)),
	}
	for _, t := range tickets {
		ev.Tickets = append(ev.Tickets, IssuedTicket{TicketNumber: t.TicketNumber, Sequence: t.Sequence, Payload: t.Payload})
	}
	return ev
}

const (
	OutboxNew       = "NEW"
	OutboxPublished = "PUBLISHED"
)

// OutboxRecord is an event written in the same transaction as the state
// change it describes. DedupeKey doubles as the broker message id.
type OutboxRecord struct {
	ID            uuid.UUID  `json:"id"`
	AggregateType string     `json:"aggregate_type"`
	AggregateID   uuid.UUID  `json:"aggregate_id"`
	EventType     string     `json:"event_type"`
	Payload       []byte     `json:"payload"`
	Status        string     `json:"status"`
	DedupeKey     string     `json:"dedupe_key"`
	CreatedAt     time.Time  `json:"created_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

// TicketsIssuedRecord builds the outbox entry for newly inserted tickets.
func TicketsIssuedRecord(p Purchase, fresh []Ticket, now time.Time) (OutboxRecord, error) {
	payload, err := json.Marshal(NewTicketsIssued(p, fresh))
	if err != nil {
		return OutboxRecord{}, err
	}
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "purchase",
		AggregateID:   p.ID,
		EventType:     EventTicketsIssued,
		Payload:       payload,
		Status:        OutboxNew,
		DedupeKey:     fmt.Sprintf("%s:%s:%d", EventTicketsIssued, p.ID, fresh[0].Sequence),
		CreatedAt:     now,
	}, nil
}
