package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionRequest struct {
	PurchaseID    uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Quantity      int
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

type Session struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// SessionStatus is what the provider reports for a session. PurchaseID is
// uuid.Nil and Amount is invalid when the provider does not echo them.
type SessionStatus struct {
	ID         string
	PurchaseID uuid.UUID
	Status     string
	Paid       bool
	PaymentRef string
	Amount     decimal.NullDecimal
	Currency   string
}

// Processor is a hosted-checkout payment provider.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (SessionStatus, error)
}
