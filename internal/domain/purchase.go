package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Fee      decimal.Decimal
	Total    decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// ComputeTotals prices an order. The discount never exceeds the subtotal
// and the fee is charged on the undiscounted subtotal.
func ComputeTotals(unitPrice decimal.Decimal, quantity int, promo *DiscountSnapshot, feeRate decimal.Decimal) Totals {
	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)

	discount := decimal.Zero
	if promo != nil {
		switch promo.Type {
		case DiscountPercentage:
			discount = subtotal.Mul(promo.Value).Div(hundred)
		case DiscountFixed:
			discount = promo.Value
		}
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	discount = discount.Round(2)
	fee := subtotal.Mul(feeRate).Round(2)

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Fee:      fee,
		Total:    subtotal.Sub(discount).Add(fee),
	}
}

type Buyer struct {
	ID    uuid.UUID
	Email string
}

func NewPurchase(buyer Buyer, r Reservation, promo *DiscountSnapshot, feeRate decimal.Decimal, now time.Time) Purchase {
	totals := ComputeTotals(r.UnitPrice, r.Quantity, promo, feeRate)
	return Purchase{
		ID:            uuid.New(),
		BuyerID:       buyer.ID,
		BuyerEmail:    buyer.Email,
		EventID:       r.EventID,
		TicketTypeID:  r.TicketTypeID,
		Quantity:      r.Quantity,
		Currency:      r.Currency,
		UnitPrice:     r.UnitPrice,
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		Fee:           totals.Fee,
		Total:         totals.Total,
		Promo:         promo,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
