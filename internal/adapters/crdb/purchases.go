package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/shopspring/decimal"
)

const purchaseColumns = `id, buyer_id, buyer_email, event_id, ticket_type_id, quantity, currency,
	unit_price, subtotal, discount, fee, total, promo_code_id, promo_code, promo_type, promo_value,
	payment_status, COALESCE(payment_session_id, ''), COALESCE(payment_ref, ''),
	created_at, updated_at, completed_at, failed_at`

func scanPurchase(row scanner) (domain.Purchase, error) {
	var (
		p          domain.Purchase
		promoID    *uuid.UUID
		promoCode  *string
		promoType  *string
		promoValue decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.BuyerID, &p.BuyerEmail, &p.EventID, &p.TicketTypeID, &p.Quantity, &p.Currency,
		&p.UnitPrice, &p.Subtotal, &p.Discount, &p.Fee, &p.Total, &promoID, &promoCode, &promoType, &promoValue,
		&p.PaymentStatus, &p.PaymentSessionID, &p.PaymentRef,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.FailedAt)
	if err != nil {
		return domain.Purchase{}, err
	}
	if promoID != nil {
		p.Promo = &domain.DiscountSnapshot{CodeID: *promoID, Value: promoValue.Decimal}
		if promoCode != nil {
			p.Promo.Code = *promoCode
		}
		if promoType != nil {
			p.Promo.Type = domain.DiscountType(*promoType)
		}
	}
	return p, nil
}

func (r *Repository) CreatePurchase(ctx context.Context, p domain.Purchase) error {
	var (
		promoID    *uuid.UUID
		promoCode  *string
		promoType  *string
		promoValue decimal.NullDecimal
	)
	if p.Promo != nil {
		typ := string(p.Promo.Type)
		promoID, promoCode, promoType = &p.Promo.CodeID, &p.Promo.Code, &typ
		promoValue = decimal.NewNullDecimal(p.Promo.Value)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO purchases (id, buyer_id, buyer_email, event_id, ticket_type_id, quantity, currency,
			unit_price, subtotal, discount, fee, total, promo_code_id, promo_code, promo_type, promo_value,
			payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, p.ID, p.BuyerID, p.BuyerEmail, p.EventID, p.TicketTypeID, p.Quantity, p.Currency,
		p.UnitPrice, p.Subtotal, p.Discount, p.Fee, p.Total, promoID, promoCode, promoType, promoValue,
		string(p.PaymentStatus), p.CreatedAt, p.UpdatedAt)
	return mapError(err)
}

func (r *Repository) GetPurchase(ctx context.Context, id uuid.UUID) (domain.Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Purchase{}, errors.Wrapf(domain.ErrPurchaseNotFound, "id %s", id)
	}
	return p, mapError(err)
}

func (r *Repository) GetPurchaseBySession(ctx context.Context, sessionID string) (domain.Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE payment_session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Purchase{}, errors.Wrapf(domain.ErrPurchaseNotFound, "session %s", sessionID)
	}
	return p, mapError(err)
}

// AttachPaymentSession records the session on a pending purchase. It reports
// false when the purchase left pending or already holds another session.
func (r *Repository) AttachPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchases SET payment_session_id = $2, updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'
			AND (payment_session_id IS NULL OR payment_session_id = $2)
	`, id, sessionID)
	if err != nil {
		return false, mapError(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.mustExist(ctx, id)
}

// TransitionPurchase moves a purchase from one status to another only if it
// is still in from. Exactly one concurrent caller observes true.
func (r *Repository) TransitionPurchase(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus, paymentRef string, at time.Time) (bool, error) {
	var (
		query string
		args  []any
	)
	switch to {
	case domain.PaymentCompleted:
		query = `UPDATE purchases SET payment_status = $3, payment_ref = NULLIF($4, ''), completed_at = $5, updated_at = $5
			WHERE id = $1 AND payment_status = $2`
		args = []any{id, string(from), string(to), paymentRef, at}
	case domain.PaymentFailed:
		query = `UPDATE purchases SET payment_status = $3, failed_at = $4, updated_at = $4
			WHERE id = $1 AND payment_status = $2`
		args = []any{id, string(from), string(to), at}
	default:
		return false, errors.Wrapf(domain.ErrInvalidTransition, "%s -> %s", from, to)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.mustExist(ctx, id)
}

func (r *Repository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Purchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE payment_status = 'pending' AND created_at < $1
		ORDER BY created_at LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPurchasesByBuyer returns a buyer's purchases, newest first.
func (r *Repository) ListPurchasesByBuyer(ctx context.Context, buyerID uuid.UUID, page domain.Page) ([]domain.Purchase, error) {
	limit, offset := pageArgs(page)
	rows, err := r.pool.Query(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3
	`, buyerID, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) mustExist(ctx context.Context, id uuid.UUID) error {
	ok, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM purchases WHERE id = $1)`, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(domain.ErrPurchaseNotFound, "id %s", id)
	}
	return nil
}
