package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const discountColumns = `id, code, discount_type, discount_value, max_uses, current_uses, is_active,
	valid_from, valid_until, event_id, version, created_at`

func scanDiscount(row scanner) (domain.DiscountCode, error) {
	var d domain.DiscountCode
	err := row.Scan(&d.ID, &d.Code, &d.Type, &d.Value, &d.MaxUses, &d.CurrentUses, &d.IsActive,
		&d.ValidFrom, &d.ValidUntil, &d.EventID, &d.Version, &d.CreatedAt)
	return d, err
}

func (r *Repository) GetDiscountCode(ctx context.Context, code string) (domain.DiscountCode, error) {
	d, err := scanDiscount(r.pool.QueryRow(ctx, `SELECT `+discountColumns+` FROM discount_codes WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscountCode{}, errors.Wrapf(domain.ErrDiscountNotFound, "code %s", code)
	}
	return d, mapError(err)
}

func (r *Repository) GetDiscountCodeByID(ctx context.Context, id uuid.UUID) (domain.DiscountCode, error) {
	d, err := scanDiscount(r.pool.QueryRow(ctx, `SELECT `+discountColumns+` FROM discount_codes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscountCode{}, errors.Wrapf(domain.ErrDiscountNotFound, "id %s", id)
	}
	return d, mapError(err)
}

func (r *Repository) CreateDiscountCode(ctx context.Context, d domain.DiscountCode) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO discount_codes (id, code, discount_type, discount_value, max_uses, current_uses, is_active,
			valid_from, valid_until, event_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, 0, $10)
	`, d.ID, d.Code, string(d.Type), d.Value, d.MaxUses, d.IsActive, d.ValidFrom, d.ValidUntil, d.EventID, d.CreatedAt)
	return mapError(err)
}

func (r *Repository) CompareAndSetUses(ctx context.Context, id uuid.UUID, version int64, uses int) (domain.DiscountCode, error) {
	d, err := scanDiscount(r.pool.QueryRow(ctx, `
		UPDATE discount_codes
		SET current_uses = $3, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+discountColumns, id, version, uses))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DiscountCode{}, r.casMiss(ctx, `SELECT EXISTS (SELECT 1 FROM discount_codes WHERE id = $1)`, id, domain.ErrDiscountNotFound)
	}
	return d, mapError(err)
}
