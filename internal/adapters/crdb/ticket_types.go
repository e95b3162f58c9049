package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const ticketTypeColumns = `id, event_id, name, price, currency, capacity_total, capacity_reserved,
	max_per_order, sales_start, sales_end, is_active, version, created_at, updated_at`

func scanTicketType(row scanner) (domain.TicketType, error) {
	var t domain.TicketType
	err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.Price, &t.Currency, &t.CapacityTotal, &t.CapacityReserved,
		&t.MaxPerOrder, &t.SalesStart, &t.SalesEnd, &t.IsActive, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *Repository) GetTicketType(ctx context.Context, id uuid.UUID) (domain.TicketType, error) {
	t, err := scanTicketType(r.pool.QueryRow(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TicketType{}, errors.Wrapf(domain.ErrTicketTypeNotFound, "id %s", id)
	}
	return t, mapError(err)
}

func (r *Repository) ListTicketTypes(ctx context.Context, eventID uuid.UUID) ([]domain.TicketType, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1 ORDER BY created_at`, eventID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.TicketType
	for rows.Next() {
		t, err := scanTicketType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) CreateTicketType(ctx context.Context, t domain.TicketType) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ticket_types (id, event_id, name, price, currency, capacity_total, capacity_reserved,
			max_per_order, sales_start, sales_end, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, 0, $11, $12)
	`, t.ID, t.EventID, t.Name, t.Price, t.Currency, t.CapacityTotal,
		t.MaxPerOrder, t.SalesStart, t.SalesEnd, t.IsActive, t.CreatedAt, t.UpdatedAt)
	return mapError(err)
}

func (r *Repository) CompareAndSetReserved(ctx context.Context, id uuid.UUID, version int64, reserved int) (domain.TicketType, error) {
	t, err := scanTicketType(r.pool.QueryRow(ctx, `
		UPDATE ticket_types
		SET capacity_reserved = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING `+ticketTypeColumns, id, version, reserved))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TicketType{}, r.casMiss(ctx, `SELECT EXISTS (SELECT 1 FROM ticket_types WHERE id = $1)`, id, domain.ErrTicketTypeNotFound)
	}
	return t, mapError(err)
}

func (r *Repository) UpdateTicketType(ctx context.Context, next domain.TicketType) (domain.TicketType, error) {
	t, err := scanTicketType(r.pool.QueryRow(ctx, `
		UPDATE ticket_types
		SET name = $3, price = $4, currency = $5, capacity_total = $6, max_per_order = $7,
			sales_start = $8, sales_end = $9, is_active = $10, version = version + 1, updated_at = $11
		WHERE id = $1 AND version = $2
		RETURNING `+ticketTypeColumns,
		next.ID, next.Version, next.Name, next.Price, next.Currency, next.CapacityTotal, next.MaxPerOrder,
		next.SalesStart, next.SalesEnd, next.IsActive, next.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TicketType{}, r.casMiss(ctx, `SELECT EXISTS (SELECT 1 FROM ticket_types WHERE id = $1)`, next.ID, domain.ErrTicketTypeNotFound)
	}
	return t, mapError(err)
}

// casMiss tells a lost compare-and-set apart from a missing row.
func (r *Repository) casMiss(ctx context.Context, existsQuery string, id uuid.UUID, notFound error) error {
	ok, err := r.exists(ctx, existsQuery, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(notFound, "id %s", id)
	}
	return errors.WithStack(domain.ErrStaleVersion)
}
