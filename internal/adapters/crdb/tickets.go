package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const ticketColumns = `id, ticket_number, purchase_id, sequence_index, user_id, event_id, ticket_type_id,
	status, payload, issued_at, checked_in_at, COALESCE(checked_in_by, '')`

func scanTicket(row scanner) (domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(&t.ID, &t.TicketNumber, &t.PurchaseID, &t.Sequence, &t.UserID, &t.EventID, &t.TicketTypeID,
		&t.Status, &t.Payload, &t.IssuedAt, &t.CheckedInAt, &t.CheckedInBy)
	return t, err
}

// InsertTickets writes the tickets that do not exist yet for their
// (purchase, sequence) slot and, when any row landed, the tickets.issued
// outbox record in the same transaction.
func (r *Repository) InsertTickets(ctx context.Context, p domain.Purchase, tickets []domain.Ticket) (int, error) {
	var inserted int
	err := r.retryTx(ctx, func(tx pgx.Tx) error {
		inserted = 0
		var fresh []domain.Ticket
		for _, t := range tickets {
			tag, err := tx.Exec(ctx, `
				INSERT INTO tickets (id, ticket_number, purchase_id, sequence_index, user_id, event_id,
					ticket_type_id, status, payload, issued_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (purchase_id, sequence_index) DO NOTHING
			`, t.ID, t.TicketNumber, t.PurchaseID, t.Sequence, t.UserID, t.EventID,
				t.TicketTypeID, string(t.Status), t.Payload, t.IssuedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 1 {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) == 0 {
			return nil
		}
		rec, err := domain.TicketsIssuedRecord(p, fresh, time.Now().UTC())
		if err != nil {
			return errors.Wrap(err, "encode tickets issued")
		}
		if err := insertOutbox(ctx, tx, rec); err != nil {
			return err
		}
		inserted = len(fresh)
		return nil
	})
	return inserted, err
}

func (r *Repository) ListTicketsByPurchase(ctx context.Context, purchaseID uuid.UUID) ([]domain.Ticket, error) {
	return r.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE purchase_id = $1 ORDER BY sequence_index`, purchaseID)
}

func (r *Repository) GetTicketByNumber(ctx context.Context, number string) (domain.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, errors.Wrapf(domain.ErrTicketNotFound, "number %s", number)
	}
	return t, mapError(err)
}

// RedeemTicket flips a valid ticket to used and appends the check-in row.
// It reports false when the ticket was no longer valid.
func (r *Repository) RedeemTicket(ctx context.Context, c domain.CheckIn) (bool, error) {
	var won bool
	err := r.retryTx(ctx, func(tx pgx.Tx) error {
		won = false
		tag, err := tx.Exec(ctx, `
			UPDATE tickets SET status = 'used', checked_in_at = $2, checked_in_by = $3
			WHERE id = $1 AND status = 'valid'
		`, c.TicketID, c.CheckedInAt, c.CheckedInBy)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO check_ins (id, ticket_id, event_id, checked_in_by, method, checked_in_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, c.TicketID, c.EventID, c.CheckedInBy, string(c.Method), c.CheckedInAt)
		if err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil || won {
		return won, err
	}
	return false, r.ticketMustExist(ctx, c.TicketID)
}

func (r *Repository) CancelTicket(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE tickets SET status = 'cancelled' WHERE id = $1 AND status = 'valid'`, ticketID)
	if err != nil {
		return false, mapError(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ticketMustExist(ctx, ticketID)
}

func (r *Repository) ListCheckIns(ctx context.Context, ticketID uuid.UUID) ([]domain.CheckIn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, ticket_id, event_id, checked_in_by, method, checked_in_at
		FROM check_ins WHERE ticket_id = $1 ORDER BY checked_in_at
	`, ticketID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.CheckIn
	for rows.Next() {
		var c domain.CheckIn
		if err := rows.Scan(&c.ID, &c.TicketID, &c.EventID, &c.CheckedInBy, &c.Method, &c.CheckedInAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListTicketsByUser returns the tickets issued to a buyer, newest first.
func (r *Repository) ListTicketsByUser(ctx context.Context, userID uuid.UUID, page domain.Page) ([]domain.Ticket, error) {
	limit, offset := pageArgs(page)
	return r.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE user_id = $1
		ORDER BY issued_at DESC, purchase_id, sequence_index LIMIT $2 OFFSET $3
	`, userID, limit, offset)
}

// ListAttendees returns an event's tickets with buyer emails, optionally
// narrowed to one status, in issue order.
func (r *Repository) ListAttendees(ctx context.Context, eventID uuid.UUID, status domain.TicketStatus, page domain.Page) ([]domain.Attendee, error) {
	limit, offset := pageArgs(page)
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.ticket_number, t.purchase_id, t.sequence_index, t.user_id, t.event_id, t.ticket_type_id,
			t.status, t.payload, t.issued_at, t.checked_in_at, COALESCE(t.checked_in_by, ''), p.buyer_email
		FROM tickets t JOIN purchases p ON p.id = t.purchase_id
		WHERE t.event_id = $1 AND ($2 = '' OR t.status = $2)
		ORDER BY t.issued_at, t.purchase_id, t.sequence_index LIMIT $3 OFFSET $4
	`, eventID, string(status), limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Attendee
	for rows.Next() {
		var a domain.Attendee
		t := &a.Ticket
		if err := rows.Scan(&t.ID, &t.TicketNumber, &t.PurchaseID, &t.Sequence, &t.UserID, &t.EventID, &t.TicketTypeID,
			&t.Status, &t.Payload, &t.IssuedAt, &t.CheckedInAt, &t.CheckedInBy, &a.BuyerEmail); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) queryTickets(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) ticketMustExist(ctx context.Context, id uuid.UUID) error {
	ok, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(domain.ErrTicketNotFound, "id %s", id)
	}
	return nil
}
