package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

func (r *Repository) CheckInStats(ctx context.Context, eventID uuid.UUID) (domain.CheckInStats, error) {
	st := domain.CheckInStats{EventID: eventID}
	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status = 'used'),
			count(*) FILTER (WHERE status = 'valid'),
			count(*) FILTER (WHERE status = 'cancelled')
		FROM tickets WHERE event_id = $1
	`, eventID).Scan(&st.Total, &st.CheckedIn, &st.Valid, &st.Cancelled)
	if err != nil {
		return domain.CheckInStats{}, mapError(err)
	}
	return st, nil
}

func (r *Repository) EventSales(ctx context.Context, eventID uuid.UUID) (domain.SalesSummary, error) {
	sum := domain.SalesSummary{EventID: eventID}
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(total), 0), count(*), COALESCE(sum(quantity), 0)
		FROM purchases WHERE event_id = $1 AND payment_status = 'completed'
	`, eventID).Scan(&sum.Revenue, &sum.Purchases, &sum.TicketsSold)
	if err != nil {
		return domain.SalesSummary{}, mapError(err)
	}
	return sum, nil
}

// FindOverIssued lists purchases holding more tickets than their quantity.
func (r *Repository) FindOverIssued(ctx context.Context) ([]domain.OverIssuedPurchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.quantity, count(t.id)
		FROM purchases p JOIN tickets t ON t.purchase_id = p.id
		GROUP BY p.id, p.quantity
		HAVING count(t.id) > p.quantity
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.OverIssuedPurchase
	for rows.Next() {
		var o domain.OverIssuedPurchase
		if err := rows.Scan(&o.PurchaseID, &o.Quantity, &o.Tickets); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InventoryDrift compares each reserved counter with the quantity held by
// purchases that have not failed.
func (r *Repository) InventoryDrift(ctx context.Context) ([]domain.InventoryDrift, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tt.id, tt.name, tt.capacity_reserved, COALESCE(sum(p.quantity), 0) AS held
		FROM ticket_types tt
		LEFT JOIN purchases p ON p.ticket_type_id = tt.id AND p.payment_status != 'failed'
		GROUP BY tt.id, tt.name, tt.capacity_reserved
		HAVING tt.capacity_reserved != COALESCE(sum(p.quantity), 0)
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.InventoryDrift
	for rows.Next() {
		var d domain.InventoryDrift
		if err := rows.Scan(&d.TicketTypeID, &d.Name, &d.Reserved, &d.Held); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
