package http

import (
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageParams reads limit and offset from the query string. Limits above
// maxLimit are clamped.
func pageParams(r *http.Request, def, maxLimit int) (domain.Page, error) {
	p := domain.Page{Limit: def}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, errors.Wrapf(domain.ErrInvalidInput, "limit %q must be a positive integer", v)
		}
		p.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errors.Wrapf(domain.ErrInvalidInput, "offset %q must not be negative", v)
		}
		p.Offset = n
	}
	return p, nil
}

// MyPurchases lists the caller's purchases, newest first.
func (h *Handlers) MyPurchases(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	buyerID, err := claims.BuyerID()
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := pageParams(r, defaultPageSize, maxPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	purchases, err := h.Queries.ListPurchasesByBuyer(r.Context(), buyerID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"purchases": nonNil(purchases),
		"limit":     page.Limit,
		"offset":    page.Offset,
	})
}

// MyTickets lists the tickets issued to the caller, newest first.
func (h *Handlers) MyTickets(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	buyerID, err := claims.BuyerID()
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := pageParams(r, defaultPageSize, maxPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tickets, err := h.Queries.ListTicketsByUser(r.Context(), buyerID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tickets": nonNil(tickets),
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

func (h *Handlers) MyTicket(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	buyerID, err := claims.BuyerID()
	if err != nil {
		writeError(w, r, err)
		return
	}
	number := domain.NormalizeTicketNumber(chi.URLParam(r, "number"))
	t, err := h.Queries.GetTicketByNumber(r.Context(), number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t.UserID != buyerID {
		writeError(w, r, errors.Wrapf(domain.ErrTicketNotFound, "number %s", number))
		return
	}
	writeJSON(w, http.StatusOK, t)
}
