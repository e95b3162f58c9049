package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/redemption"
	"github.com/shopspring/decimal"
)

// authorizeEvent checks that the event exists and lets admins through, and
// organizers only for their own events.
func (h *Handlers) authorizeEvent(ctx context.Context, eventID uuid.UUID) error {
	claims, _ := claimsFrom(ctx)
	if claims.Role != RoleAdmin && claims.Role != RoleOrganizer {
		return errors.Wrapf(domain.ErrForbidden, "role %s cannot manage events", claims.Role)
	}
	ev, err := h.Catalog.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if claims.Role == RoleOrganizer && ev.OrganizerID != claims.Subject {
		return errors.Wrapf(domain.ErrForbidden, "event %s belongs to another organizer", eventID)
	}
	return nil
}

type createEventRequest struct {
	Title    string    `json:"title"`
	Venue    string    `json:"venue"`
	StartsAt time.Time `json:"starts_at"`
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Title == "" || req.StartsAt.IsZero() {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "title and starts_at are required"))
		return
	}
	claims, _ := claimsFrom(r.Context())
	ev := domain.Event{
		ID:          uuid.New(),
		Title:       req.Title,
		Venue:       req.Venue,
		StartsAt:    req.StartsAt.UTC(),
		OrganizerID: claims.Subject,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Catalog.CreateEvent(r.Context(), ev); err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "event.created", ev.ID, map[string]interface{}{"title": ev.Title})
	writeJSON(w, http.StatusCreated, ev)
}

// ListEvents returns the caller's own events.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	events, err := h.Catalog.ListByOrganizer(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": nonNil(events)})
}

func (h *Handlers) ListTicketTypes(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	types, err := h.Queries.ListTicketTypes(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket_types": nonNil(types)})
}

type ticketTypeRequest struct {
	EventID       uuid.UUID        `json:"event_id"`
	Name          *string          `json:"name"`
	Price         *decimal.Decimal `json:"price"`
	Currency      *string          `json:"currency"`
	CapacityTotal *int             `json:"capacity_total"`
	MaxPerOrder   *int             `json:"max_per_order"`
	SalesStart    *time.Time       `json:"sales_start"`
	SalesEnd      *time.Time       `json:"sales_end"`
	IsActive      *bool            `json:"is_active"`
}

// apply copies the fields present in the request onto t.
func (req ticketTypeRequest) apply(t *domain.TicketType) {
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.Price != nil {
		t.Price = *req.Price
	}
	if req.Currency != nil {
		t.Currency = *req.Currency
	}
	if req.CapacityTotal != nil {
		t.CapacityTotal = *req.CapacityTotal
	}
	if req.MaxPerOrder != nil {
		t.MaxPerOrder = *req.MaxPerOrder
	}
	if req.SalesStart != nil {
		t.SalesStart = req.SalesStart
	}
	if req.SalesEnd != nil {
		t.SalesEnd = req.SalesEnd
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
}

func (h *Handlers) CreateTicketType(w http.ResponseWriter, r *http.Request) {
	var req ticketTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorizeEvent(r.Context(), req.EventID); err != nil {
		writeError(w, r, err)
		return
	}
	t := domain.TicketType{EventID: req.EventID, Currency: h.Currency, MaxPerOrder: 10, IsActive: true}
	req.apply(&t)
	created, err := h.Inventory.CreateTicketType(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "ticket_type.created", created.EventID, map[string]interface{}{
		"ticket_type_id": created.ID.String(),
		"capacity_total": created.CapacityTotal,
	})
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) UpdateTicketType(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ticketTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cur, err := h.Inventory.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorizeEvent(r.Context(), cur.EventID); err != nil {
		writeError(w, r, err)
		return
	}
	req.apply(&cur)
	updated, err := h.Inventory.UpdateTicketType(r.Context(), cur)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "ticket_type.updated", updated.EventID, map[string]interface{}{
		"ticket_type_id": updated.ID.String(),
		"capacity_total": updated.CapacityTotal,
		"is_active":      updated.IsActive,
	})
	writeJSON(w, http.StatusOK, updated)
}

type discountCodeRequest struct {
	Code       string              `json:"code"`
	Type       domain.DiscountType `json:"discount_type"`
	Value      decimal.Decimal     `json:"discount_value"`
	MaxUses    *int                `json:"max_uses"`
	ValidFrom  *time.Time          `json:"valid_from"`
	ValidUntil *time.Time          `json:"valid_until"`
	EventID    *uuid.UUID          `json:"event_id"`
}

// CreateDiscountCode lets organizers create codes for their events; codes
// valid for every event are admin only.
func (h *Handlers) CreateDiscountCode(w http.ResponseWriter, r *http.Request) {
	var req discountCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	claims, _ := claimsFrom(r.Context())
	switch {
	case req.EventID != nil:
		if err := h.authorizeEvent(r.Context(), *req.EventID); err != nil {
			writeError(w, r, err)
			return
		}
	case claims.Role != RoleAdmin:
		writeError(w, r, errors.Wrap(domain.ErrForbidden, "only admins create codes for all events"))
		return
	}

	code, err := h.Discounts.Create(r.Context(), domain.DiscountCode{
		Code:       req.Code,
		Type:       req.Type,
		Value:      req.Value,
		MaxUses:    req.MaxUses,
		IsActive:   true,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		EventID:    req.EventID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if code.EventID != nil {
		h.audit(r, "discount_code.created", *code.EventID, map[string]interface{}{"code": code.Code})
	}
	writeJSON(w, http.StatusCreated, code)
}

type statsResponse struct {
	Sales    domain.SalesSummary `json:"sales"`
	CheckIns domain.CheckInStats `json:"check_ins"`
}

func (h *Handlers) EventStats(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorizeEvent(r.Context(), eventID); err != nil {
		writeError(w, r, err)
		return
	}
	sales, err := h.Queries.EventSales(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	checkIns, err := h.Gate.Stats(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Sales: sales, CheckIns: checkIns})
}

type checkInRequest struct {
	TicketNumber string               `json:"ticket_number"`
	Token        string               `json:"token"`
	EventID      uuid.UUID            `json:"event_id"`
	Method       domain.CheckInMethod `json:"method"`
}

// CheckIn accepts either the scanned QR token or a typed ticket number.
func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	claims, _ := claimsFrom(r.Context())

	var (
		ticket domain.Ticket
		err    error
	)
	switch {
	case req.Token != "":
		ticket, err = h.Gate.CheckInToken(r.Context(), req.Token, req.EventID, claims.Subject)
	case req.TicketNumber != "":
		ticket, err = h.Gate.CheckIn(r.Context(), redemption.CheckInRequest{
			TicketNumber: req.TicketNumber,
			CheckedInBy:  claims.Subject,
			Method:       req.Method,
			EventID:      req.EventID,
		})
	default:
		err = errors.Wrap(domain.ErrInvalidInput, "token or ticket_number is required")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"checked_in": true, "ticket": ticket})
}

func (h *Handlers) CancelTicket(w http.ResponseWriter, r *http.Request) {
	number := domain.NormalizeTicketNumber(chi.URLParam(r, "number"))
	t, err := h.Queries.GetTicketByNumber(r.Context(), number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorizeEvent(r.Context(), t.EventID); err != nil {
		writeError(w, r, err)
		return
	}
	t, err = h.Gate.Cancel(r.Context(), number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, "ticket.cancelled", t.EventID, map[string]interface{}{"ticket_number": t.TicketNumber})
	writeJSON(w, http.StatusOK, t)
}

// TicketCheckIns returns the append-only check-in history of a ticket.
// EventAttendees lists an event's tickets with buyer emails, optionally
// filtered by ?status=.
func (h *Handlers) EventAttendees(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.authorizeEvent(r.Context(), eventID); err != nil {
		writeError(w, r, err)
		return
	}
	status := domain.TicketStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, errors.Wrapf(domain.ErrInvalidInput, "unknown ticket status %q", status))
		return
	}
	page, err := pageParams(r, maxPageSize, 1000)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attendees, err := h.Queries.ListAttendees(r.Context(), eventID, status, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Scan tokens stay with the buyer.
	for i := range attendees {
		attendees[i].Payload = ""
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attendees": nonNil(attendees),
		"limit":     page.Limit,
		"offset":    page.Offset,
	})
}

func (h *Handlers) TicketCheckIns(w http.ResponseWriter, r *http.Request) {
	t, err := h.Queries.GetTicketByNumber(r.Context(), domain.NormalizeTicketNumber(chi.URLParam(r, "number")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if claims, _ := claimsFrom(r.Context()); claims.Role == RoleOrganizer {
		if err := h.authorizeEvent(r.Context(), t.EventID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	history, err := h.Queries.ListCheckIns(r.Context(), t.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": t, "check_ins": nonNil(history)})
}
