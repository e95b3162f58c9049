package http

import (
	"context"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/discount"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/inventory"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/payment"
	"github.com/robertarktes/event-ticketing/internal/purchase"
	"github.com/robertarktes/event-ticketing/internal/redemption"
	"github.com/shopspring/decimal"
)

// Catalog is the event metadata store (MongoDB in production).
type Catalog interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	CreateEvent(ctx context.Context, e domain.Event) error
	ListByOrganizer(ctx context.Context, organizerID string) ([]domain.Event, error)
}

// Queries are read-only lookups served straight from the store.
type Queries interface {
	ListTicketTypes(ctx context.Context, eventID uuid.UUID) ([]domain.TicketType, error)
	ListTicketsByPurchase(ctx context.Context, purchaseID uuid.UUID) ([]domain.Ticket, error)
	GetTicketByNumber(ctx context.Context, number string) (domain.Ticket, error)
	ListCheckIns(ctx context.Context, ticketID uuid.UUID) ([]domain.CheckIn, error)
	EventSales(ctx context.Context, eventID uuid.UUID) (domain.SalesSummary, error)
	ListPurchasesByBuyer(ctx context.Context, buyerID uuid.UUID, page domain.Page) ([]domain.Purchase, error)
	ListTicketsByUser(ctx context.Context, userID uuid.UUID, page domain.Page) ([]domain.Ticket, error)
	ListAttendees(ctx context.Context, eventID uuid.UUID, status domain.TicketStatus, page domain.Page) ([]domain.Attendee, error)
}

// AuditLog records organizer actions. Optional; failures are logged only.
type AuditLog interface {
	LogEvent(ctx context.Context, action, actor string, eventID uuid.UUID, data map[string]interface{}) error
}

// WebhookLog short-circuits redelivered webhooks. Optional.
type WebhookLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type Deps struct {
	Checkout   *purchase.Checkout
	Machine    *purchase.Machine
	Inventory  *inventory.Ledger
	Discounts  *discount.Ledger
	Gate       *redemption.Gate
	Catalog    Catalog
	Queries    Queries
	Verifier   *payment.WebhookVerifier
	WebhookLog WebhookLog
	Audit      AuditLog
	Auth       *Authenticator
	FeeRate    decimal.Decimal
	Currency   string
	Ready      func(ctx context.Context) error
}

type Handlers struct {
	Deps
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{Deps: d}
}

type checkoutRequest struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id"`
	Quantity     int       `json:"quantity"`
	DiscountCode string    `json:"discount_code,omitempty"`
}

type checkoutResponse struct {
	Purchase    domain.Purchase `json:"purchase"`
	SessionID   string          `json:"session_id"`
	CheckoutURL string          `json:"checkout_url"`
}

func (h *Handlers) StartCheckout(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	buyerID, err := claims.BuyerID()
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TicketTypeID == uuid.Nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "ticket_type_id is required"))
		return
	}

	res, err := h.Checkout.Start(r.Context(), purchase.CheckoutRequest{
		Buyer:        domain.Buyer{ID: buyerID, Email: claims.Email},
		TicketTypeID: req.TicketTypeID,
		Quantity:     req.Quantity,
		DiscountCode: req.DiscountCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		Purchase:    res.Purchase,
		SessionID:   res.Session.ID,
		CheckoutURL: res.Session.URL,
	})
}

type purchaseResponse struct {
	Purchase         domain.Purchase `json:"purchase"`
	Tickets          []domain.Ticket `json:"tickets"`
	AlreadyCompleted bool            `json:"already_completed,omitempty"`
}

func fromResult(res purchase.Result) purchaseResponse {
	return purchaseResponse{Purchase: res.Purchase, Tickets: nonNil(res.Tickets), AlreadyCompleted: res.AlreadyCompleted}
}

func (h *Handlers) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Machine.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	claims, _ := claimsFrom(r.Context())
	if claims.Role != RoleAdmin && claims.Subject != p.BuyerID.String() {
		// Hide existence from other buyers.
		writeError(w, r, errors.Wrapf(domain.ErrPurchaseNotFound, "id %s", id))
		return
	}
	tickets, err := h.Queries.ListTicketsByPurchase(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchaseResponse{Purchase: p, Tickets: nonNil(tickets)})
}

// CompletePurchase is the operator reconciliation path.
func (h *Handlers) CompletePurchase(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	res, err := h.Machine.Complete(r.Context(), id, req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromResult(res))
}

func (h *Handlers) FailPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "failed by operator"
	}
	p, err := h.Machine.Fail(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchaseResponse{Purchase: p, Tickets: []domain.Ticket{}})
}

// VerifySession is where the processor redirects the buyer after paying.
func (h *Handlers) VerifySession(w http.ResponseWriter, r *http.Request) {
	res, err := h.Machine.CompleteBySession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromResult(res))
}

// PaymentWebhook applies a signed processor event. Outcomes that retrying
// cannot change are acknowledged with 200 so the processor stops resending.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "unreadable body"))
		return
	}
	if err := h.Verifier.Verify(r.Header.Get(payment.SignatureHeader), body); err != nil {
		observability.Webhooks.WithLabelValues("unknown", "bad_signature").Inc()
		writeError(w, r, err)
		return
	}
	ev, err := payment.ParseEvent(body)
	if err != nil {
		observability.Webhooks.WithLabelValues("unknown", "malformed").Inc()
		writeError(w, r, err)
		return
	}

	log := loggerFrom(r.Context()).WithFields(map[string]interface{}{
		"webhook_id": ev.ID,
		"type":       ev.Type,
		"session_id": ev.SessionID,
	})
	if h.WebhookLog != nil {
		if seen, err := h.WebhookLog.Seen(r.Context(), ev.ID); err != nil {
			log.WithError(err).Warn("webhook log unavailable")
		} else if seen {
			observability.Webhooks.WithLabelValues(ev.Type, "duplicate").Inc()
			writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "duplicate": true})
			return
		}
	}

	switch ev.Type {
	case payment.EventSessionCompleted:
		_, err = h.Machine.CompleteBySession(r.Context(), ev.SessionID)
	case payment.EventSessionExpired, payment.EventPaymentFailed:
		_, err = h.Machine.FailBySession(r.Context(), ev.SessionID, ev.Type)
	default:
		observability.Webhooks.WithLabelValues(ev.Type, "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
		return
	}

	outcome := "applied"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrReferenceMismatch):
		outcome = "rejected"
		log.WithError(err).Warn("webhook not applicable")
	default:
		observability.Webhooks.WithLabelValues(ev.Type, "error").Inc()
		writeError(w, r, err)
		return
	}
	observability.Webhooks.WithLabelValues(ev.Type, outcome).Inc()

	if h.WebhookLog != nil {
		if err := h.WebhookLog.MarkProcessed(r.Context(), ev.ID); err != nil {
			log.WithError(err).Warn("mark webhook processed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

type validateDiscountRequest struct {
	Code         string    `json:"code"`
	EventID      uuid.UUID `json:"event_id"`
	TicketTypeID uuid.UUID `json:"ticket_type_id,omitempty"`
	Quantity     int       `json:"quantity,omitempty"`
}

type quote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Fee      decimal.Decimal `json:"fee"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

type validateDiscountResponse struct {
	Valid    bool                    `json:"valid"`
	Discount domain.DiscountSnapshot `json:"discount"`
	Quote    *quote                  `json:"quote,omitempty"`
}

// ValidateDiscount checks a code without consuming it and, given a ticket
// type and quantity, prices the order.
func (h *Handlers) ValidateDiscount(w http.ResponseWriter, r *http.Request) {
	var req validateDiscountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	eventID := req.EventID
	var tt domain.TicketType
	if req.TicketTypeID != uuid.Nil {
		var err error
		if tt, err = h.Inventory.Get(r.Context(), req.TicketTypeID); err != nil {
			writeError(w, r, err)
			return
		}
		eventID = tt.EventID
	}

	code, err := h.Discounts.Peek(r.Context(), req.Code, eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := validateDiscountResponse{Valid: true, Discount: code.Snapshot()}
	if req.TicketTypeID != uuid.Nil && req.Quantity > 0 {
		t := domain.ComputeTotals(tt.Price, req.Quantity, &resp.Discount, h.FeeRate)
		resp.Quote = &quote{Subtotal: t.Subtotal, Discount: t.Discount, Fee: t.Fee, Total: t.Total, Currency: tt.Currency}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			loggerFrom(r.Context()).WithError(err).Warn("not ready")
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not ready"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

// audit mirrors an organizer action into the audit log, best-effort.
func (h *Handlers) audit(r *http.Request, action string, eventID uuid.UUID, data map[string]interface{}) {
	if h.Audit == nil {
		return
	}
	claims, _ := claimsFrom(r.Context())
	if err := h.Audit.LogEvent(context.WithoutCancel(r.Context()), action, claims.Subject, eventID, data); err != nil {
		loggerFrom(r.Context()).WithError(err).WithField("action", action).Warn("audit log write failed")
	}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
