package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/rateLimit"
)

// SetupRouter wires the routes. rl and idemp may be nil in tests and
// local runs without Redis.
func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Signed by the processor; never rate limited.
	r.Post("/v1/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl, 120, 0))
		r.Get("/v1/payments/sessions/{sessionID}/verify", h.VerifySession)
		r.Post("/v1/discounts/validate", h.ValidateDiscount)
		r.Get("/v1/events/{id}/ticket-types", h.ListTicketTypes)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Authenticate(RoleBuyer))
		r.Use(RateLimitMiddleware(rl, 120, 10))
		r.With(IdempotencyMiddleware(idemp)).Post("/v1/checkout", h.StartCheckout)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Authenticate(RoleBuyer))
		r.Use(RateLimitMiddleware(rl, 120, 60))
		r.Get("/v1/me/purchases", h.MyPurchases)
		r.Get("/v1/me/tickets", h.MyTickets)
		r.Get("/v1/me/tickets/{number}", h.MyTicket)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Authenticate())
		r.Use(RateLimitMiddleware(rl, 120, 60))
		r.Get("/v1/purchases/{id}", h.GetPurchase)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Authenticate(RoleAdmin))
		r.Post("/v1/purchases/{id}/complete", h.CompletePurchase)
		r.Post("/v1/purchases/{id}/fail", h.FailPurchase)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Authenticate(RoleDoor, RoleOrganizer, RoleAdmin))
		r.Post("/v1/check-in", h.CheckIn)
		r.Get("/v1/tickets/{number}/check-ins", h.TicketCheckIns)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Authenticate(RoleOrganizer, RoleAdmin))
		r.Post("/v1/events", h.CreateEvent)
		r.Get("/v1/events", h.ListEvents)
		r.Get("/v1/events/{id}/stats", h.EventStats)
		r.Get("/v1/events/{id}/attendees", h.EventAttendees)
		r.Post("/v1/ticket-types", h.CreateTicketType)
		r.Patch("/v1/ticket-types/{id}", h.UpdateTicketType)
		r.Post("/v1/discount-codes", h.CreateDiscountCode)
		r.Post("/v1/tickets/{number}/cancel", h.CancelTicket)
	})

	return r
}
