package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors register themselves with the default registry through promauto.
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_request_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketing_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketing_outbox_lag_seconds",
			Help: "Age of the oldest record in the last published outbox batch",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	Reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_reservations_total",
			Help: "Inventory reservations by outcome",
		},
		[]string{"outcome"},
	)

	CASConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_cas_conflicts_total",
			Help: "Compare-and-set retries by ledger",
		},
		[]string{"ledger"},
	)

	DiscountUses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_discount_uses_total",
			Help: "Discount code consumption by outcome",
		},
		[]string{"outcome"},
	)

	PurchaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_purchase_transitions_total",
			Help: "Purchase state transitions won",
		},
		[]string{"to"},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_tickets_issued_total",
			Help: "Tickets materialized",
		},
	)

	CheckIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_check_ins_total",
			Help: "Check-in attempts by outcome",
		},
		[]string{"outcome"},
	)

	Webhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_webhooks_total",
			Help: "Payment webhooks by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_deliveries_total",
			Help: "Ticket confirmation deliveries by outcome",
		},
		[]string{"outcome"},
	)

	SweptPurchases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_swept_purchases_total",
			Help: "Stale pending purchases failed by the sweeper",
		},
	)
)
