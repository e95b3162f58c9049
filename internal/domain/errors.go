package domain

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Categories. Every specific failure below matches exactly one of these
// with errors.Is, which is what the HTTP layer maps to status codes.
var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrUpstream             = errors.New("upstream failure")
)

var (
	// ErrStaleVersion is returned by stores when a compare-and-set lost
	// against a concurrent writer.
	ErrStaleVersion = newKind(ErrConflict, "stale version")

	ErrTicketTypeNotFound = newKind(ErrNotFound, "ticket type not found")
	ErrInactive           = newKind(ErrInvalidInput, "ticket type is not on sale")
	ErrSalesNotStarted    = newKind(ErrInactive, "sales have not started yet")
	ErrSalesEnded         = newKind(ErrInactive, "sales have ended")
	ErrInsufficientStock  = newKind(ErrInvalidInput, "insufficient stock")
	ErrOrderLimitExceeded = newKind(ErrInvalidInput, "order limit exceeded")
	ErrReservationFailed  = newKind(ErrConflict, "reservation failed, try again")

	ErrDiscountNotFound    = newKind(ErrNotFound, "invalid promo code")
	ErrDiscountInactive    = newKind(ErrInvalidInput, "promo code is inactive")
	ErrWrongEvent          = newKind(ErrInvalidInput, "not valid for this event")
	ErrNotYetValid         = newKind(ErrInvalidInput, "promo code not yet valid")
	ErrExpired             = newKind(ErrInvalidInput, "promo code expired")
	ErrUsageLimitReached   = newKind(ErrInvalidInput, "promo code usage limit reached")
	ErrDiscountUnavailable = newKind(ErrConflict, "promo code unavailable, try again")

	ErrPurchaseNotFound    = newKind(ErrNotFound, "purchase not found")
	ErrReferenceMismatch   = newKind(ErrConflict, "payment reference mismatch")
	ErrInvalidTransition   = newKind(ErrConflict, "invalid purchase transition")
	ErrPaymentNotConfirmed = newKind(ErrInvalidInput, "payment not confirmed")

	ErrTicketNotFound = newKind(ErrNotFound, "ticket not found")
	ErrAlreadyUsed    = newKind(ErrConflict, "ticket already used")
	ErrNotValid       = newKind(ErrInvalidInput, "ticket is not valid")
	ErrBadSignature   = newKind(ErrUnauthorized, "invalid signature")

	ErrEventNotFound = newKind(ErrNotFound, "event not found")
	ErrForbidden     = newKind(ErrUnauthorized, "forbidden")
)

// kind is a specific failure that also matches its category.
type kind struct {
	msg      string
	category error
}

func newKind(category error, msg string) error {
	return &kind{msg: msg, category: category}
}

func (k *kind) Error() string { return k.msg }

func (k *kind) Is(target error) bool {
	return target == k.category || errors.Is(k.category, target)
}

type InsufficientStockError struct {
	TicketTypeID uuid.UUID
	Requested    int
	Available    int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("only %d tickets available", e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return errors.Is(ErrInsufficientStock, target)
}

// AlreadyUsedError carries who redeemed the ticket and when, so the door
// gets an actionable answer on a double scan.
type AlreadyUsedError struct {
	TicketNumber string
	CheckedInAt  time.Time
	CheckedInBy  string
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("ticket %s already used at %s by %s",
		e.TicketNumber, e.CheckedInAt.Format(time.RFC3339), e.CheckedInBy)
}

func (e *AlreadyUsedError) Is(target error) bool {
	return errors.Is(ErrAlreadyUsed, target)
}
