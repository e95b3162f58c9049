package payment

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/shopspring/decimal"
)

// Sandbox is an in-process processor for local runs and tests. Sessions
// stay unpaid until MarkPaid is called.
type Sandbox struct {
	mu       sync.Mutex
	baseURL  string
	sessions map[string]*SessionStatus
	created  []SessionRequest
	failNext error
}

func NewSandbox(baseURL string) *Sandbox {
	return &Sandbox{baseURL: baseURL, sessions: map[string]*SessionStatus{}}
}

func (s *Sandbox) CreateCheckoutSession(_ context.Context, req SessionRequest) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return Session{}, errors.Mark(err, domain.ErrUpstream)
	}
	id := "cs_" + uuid.NewString()
	s.sessions[id] = &SessionStatus{
		ID:         id,
		PurchaseID: req.PurchaseID,
		Status:     "open",
		Amount:     decimal.NewNullDecimal(req.Amount),
		Currency:   req.Currency,
	}
	s.created = append(s.created, req)
	return Session{ID: id, URL: s.baseURL + "/sandbox/checkout/" + id}, nil
}

func (s *Sandbox) RetrieveSession(_ context.Context, sessionID string) (SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return SessionStatus{}, errors.Wrapf(domain.ErrNotFound, "payment session %s", sessionID)
	}
	return *st, nil
}

// FailNext makes the next CreateCheckoutSession return err.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Sandbox) MarkPaid(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "payment session %s", sessionID)
	}
	st.Status = "complete"
	st.Paid = true
	st.PaymentRef = "pi_" + uuid.NewString()
	return nil
}

// Created returns the session requests seen so far.
func (s *Sandbox) Created() []SessionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionRequest(nil), s.created...)
}
