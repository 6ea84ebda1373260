package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-process Gateway for local development and tests.  It
// issues random order ids, remembers refunded payments and reports a second
// refund of the same payment as ErrAlreadyRefunded, like the real gateway.
type Sandbox struct {
	mu       sync.Mutex
	orders   map[string]Order
	refunded map[string]Refund
	failNext error
}

// NewSandbox returns an empty sandbox gateway.
func NewSandbox() *Sandbox {
	return &Sandbox{orders: map[string]Order{}, refunded: map[string]Refund{}}
}

// FailNext makes the next call return err.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// MarkRefunded records paymentID as already refunded.
func (s *Sandbox) MarkRefunded(paymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunded[paymentID] = Refund{ID: "rfnd_" + uuid.NewString(), PaymentID: paymentID, Status: "processed"}
}

// Refunds returns the number of refunds issued so far.
func (s *Sandbox) Refunds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refunded)
}

// Orders returns the number of orders created so far.
func (s *Sandbox) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Sandbox) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Sandbox) CreateOrder(_ context.Context, amountCents int64, currency, receipt string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		return nil, errors.New("payment: amount must be positive")
	}
	o := Order{ID: "order_" + uuid.NewString(), AmountCents: amountCents, Currency: currency, Receipt: receipt, Status: "created"}
	s.orders[o.ID] = o
	return &o, nil
}

func (s *Sandbox) Refund(_ context.Context, paymentID string, amountCents int64) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	if _, ok := s.refunded[paymentID]; ok {
		return nil, ErrAlreadyRefunded
	}
	r := Refund{ID: "rfnd_" + uuid.NewString(), PaymentID: paymentID, AmountCents: amountCents, Status: "processed"}
	s.refunded[paymentID] = r
	return &r, nil
}
