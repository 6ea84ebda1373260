// Package payment talks to the external payment gateway: it creates
// checkout orders for paid sessions, issues refunds, and verifies the
// checkout signature the client hands back after paying.
package payment

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("consult.internal.payment")

// ErrAlreadyRefunded is returned by Refund when the gateway reports that
// the payment was fully refunded before.  Callers treat it as success.
var ErrAlreadyRefunded = errors.New("payment: already fully refunded")

// Order is a checkout order the client pays against.
type Order struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Receipt     string    `json:"receipt"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"-"`
}

// Refund is the gateway's record of a refund.
type Refund struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount"`
	Status      string `json:"status"`
}

// Gateway is the subset of the payment provider API the booking flow uses.
type Gateway interface {
	CreateOrder(ctx context.Context, amountCents int64, currency, receipt string) (*Order, error)
	Refund(ctx context.Context, paymentID string, amountCents int64) (*Refund, error)
}
