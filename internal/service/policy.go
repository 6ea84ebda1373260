package service

import (
	"time"

	"github.com/iliyamo/consult-booking/internal/model"
)

// Decision is the outcome of the cancellation policy.
type Decision struct {
	// Refund is true when the gateway must return the payment.
	Refund bool
	// PaymentStatus is the payment status after cancellation when no
	// refund is issued.  With Refund set the status becomes refunded once
	// the gateway confirms.
	PaymentStatus model.PaymentStatus
	CancelledBy   model.CancelledBy
}

// DecideCancellation applies the cancellation table:
//
//	client     paid     until start >= cutoff  refund
//	client     paid     until start <  cutoff  no refund, stays paid
//	client     pending                         no refund, payment failed
//	consultant paid                            refund regardless of timing
//	consultant pending                         no refund, stays pending
//
// Any other payment status (failed, refunded) is left as it is.
func DecideCancellation(role model.Role, status model.PaymentStatus, untilStart, cutoff time.Duration) Decision {
	dec := Decision{PaymentStatus: status}
	switch role {
	case model.RoleClient:
		dec.CancelledBy = model.CancelledByClient
		switch status {
		case model.PaymentPaid:
			dec.Refund = untilStart >= cutoff
		case model.PaymentPending:
			dec.PaymentStatus = model.PaymentFailed
		}
	case model.RoleConsultant:
		dec.CancelledBy = model.CancelledByConsultant
		dec.Refund = status == model.PaymentPaid
	}
	if dec.Refund {
		dec.PaymentStatus = model.PaymentRefunded
	}
	return dec
}
