package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/payment"
	"github.com/iliyamo/consult-booking/internal/repository"
)

// CancelResult is returned by Cancel.
type CancelResult struct {
	Appointment  model.Appointment `json:"appointment"`
	RefundIssued bool              `json:"refund_issued"`
}

// CancellationService cancels appointments and issues refunds.
type CancellationService struct {
	deps *Deps
}

func NewCancellationService(d Deps) *CancellationService {
	return &CancellationService{deps: d.withDefaults()}
}

// Cancel cancels an appointment on behalf of one of its parties.  The
// refund, when due, is requested inside the transaction so a gateway
// failure leaves the appointment untouched.
func (s *CancellationService) Cancel(ctx context.Context, appointmentID uint64, who model.Requester, reason string) (*CancelResult, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("appointment.id", int64(appointmentID)),
		attribute.String("requester.role", string(who.Role)),
	)

	res, err := s.cancel(ctx, appointmentID, who, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("refund.issued", res.RefundIssued))
	return res, nil
}

func (s *CancellationService) cancel(ctx context.Context, appointmentID uint64, who model.Requester, reason string) (*CancelResult, error) {
	d := s.deps
	if appointmentID == 0 {
		return nil, invalidf("appointment id is required")
	}

	// A consultant acts through their profile id; resolve it once before
	// taking row locks.
	var consultantID uint64
	switch who.Role {
	case model.RoleClient:
	case model.RoleConsultant:
		c, err := d.Consultants.GetByUserID(ctx, who.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrForbidden
			}
			return nil, fmt.Errorf("resolve consultant: %w", err)
		}
		consultantID = c.ID
	default:
		return nil, ErrForbidden
	}

	now := d.now()
	var (
		result       model.Appointment
		refundIssued bool
	)
	err := d.Appointments.InTx(ctx, func(tx repository.AppointmentTx) error {
		a, err := tx.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		switch who.Role {
		case model.RoleClient:
			if a.ClientID != who.UserID {
				return ErrForbidden
			}
		case model.RoleConsultant:
			if a.ConsultantID != consultantID {
				return ErrForbidden
			}
		}
		switch a.Status {
		case model.BookingCancelled:
			return ErrAlreadyCancelled
		case model.BookingCompleted:
			return &ConflictError{Reason: "completed appointments cannot be cancelled"}
		}

		dec := DecideCancellation(who.Role, a.PaymentStatus, a.StartsAt.Sub(now), d.Booking.RefundCutoff)
		if dec.Refund && a.PriceCents > 0 && a.PaymentID != nil {
			gctx, cancel := d.gatewayContext(ctx)
			refund, err := d.Gateway.Refund(gctx, *a.PaymentID, a.PriceCents)
			cancel()
			switch {
			case errors.Is(err, payment.ErrAlreadyRefunded):
				d.Metrics.ObserveRefund("already_refunded")
				d.Logger.Info("payment already refunded at gateway", "appointment_id", a.ID, "payment_id", *a.PaymentID)
			case err != nil:
				d.Metrics.ObserveRefund("failed")
				return fmt.Errorf("%w: refund payment %s: %v", ErrUpstream, *a.PaymentID, err)
			default:
				d.Metrics.ObserveRefund("issued")
				a.RefundID = &refund.ID
			}
			refundIssued = true
			a.PaymentStatus = model.PaymentRefunded
		} else if !dec.Refund {
			a.PaymentStatus = dec.PaymentStatus
		}
		// A free session needs no gateway call and keeps its paid status.

		by := dec.CancelledBy
		a.Status = model.BookingCancelled
		a.CancelledBy = &by
		a.CancelledAt = &now
		if r := strings.TrimSpace(reason); r != "" {
			a.CancelReason = &r
		} else {
			a.CancelReason = nil
		}
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		result = *a
		return nil
	})
	if err != nil {
		return nil, classifyTxError("cancel appointment", err)
	}

	ob := newOutbox(d)
	ob.now("invalidate appointment caches", func(ctx context.Context) error {
		d.invalidateAppointment(ctx, result)
		return nil
	})
	ob.later("cancellation notice", func(ctx context.Context) error {
		return d.Notifier.BookingCancelled(ctx, result, refundIssued)
	})
	ob.flush(ctx)

	d.Logger.Info("appointment cancelled",
		"appointment_id", result.ID,
		"cancelled_by", *result.CancelledBy,
		"refund_issued", refundIssued,
	)
	return &CancelResult{Appointment: result, RefundIssued: refundIssued}, nil
}
