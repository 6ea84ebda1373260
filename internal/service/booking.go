package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/payment"
	"github.com/iliyamo/consult-booking/internal/repository"
)

// BookingRequest asks for a session with a consultant.  ConsultantRef may
// be the consultant profile id or the consultant's user id.
type BookingRequest struct {
	ConsultantRef   uint64
	ClientID        uint64
	StartTime       time.Time
	DurationMinutes int
}

// BookingResult is returned by CreateBooking.  Order is set when the
// session has a price and the client must complete checkout.
type BookingResult struct {
	Appointment model.Appointment `json:"appointment"`
	Free        bool              `json:"free"`
	Order       *payment.Order    `json:"order,omitempty"`
}

// VerifyRequest carries the checkout result reported by the client.
type VerifyRequest struct {
	AppointmentID uint64
	ClientID      uint64
	OrderID       string
	PaymentID     string
	Signature     string
}

// BookingService creates bookings and reconciles their payments.
type BookingService struct {
	deps *Deps
}

func NewBookingService(d Deps) *BookingService {
	return &BookingService{deps: d.withDefaults()}
}

// CreateBooking reserves a slot.  The slot lock narrows contention, the
// serializable re-check decides, and the unique active-slot index backs
// both.  Free sessions are confirmed immediately; priced sessions are held
// as pending until VerifyPayment.
func (s *BookingService) CreateBooking(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	ctx, span := tracer.Start(ctx, "booking.create")
	defer span.End()
	d := s.deps

	res, err := s.createBooking(ctx, req)
	outcome := bookingOutcome(res, err)
	d.Metrics.ObserveBooking(outcome)
	span.SetAttributes(attribute.String("booking.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("appointment.id", int64(res.Appointment.ID)))
	return res, nil
}

func (s *BookingService) createBooking(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	d := s.deps
	now := d.now()

	if req.ClientID == 0 {
		return nil, invalidf("client id is required")
	}
	if req.StartTime.IsZero() {
		return nil, invalidf("start time is required")
	}
	if req.DurationMinutes <= 0 {
		return nil, invalidf("duration must be positive")
	}
	if d.Booking.MaxDuration > 0 && time.Duration(req.DurationMinutes)*time.Minute > d.Booking.MaxDuration {
		return nil, invalidf("duration must not exceed %s", d.Booking.MaxDuration)
	}
	start := req.StartTime.UTC().Truncate(time.Minute)
	if !start.After(now) {
		return nil, invalidf("start time is in the past")
	}
	if start.Before(now.Add(d.Booking.MinLead)) {
		return nil, invalidf("bookings must be made at least %s in advance", d.Booking.MinLead)
	}

	consultant, err := d.resolveConsultant(ctx, req.ConsultantRef)
	if err != nil {
		return nil, err
	}
	if !consultant.IsActive {
		return nil, invalidf("consultant is not accepting bookings")
	}

	lease, ok := d.Locks.Acquire(ctx, consultant.ID, start, d.Booking.LockTTL)
	if !ok {
		return nil, &ConflictError{Retryable: true, Reason: "slot currently being booked, try again shortly"}
	}
	defer d.Locks.Release(ctx, lease)

	duration := time.Duration(req.DurationMinutes) * time.Minute
	end := start.Add(duration)
	currency := consultant.Currency
	if currency == "" {
		currency = d.Booking.DefaultCurrency
	}
	appt := &model.Appointment{
		ConsultantID:    consultant.ID,
		ClientID:        req.ClientID,
		StartsAt:        start,
		DurationMinutes: req.DurationMinutes,
		PriceCents:      consultant.PriceFor(req.DurationMinutes),
		Currency:        currency,
		Status:          model.BookingScheduled,
		RoomID:          "room-" + uuid.NewString(),
		Participants:    []uint64{req.ClientID},
		MaxParticipants: d.Booking.MaxParticipants,
		CreatedAt:       now,
	}

	// The band must cover the longest session so an earlier booking that
	// runs into the requested slot is still found.
	band := d.Booking.ConflictBand
	if band < d.Booking.MaxDuration {
		band = d.Booking.MaxDuration
	}
	if band < duration {
		band = duration
	}

	var order *payment.Order
	err = d.Appointments.InTx(ctx, func(tx repository.AppointmentTx) error {
		existing, err := tx.ActiveInWindow(ctx, consultant.ID, start.Add(-band), start.Add(band))
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.OccupiesSlot() && e.Overlaps(start, end) {
				at := e.StartsAt
				return &ConflictError{Reason: "slot already booked, choose another time", ConflictingTime: &at}
			}
		}

		if appt.PriceCents == 0 {
			appt.PaymentStatus = model.PaymentPaid
		} else {
			receipt := fmt.Sprintf("c%d-%d-u%d", consultant.ID, start.Unix(), req.ClientID)
			gctx, cancel := d.gatewayContext(ctx)
			order, err = d.Gateway.CreateOrder(gctx, appt.PriceCents, currency, receipt)
			cancel()
			if err != nil {
				return fmt.Errorf("%w: create payment order: %v", ErrUpstream, err)
			}
			appt.PaymentStatus = model.PaymentPending
			appt.PaymentOrderID = &order.ID
		}
		return tx.Create(ctx, appt)
	})
	if err != nil {
		return nil, classifyTxError("create booking", err)
	}

	ob := newOutbox(d)
	committed := *appt
	ob.now("invalidate appointment caches", func(ctx context.Context) error {
		d.invalidateAppointment(ctx, committed)
		return nil
	})
	if committed.PaymentStatus == model.PaymentPaid {
		ob.later("booking confirmation", func(ctx context.Context) error {
			return d.Notifier.BookingConfirmed(ctx, committed)
		})
	}
	ob.flush(ctx)

	d.Logger.Info("booking created",
		"appointment_id", committed.ID,
		"consultant_id", committed.ConsultantID,
		"client_id", committed.ClientID,
		"starts_at", committed.StartsAt,
		"payment_status", committed.PaymentStatus,
	)
	return &BookingResult{Appointment: committed, Free: order == nil, Order: order}, nil
}

// VerifyPayment checks the checkout signature of a pending booking and
// confirms or fails it.  Replaying a successful verification returns the
// paid appointment unchanged.  On a signature mismatch the appointment is
// marked failed and ErrPaymentVerification is returned with it.
func (s *BookingService) VerifyPayment(ctx context.Context, req VerifyRequest) (*model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.verify_payment")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment.id", int64(req.AppointmentID)))

	a, err := s.verifyPayment(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
	}
	return a, err
}

func (s *BookingService) verifyPayment(ctx context.Context, req VerifyRequest) (*model.Appointment, error) {
	d := s.deps
	if req.AppointmentID == 0 || req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, invalidf("appointment id, order id, payment id and signature are required")
	}
	valid := payment.VerifySignature(d.SignatureSecret, req.OrderID, req.PaymentID, req.Signature)
	now := d.now()

	var (
		result    model.Appointment
		changed   bool
		confirmed bool
	)
	err := d.Appointments.InTx(ctx, func(tx repository.AppointmentTx) error {
		a, err := tx.GetForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		if a.ClientID != req.ClientID {
			return ErrForbidden
		}
		if a.PaymentOrderID == nil || *a.PaymentOrderID != req.OrderID {
			return invalidf("order does not belong to this appointment")
		}

		if a.PaymentStatus == model.PaymentPaid {
			if valid && a.PaymentID != nil && *a.PaymentID == req.PaymentID {
				result = *a
				return nil
			}
			return &ConflictError{Reason: "appointment is already paid"}
		}
		if a.Status != model.BookingScheduled || a.PaymentStatus != model.PaymentPending {
			if valid {
				d.Logger.Error("payment captured for an expired booking, manual reconciliation required",
					"appointment_id", a.ID, "order_id", req.OrderID, "payment_id", req.PaymentID)
			}
			return &ConflictError{Reason: "booking expired, please book again"}
		}

		if !valid {
			a.PaymentStatus = model.PaymentFailed
			a.Status = model.BookingCancelled
			by := model.CancelledBySystem
			reason := "payment verification failed"
			a.CancelledBy = &by
			a.CancelledAt = &now
			a.CancelReason = &reason
		} else {
			a.PaymentStatus = model.PaymentPaid
			pid := req.PaymentID
			a.PaymentID = &pid
			confirmed = true
		}
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		result = *a
		changed = true
		return nil
	})
	if err != nil {
		return nil, classifyTxError("verify payment", err)
	}

	if changed {
		ob := newOutbox(d)
		ob.now("invalidate appointment caches", func(ctx context.Context) error {
			d.invalidateAppointment(ctx, result)
			return nil
		})
		if confirmed {
			ob.later("booking confirmation", func(ctx context.Context) error {
				return d.Notifier.BookingConfirmed(ctx, result)
			})
		}
		ob.flush(ctx)
	}
	if !valid {
		d.Logger.Warn("payment signature mismatch", "appointment_id", result.ID, "order_id", req.OrderID)
		return &result, ErrPaymentVerification
	}
	return &result, nil
}

// classifyTxError is the single place where store failures become
// service errors.
func classifyTxError(op string, err error) error {
	var ce *ConflictError
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUpstream), errors.Is(err, ErrAlreadyCancelled):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrForbidden):
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	case errors.Is(err, repository.ErrDuplicateSlot):
		return &ConflictError{Reason: "slot already booked, choose another time"}
	case errors.Is(err, repository.ErrTxConflict):
		return &ConflictError{Retryable: true, Reason: "concurrent update, try again"}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func bookingOutcome(res *BookingResult, err error) string {
	var ce *ConflictError
	switch {
	case err == nil && res.Free:
		return "confirmed"
	case err == nil:
		return "pending"
	case errors.As(err, &ce) && ce.Retryable:
		return "retryable_conflict"
	case errors.As(err, &ce):
		return "conflict"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	}
	return "error"
}
