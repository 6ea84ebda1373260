package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/consult-booking/internal/cache"
	"github.com/iliyamo/consult-booking/internal/lock"
	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/payment"
)

var tomorrow10 = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

func TestCreateBookingFreeSessionIsConfirmed(t *testing.T) {
	h := newHarness(t)
	svc := NewBookingService(h.deps)

	res, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef:   freeConsultant,
		ClientID:        clientA,
		StartTime:       tomorrow10.Add(25 * time.Second),
		DurationMinutes: 45,
	})
	require.NoError(t, err)
	assert.True(t, res.Free)
	assert.Nil(t, res.Order)
	a := res.Appointment
	assert.Equal(t, model.PaymentPaid, a.PaymentStatus)
	assert.Equal(t, model.BookingScheduled, a.Status)
	assert.Equal(t, tomorrow10, a.StartsAt, "start is normalised to the minute")
	assert.Equal(t, []uint64{clientA}, a.Participants)
	assert.Contains(t, a.RoomID, "room-")
	assert.Zero(t, h.gateway.Orders())

	h.deps.Background.Wait()
	confirmed, _ := h.notifier.snapshot()
	assert.Equal(t, []uint64{a.ID}, confirmed)
	assert.False(t, h.redis.Exists(lock.SlotKey(freeConsultant, tomorrow10)), "lock released")
}

func TestCreateBookingPaidSessionCreatesOrder(t *testing.T) {
	h := newHarness(t)
	svc := NewBookingService(h.deps)

	res, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef:   paidConsultantUser,
		ClientID:        clientA,
		StartTime:       tomorrow10,
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.False(t, res.Free)
	assert.Equal(t, int64(3000), res.Order.AmountCents)
	a := res.Appointment
	assert.Equal(t, paidConsultant, a.ConsultantID, "user-id alias resolves to the profile id")
	assert.Equal(t, model.PaymentPending, a.PaymentStatus)
	require.NotNil(t, a.PaymentOrderID)
	assert.Equal(t, res.Order.ID, *a.PaymentOrderID)
	assert.Equal(t, 1, h.gateway.Orders())

	h.deps.Background.Wait()
	confirmed, _ := h.notifier.snapshot()
	assert.Empty(t, confirmed, "pending bookings are confirmed by payment verification")
}

func TestCreateBookingValidation(t *testing.T) {
	h := newHarness(t)
	svc := NewBookingService(h.deps)

	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"missing client", BookingRequest{ConsultantRef: paidConsultant, StartTime: tomorrow10, DurationMinutes: 30}, ErrInvalidInput},
		{"zero duration", BookingRequest{ConsultantRef: paidConsultant, ClientID: clientA, StartTime: tomorrow10}, ErrInvalidInput},
		{"too long", BookingRequest{ConsultantRef: paidConsultant, ClientID: clientA, StartTime: tomorrow10, DurationMinutes: 9 * 60}, ErrInvalidInput},
		{"in the past", BookingRequest{ConsultantRef: paidConsultant, ClientID: clientA, StartTime: testNow.Add(-time.Hour), DurationMinutes: 30}, ErrInvalidInput},
		{"inside lead time", BookingRequest{ConsultantRef: paidConsultant, ClientID: clientA, StartTime: testNow.Add(30 * time.Minute), DurationMinutes: 30}, ErrInvalidInput},
		{"unknown consultant", BookingRequest{ConsultantRef: 4242, ClientID: clientA, StartTime: tomorrow10, DurationMinutes: 30}, ErrNotFound},
		{"inactive consultant", BookingRequest{ConsultantRef: inactiveConsultant, ClientID: clientA, StartTime: tomorrow10, DurationMinutes: 30}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBooking(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, h.store.count())
}

func TestCreateBookingExactlyAtLeadTime(t *testing.T) {
	h := newHarness(t)
	svc := NewBookingService(h.deps)

	_, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef: freeConsultant, ClientID: clientA, StartTime: testNow.Add(time.Hour), DurationMinutes: 30,
	})
	assert.NoError(t, err)
	h.deps.Background.Wait()
}

func TestCreateBookingOverlapIsFinalConflict(t *testing.T) {
	h := newHarness(t)
	existing := h.paidAppointment(tomorrow10)
	svc := NewBookingService(h.deps)

	_, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef:   paidConsultant,
		ClientID:        clientB,
		StartTime:       tomorrow10.Add(30 * time.Minute),
		DurationMinutes: 60,
	})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Retryable)
	require.NotNil(t, ce.ConflictingTime)
	assert.Equal(t, existing.StartsAt, *ce.ConflictingTime)
	assert.Zero(t, h.gateway.Orders(), "no order is created for a rejected slot")

	_, err = svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef:   paidConsultant,
		ClientID:        clientB,
		StartTime:       tomorrow10.Add(time.Hour),
		DurationMinutes: 60,
	})
	assert.NoError(t, err, "back-to-back sessions do not overlap")
}

func TestCreateBookingLockContentionIsRetryable(t *testing.T) {
	h := newHarness(t)
	other := lock.NewManager(h.rdb, h.deps.Logger, nil)
	lease, ok := other.Acquire(context.Background(), paidConsultant, tomorrow10, time.Minute)
	require.True(t, ok)
	svc := NewBookingService(h.deps)

	_, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef: paidConsultantUser, ClientID: clientA, StartTime: tomorrow10, DurationMinutes: 30,
	})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Retryable)
	assert.True(t, IsRetryable(err))
	assert.True(t, h.redis.Exists(lease.Key), "the holder's lock is left alone")
}

func TestCreateBookingUniqueIndexIsLastLine(t *testing.T) {
	h := newHarness(t)
	h.paidAppointment(tomorrow10)
	h.store.hideActive = true
	svc := NewBookingService(h.deps)

	_, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef: paidConsultant, ClientID: clientB, StartTime: tomorrow10, DurationMinutes: 60,
	})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Retryable)
	assert.Equal(t, 1, h.store.count())
}

func TestCreateBookingGatewayFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.gateway.FailNext(errors.New("gateway down"))
	svc := NewBookingService(h.deps)

	_, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef: paidConsultant, ClientID: clientA, StartTime: tomorrow10, DurationMinutes: 60,
	})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Zero(t, h.store.count())
	assert.False(t, h.redis.Exists(lock.SlotKey(paidConsultant, tomorrow10)))
}

func runConcurrentBookings(t *testing.T, h *harness, n int) (wins int, conflicts int) {
	t.Helper()
	svc := NewBookingService(h.deps)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(client uint64) {
			defer wg.Done()
			<-start
			_, err := svc.CreateBooking(context.Background(), BookingRequest{
				ConsultantRef:   paidConsultant,
				ClientID:        client,
				StartTime:       tomorrow10,
				DurationMinutes: 60,
			})
			mu.Lock()
			defer mu.Unlock()
			var ce *ConflictError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &ce):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(clientA + uint64(i))
	}
	close(start)
	wg.Wait()
	return wins, conflicts
}

func TestConcurrentBookingsOnlyOneWins(t *testing.T) {
	h := newHarness(t)
	wins, conflicts := runConcurrentBookings(t, h, 12)
	assert.Equal(t, 1, wins)
	assert.Equal(t, 11, conflicts)
	assert.Equal(t, 1, h.store.count())
}

func TestConcurrentBookingsWithoutLockBackend(t *testing.T) {
	h := newHarness(t)
	h.redis.Close()
	wins, conflicts := runConcurrentBookings(t, h, 12)
	assert.Equal(t, 1, wins, "the transactional re-check alone prevents double booking")
	assert.Equal(t, 11, conflicts)
	assert.Equal(t, 1, h.store.count())
}

func bookPending(t *testing.T, h *harness, svc *BookingService) *BookingResult {
	t.Helper()
	res, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef: paidConsultant, ClientID: clientA, StartTime: tomorrow10, DurationMinutes: 60,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	return res
}

func TestVerifyPaymentConfirmsAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	svc := NewBookingService(h.deps)
	res := bookPending(t, h, svc)
	ctx := context.Background()

	h.rdb.Set(ctx, cache.ClientAppointmentsKey(clientA, ""), "[]", time.Minute)
	req := VerifyRequest{
		AppointmentID: res.Appointment.ID,
		ClientID:      clientA,
		OrderID:       res.Order.ID,
		PaymentID:     "pay_123",
		Signature:     payment.Sign(testSecret, res.Order.ID, "pay_123"),
	}
	a, err := svc.VerifyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, a.PaymentStatus)
	require.NotNil(t, a.PaymentID)
	assert.Equal(t, "pay_123", *a.PaymentID)
	assert.False(t, h.redis.Exists(cache.ClientAppointmentsKey(clientA, "")))

	again, err := svc.VerifyPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)

	h.deps.Background.Wait()
	confirmed, _ := h.notifier.snapshot()
	assert.Equal(t, []uint64{a.ID}, confirmed, "replays do not notify twice")
}

func TestVerifyPaymentBadSignatureFailsBooking(t *testing.T) {
	h := newHarness(t)
	svc := NewBookingService(h.deps)
	res := bookPending(t, h, svc)

	a, err := svc.VerifyPayment(context.Background(), VerifyRequest{
		AppointmentID: res.Appointment.ID,
		ClientID:      clientA,
		OrderID:       res.Order.ID,
		PaymentID:     "pay_123",
		Signature:     payment.Sign("wrong", res.Order.ID, "pay_123"),
	})
	require.ErrorIs(t, err, ErrPaymentVerification)
	require.NotNil(t, a)
	stored := h.store.get(res.Appointment.ID)
	assert.Equal(t, model.PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, model.BookingCancelled, stored.Status)
	require.NotNil(t, stored.CancelledBy)
	assert.Equal(t, model.CancelledBySystem, *stored.CancelledBy)

	_, err = svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef: paidConsultant, ClientID: clientB, StartTime: tomorrow10, DurationMinutes: 60,
	})
	assert.NoError(t, err, "a failed payment frees the slot")
}

func TestVerifyPaymentRejectsOtherClientAndOrder(t *testing.T) {
	h := newHarness(t)
	svc := NewBookingService(h.deps)
	res := bookPending(t, h, svc)
	ctx := context.Background()
	sig := payment.Sign(testSecret, res.Order.ID, "pay_1")

	_, err := svc.VerifyPayment(ctx, VerifyRequest{AppointmentID: res.Appointment.ID, ClientID: clientB, OrderID: res.Order.ID, PaymentID: "pay_1", Signature: sig})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.VerifyPayment(ctx, VerifyRequest{AppointmentID: res.Appointment.ID, ClientID: clientA, OrderID: "order_other", PaymentID: "pay_1", Signature: sig})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.VerifyPayment(ctx, VerifyRequest{AppointmentID: 999, ClientID: clientA, OrderID: res.Order.ID, PaymentID: "pay_1", Signature: sig})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.VerifyPayment(ctx, VerifyRequest{AppointmentID: res.Appointment.ID, ClientID: clientA})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, model.PaymentPending, h.store.get(res.Appointment.ID).PaymentStatus)
}

func TestVerifyPaymentAfterReapIsExpired(t *testing.T) {
	h := newHarness(t)
	svc := NewBookingService(h.deps)
	res := bookPending(t, h, svc)

	*h.clock = testNow.Add(16 * time.Minute)
	_, err := NewReaper(h.deps).Sweep(context.Background())
	require.NoError(t, err)

	_, err = svc.VerifyPayment(context.Background(), VerifyRequest{
		AppointmentID: res.Appointment.ID,
		ClientID:      clientA,
		OrderID:       res.Order.ID,
		PaymentID:     "pay_late",
		Signature:     payment.Sign(testSecret, res.Order.ID, "pay_late"),
	})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Retryable)
	assert.Equal(t, model.PaymentFailed, h.store.get(res.Appointment.ID).PaymentStatus)
}

// stallingGateway never answers; calls return only when ctx ends.
type stallingGateway struct{}

func (stallingGateway) CreateOrder(ctx context.Context, _ int64, _, _ string) (*payment.Order, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingGateway) Refund(ctx context.Context, _ string, _ int64) (*payment.Refund, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCreateBookingBoundsGatewayCall(t *testing.T) {
	h := newHarness(t)
	h.deps.Gateway = stallingGateway{}
	h.deps.Booking.GatewayTimeout = 50 * time.Millisecond
	svc := NewBookingService(h.deps)

	began := time.Now()
	_, err := svc.CreateBooking(context.Background(), BookingRequest{
		ConsultantRef: paidConsultant, ClientID: clientA, StartTime: tomorrow10, DurationMinutes: 60,
	})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Less(t, time.Since(began), 5*time.Second)
	assert.Zero(t, h.store.count())
	assert.False(t, h.redis.Exists(lock.SlotKey(paidConsultant, tomorrow10)))
}
