package handler

import (
	"context"

	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/service"
)

// The handlers depend on these narrow views of the services so they can be
// tested with stubs.

type SlotLister interface {
	GetAvailableSlots(ctx context.Context, consultantRef uint64, date string) (*service.SlotListing, error)
}

type AvailabilityManager interface {
	Set(ctx context.Context, consultantRef uint64, who model.Requester, in service.AvailabilityInput) (*model.AvailabilitySet, error)
	List(ctx context.Context, consultantRef uint64) ([]model.AvailabilitySet, error)
}

type Booker interface {
	CreateBooking(ctx context.Context, req service.BookingRequest) (*service.BookingResult, error)
	VerifyPayment(ctx context.Context, req service.VerifyRequest) (*model.Appointment, error)
}

type Canceller interface {
	Cancel(ctx context.Context, appointmentID uint64, who model.Requester, reason string) (*service.CancelResult, error)
}

type AppointmentReader interface {
	ForClient(ctx context.Context, clientID uint64, status string) ([]model.Appointment, error)
	ForConsultant(ctx context.Context, userID uint64, status string) ([]model.Appointment, error)
	Get(ctx context.Context, id uint64, who model.Requester) (*model.Appointment, error)
}
