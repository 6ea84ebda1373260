package repository

import (
	"context"
	"time"

	"github.com/iliyamo/consult-booking/internal/model"
)

// AppointmentTx is the set of appointment operations that must run inside
// one serializable transaction.  Implementations are only valid for the
// lifetime of the callback passed to AppointmentStore.InTx.
type AppointmentTx interface {
	// ActiveInWindow returns appointments of the consultant that still
	// occupy their slot and start within [from, to], locking the rows it
	// reads.
	ActiveInWindow(ctx context.Context, consultantID uint64, from, to time.Time) ([]model.Appointment, error)
	// Create inserts a new appointment and fills in its ID and timestamps.
	Create(ctx context.Context, a *model.Appointment) error
	// GetForUpdate loads an appointment and locks it until commit.
	GetForUpdate(ctx context.Context, id uint64) (*model.Appointment, error)
	// Update persists the mutable state of an appointment: statuses,
	// payment references and cancellation details.
	Update(ctx context.Context, a *model.Appointment) error
}

// AppointmentStore is the durable store of appointments.
type AppointmentStore interface {
	// InTx runs fn inside a serializable transaction.  The transaction is
	// committed when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(tx AppointmentTx) error) error
	GetByID(ctx context.Context, id uint64) (*model.Appointment, error)
	// BookedBetween returns scheduled, paid appointments of the consultant
	// that overlap [from, to).
	BookedBetween(ctx context.Context, consultantID uint64, from, to time.Time) ([]model.Appointment, error)
	// ListByClient and ListByConsultant filter by booking status when
	// status is non-empty.
	ListByClient(ctx context.Context, clientID uint64, status model.BookingStatus) ([]model.Appointment, error)
	ListByConsultant(ctx context.Context, consultantID uint64, status model.BookingStatus) ([]model.Appointment, error)
	// ExpireStalePending moves every scheduled appointment whose payment is
	// still pending and which was created at or before createdBefore to
	// failed/cancelled, returning the affected rows.
	ExpireStalePending(ctx context.Context, createdBefore, now time.Time) ([]model.Appointment, error)
}

// AvailabilityStore persists consultant availability sets.
type AvailabilityStore interface {
	// ForDate and ForWeekday return ErrNotFound when no active set exists.
	ForDate(ctx context.Context, consultantID uint64, date string) (*model.AvailabilitySet, error)
	ForWeekday(ctx context.Context, consultantID uint64, weekday time.Weekday) (*model.AvailabilitySet, error)
	ListByConsultant(ctx context.Context, consultantID uint64) ([]model.AvailabilitySet, error)
	// Replace stores set as the only record for its (consultant, date) or
	// (consultant, weekday) key, overwriting any previous windows.
	Replace(ctx context.Context, set *model.AvailabilitySet) error
	// DeleteDatesBefore removes date-mode sets older than date.
	DeleteDatesBefore(ctx context.Context, date string) (int64, error)
}

// ConsultantStore resolves consultant references.
type ConsultantStore interface {
	// Resolve accepts a consultant profile id or the consultant's user id
	// and returns the canonical profile.
	Resolve(ctx context.Context, ref uint64) (*model.Consultant, error)
	GetByUserID(ctx context.Context, userID uint64) (*model.Consultant, error)
	GetByID(ctx context.Context, id uint64) (*model.Consultant, error)
}
