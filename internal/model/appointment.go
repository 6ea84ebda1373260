package model

import "time"

// PaymentStatus tracks the money side of an appointment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// BookingStatus tracks the lifecycle of the session itself.
type BookingStatus string

const (
	BookingScheduled BookingStatus = "scheduled"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// CancelledBy records which party ended an appointment.
type CancelledBy string

const (
	CancelledByClient     CancelledBy = "client"
	CancelledByConsultant CancelledBy = "consultant"
	CancelledBySystem     CancelledBy = "system"
)

// Appointment is a booked session between a client and a consultant.
//
// Fields:
//
//	ID              – primary key identifier.
//	ConsultantID    – canonical consultant profile id (never a user-id alias).
//	ClientID        – user who booked the session.
//	StartsAt        – session start, stored in UTC with minute precision.
//	DurationMinutes – session length.
//	PriceCents      – amount charged; zero for free sessions.
//	PaymentStatus   – pending, paid, failed or refunded.
//	Status          – scheduled, cancelled or completed.
//	PaymentOrderID  – gateway order created for paid sessions.
//	PaymentID       – gateway payment id once verified.
//	RefundID        – gateway refund id when a refund was issued.
//	RoomID          – unique session room identifier.
//	Participants    – user ids allowed into the room.
//	CancelledBy     – who cancelled, when cancelled.
type Appointment struct {
	ID              uint64        `json:"id"`
	ConsultantID    uint64        `json:"consultant_id"`
	ClientID        uint64        `json:"client_id"`
	StartsAt        time.Time     `json:"starts_at"`
	DurationMinutes int           `json:"duration_minutes"`
	PriceCents      int64         `json:"price_cents"`
	Currency        string        `json:"currency"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	Status          BookingStatus `json:"status"`
	PaymentOrderID  *string       `json:"payment_order_id,omitempty"`
	PaymentID       *string       `json:"payment_id,omitempty"`
	RefundID        *string       `json:"refund_id,omitempty"`
	RoomID          string        `json:"room_id"`
	Participants    []uint64      `json:"participants"`
	MaxParticipants int           `json:"max_participants"`
	CancelledBy     *CancelledBy  `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason    *string       `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// EndsAt returns the end of the session.
func (a Appointment) EndsAt() time.Time {
	return a.StartsAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps reports whether [start, end) intersects the appointment.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndsAt()) && end.After(a.StartsAt)
}

// OccupiesSlot reports whether the appointment still blocks its slot for
// new bookings: scheduled and either paid or awaiting payment.
func (a Appointment) OccupiesSlot() bool {
	return a.Status == BookingScheduled &&
		(a.PaymentStatus == PaymentPaid || a.PaymentStatus == PaymentPending)
}

// HasParticipant reports whether userID may see the appointment as an
// attendee (the client or anyone listed in Participants).
func (a Appointment) HasParticipant(userID uint64) bool {
	if a.ClientID == userID {
		return true
	}
	for _, p := range a.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
