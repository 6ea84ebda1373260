// Package queue defines the booking events exchanged over RabbitMQ together
// with the publisher used by the API and the consumer run by the notifier.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/consult-booking/internal/model"
)

// Queue names.  Each event type has its own durable queue so the notifier
// can scale them independently.
const (
	QueueBookingConfirmed = "booking.confirmed"
	QueueBookingCancelled = "booking.cancelled"
)

// BookingEvent is published after a booking is confirmed or cancelled.
// It contains enough information for downstream consumers to notify the
// participants without querying the primary database.
type BookingEvent struct {
	Type            string `json:"type"`
	AppointmentID   uint64 `json:"appointment_id"`
	ConsultantID    uint64 `json:"consultant_id"`
	ClientID        uint64 `json:"client_id"`
	StartsAt        string `json:"starts_at"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency"`
	PaymentStatus   string `json:"payment_status"`
	Status          string `json:"status"`
	RoomID          string `json:"room_id"`
	CancelledBy     string `json:"cancelled_by,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	RefundIssued    bool   `json:"refund_issued,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}

// NewBookingEvent builds the event of the given type (one of the queue
// names) for a.
func NewBookingEvent(eventType string, a model.Appointment, refundIssued bool, at time.Time) BookingEvent {
	ev := BookingEvent{
		Type:            eventType,
		AppointmentID:   a.ID,
		ConsultantID:    a.ConsultantID,
		ClientID:        a.ClientID,
		StartsAt:        a.StartsAt.UTC().Format(time.RFC3339),
		DurationMinutes: a.DurationMinutes,
		PriceCents:      a.PriceCents,
		Currency:        a.Currency,
		PaymentStatus:   string(a.PaymentStatus),
		Status:          string(a.Status),
		RoomID:          a.RoomID,
		RefundIssued:    refundIssued,
		OccurredAt:      at.UTC().Format(time.RFC3339),
	}
	if a.CancelledBy != nil {
		ev.CancelledBy = string(*a.CancelledBy)
	}
	if a.CancelReason != nil {
		ev.CancelReason = *a.CancelReason
	}
	return ev
}

// DecodeBookingEvent parses a message body.
func DecodeBookingEvent(body []byte) (BookingEvent, error) {
	var ev BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.AppointmentID == 0 {
		return ev, fmt.Errorf("event without appointment id")
	}
	return ev, nil
}
