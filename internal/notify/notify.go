// Package notify delivers booking notifications.  The API process only
// enqueues events; the notifier process consumes them and records the
// delivery.  Actual e-mail sending is done by a separate service.
package notify

import (
	"context"
	"time"

	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/queue"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

// Notifier is the fire-and-forget notification port used after commits.
type Notifier interface {
	BookingConfirmed(ctx context.Context, a model.Appointment) error
	BookingCancelled(ctx context.Context, a model.Appointment, refundIssued bool) error
}

// EventPublisher is satisfied by *queue.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, queueName string, ev queue.BookingEvent) error
}

// QueueNotifier turns notifications into queue events.
type QueueNotifier struct {
	pub EventPublisher
	now func() time.Time
}

// NewQueueNotifier returns a Notifier publishing through pub.
func NewQueueNotifier(pub EventPublisher) *QueueNotifier {
	return &QueueNotifier{pub: pub, now: time.Now}
}

func (n *QueueNotifier) BookingConfirmed(ctx context.Context, a model.Appointment) error {
	return n.pub.Publish(ctx, queue.QueueBookingConfirmed, queue.NewBookingEvent(queue.QueueBookingConfirmed, a, false, n.now()))
}

func (n *QueueNotifier) BookingCancelled(ctx context.Context, a model.Appointment, refundIssued bool) error {
	return n.pub.Publish(ctx, queue.QueueBookingCancelled, queue.NewBookingEvent(queue.QueueBookingCancelled, a, refundIssued, n.now()))
}

// LogNotifier only logs.  It is used when no broker is reachable at start-up.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrDefault(logger)}
}

func (n *LogNotifier) BookingConfirmed(_ context.Context, a model.Appointment) error {
	n.logger.Info("booking confirmed", "appointment_id", a.ID, "client_id", a.ClientID, "consultant_id", a.ConsultantID)
	return nil
}

func (n *LogNotifier) BookingCancelled(_ context.Context, a model.Appointment, refundIssued bool) error {
	n.logger.Info("booking cancelled", "appointment_id", a.ID, "client_id", a.ClientID,
		"consultant_id", a.ConsultantID, "refund_issued", refundIssued)
	return nil
}
