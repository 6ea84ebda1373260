package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/iliyamo/consult-booking/internal/queue"
)

// FileDelivery appends one human-readable line per consumed event to a log
// file.  It is the notifier's delivery record.
type FileDelivery struct {
	path string
	mu   sync.Mutex
}

// NewFileDelivery writes to dir/notifications.log.
func NewFileDelivery(dir string) *FileDelivery {
	return &FileDelivery{path: filepath.Join(dir, "notifications.log")}
}

// Handle satisfies queue.Handler.
func (d *FileDelivery) Handle(_ context.Context, ev queue.BookingEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Ensure logs directory exists
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single log line.
func FormatLine(ev queue.BookingEvent) string {
	switch ev.Type {
	case queue.QueueBookingCancelled:
		return fmt.Sprintf("[%s] Appointment cancelled | appointment_id=%d | client_id=%d | consultant_id=%d | starts_at=%s | cancelled_by=%s | refund_issued=%t | reason=%q\n",
			ev.OccurredAt, ev.AppointmentID, ev.ClientID, ev.ConsultantID, ev.StartsAt, ev.CancelledBy, ev.RefundIssued, ev.CancelReason)
	default:
		return fmt.Sprintf("[%s] Appointment confirmed | appointment_id=%d | client_id=%d | consultant_id=%d | starts_at=%s | duration=%dm | total=%d %s | room=%s\n",
			ev.OccurredAt, ev.AppointmentID, ev.ClientID, ev.ConsultantID, ev.StartsAt, ev.DurationMinutes, ev.PriceCents, ev.Currency, ev.RoomID)
	}
}
