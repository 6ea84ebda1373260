package service

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy returned by the services.  Handlers map these onto HTTP
// statuses; nothing below the service layer should leak to callers.
var (
	// ErrInvalidInput wraps every validation failure.  The wrapped message
	// is safe to show to the caller.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned for unknown consultants and appointments.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller is not a party to the
	// resource.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyCancelled rejects a second cancellation.
	ErrAlreadyCancelled = errors.New("appointment already cancelled")
	// ErrPaymentVerification is returned when a checkout signature does not
	// match.  The appointment has been marked failed when this is returned.
	ErrPaymentVerification = errors.New("payment verification failed")
	// ErrUpstream wraps payment gateway failures.
	ErrUpstream = errors.New("upstream service failure")
)

// ConflictError reports that the requested slot or state transition
// collides with another booking.  Retryable conflicts are transient
// (another request is mid-flight); non-retryable ones are final for the
// requested slot.
type ConflictError struct {
	Retryable       bool
	Reason          string
	ConflictingTime *time.Time
}

func (e *ConflictError) Error() string {
	if e.ConflictingTime != nil {
		return fmt.Sprintf("conflict: %s (existing booking at %s)", e.Reason, e.ConflictingTime.UTC().Format(time.RFC3339))
	}
	return "conflict: " + e.Reason
}

// IsRetryable reports whether err is a conflict the caller may retry.
func IsRetryable(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Retryable
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
