package model

// Consultant is the slice of a consultant profile this service needs:
// identity, whether bookings are accepted, and pricing.  UserID is the
// account id the consultant authenticates with.  Either id may be used to
// refer to the consultant from outside, but only ID is ever stored on
// appointments or used in lock and cache keys.
type Consultant struct {
	ID              uint64 `json:"id"`
	UserID          uint64 `json:"user_id"`
	DisplayName     string `json:"display_name"`
	IsActive        bool   `json:"is_active"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
	Currency        string `json:"currency"`
}

// PriceFor returns the price of a session of the given length, rounded
// down to the cent.
func (c Consultant) PriceFor(durationMinutes int) int64 {
	if c.HourlyRateCents <= 0 || durationMinutes <= 0 {
		return 0
	}
	return c.HourlyRateCents * int64(durationMinutes) / 60
}
