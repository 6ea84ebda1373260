package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// AvailabilityMode says how an AvailabilitySet is keyed.
type AvailabilityMode string

const (
	AvailabilityByDate    AvailabilityMode = "date"
	AvailabilityByWeekday AvailabilityMode = "weekday"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// ClockLayout is the format of window boundaries.
const ClockLayout = "15:04"

// TimeWindow is a half-open [Start, End) range of wall-clock times in
// "HH:MM" form, interpreted in the service time zone.
type TimeWindow struct {
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

// Minutes returns the window boundaries as minutes since midnight.
func (w TimeWindow) Minutes() (start, end int, err error) {
	s, err := time.Parse(ClockLayout, w.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start time %q", w.Start)
	}
	e, err := time.Parse(ClockLayout, w.End)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end time %q", w.End)
	}
	return s.Hour()*60 + s.Minute(), e.Hour()*60 + e.Minute(), nil
}

// AvailabilitySet is the consultant's declared availability for either a
// specific calendar date or a recurring weekday.  Exactly one of Date and
// DayOfWeek is set, matching Mode.
type AvailabilitySet struct {
	ID           uint64           `json:"id"`
	ConsultantID uint64           `json:"consultant_id"`
	Mode         AvailabilityMode `json:"mode"`
	Date         *string          `json:"date,omitempty"`
	DayOfWeek    *int             `json:"day_of_week,omitempty"`
	Windows      []TimeWindow     `json:"windows"`
	IsActive     bool             `json:"is_active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ErrInvalidWindows is wrapped by ValidateWindows failures.
var ErrInvalidWindows = errors.New("invalid availability windows")

// ValidateWindows checks that every window is well formed, that start is
// before end, and that windows do not overlap.  It returns the windows
// sorted by start time.
func ValidateWindows(windows []TimeWindow) ([]TimeWindow, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: at least one window is required", ErrInvalidWindows)
	}
	type span struct {
		w          TimeWindow
		start, end int
	}
	spans := make([]span, 0, len(windows))
	for _, w := range windows {
		s, e, err := w.Minutes()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWindows, err)
		}
		if s >= e {
			return nil, fmt.Errorf("%w: %s-%s ends before it starts", ErrInvalidWindows, w.Start, w.End)
		}
		spans = append(spans, span{w: w, start: s, end: e})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := make([]TimeWindow, 0, len(spans))
	for i, sp := range spans {
		if i > 0 && sp.start < spans[i-1].end {
			return nil, fmt.Errorf("%w: %s-%s overlaps %s-%s", ErrInvalidWindows,
				sp.w.Start, sp.w.End, spans[i-1].w.Start, spans[i-1].w.End)
		}
		out = append(out, sp.w)
	}
	return out, nil
}
