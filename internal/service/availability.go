package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/consult-booking/internal/cache"
	"github.com/iliyamo/consult-booking/internal/model"
)

// AvailabilityInput declares the windows of one date or one weekday.
// Exactly one of Date and DayOfWeek must be set.
type AvailabilityInput struct {
	Date      *string
	DayOfWeek *int
	Windows   []model.TimeWindow
}

// AvailabilityService manages consultant availability.
type AvailabilityService struct {
	deps   *Deps
	reaper *Reaper
}

func NewAvailabilityService(d Deps, reaper *Reaper) *AvailabilityService {
	return &AvailabilityService{deps: d.withDefaults(), reaper: reaper}
}

// Set replaces the availability of a date or weekday.  Only the
// consultant themself may change it.
func (s *AvailabilityService) Set(ctx context.Context, consultantRef uint64, who model.Requester, in AvailabilityInput) (*model.AvailabilitySet, error) {
	d := s.deps
	if who.Role != model.RoleConsultant {
		return nil, ErrForbidden
	}
	consultant, err := d.resolveConsultant(ctx, consultantRef)
	if err != nil {
		return nil, err
	}
	if consultant.UserID != who.UserID {
		return nil, ErrForbidden
	}

	set := &model.AvailabilitySet{ConsultantID: consultant.ID, IsActive: true}
	switch {
	case (in.Date == nil) == (in.DayOfWeek == nil):
		return nil, invalidf("exactly one of date and day_of_week is required")
	case in.Date != nil:
		date := strings.TrimSpace(*in.Date)
		loc := d.Booking.Location
		day, err := time.ParseInLocation(model.DateLayout, date, loc)
		if err != nil {
			return nil, invalidf("date must be formatted as YYYY-MM-DD")
		}
		if date < d.localDate(d.now()) {
			return nil, invalidf("cannot set availability for past date %s", day.Format(model.DateLayout))
		}
		set.Mode = model.AvailabilityByDate
		set.Date = &date
	default:
		dow := *in.DayOfWeek
		if dow < 0 || dow > 6 {
			return nil, invalidf("day_of_week must be between 0 (Sunday) and 6 (Saturday)")
		}
		set.Mode = model.AvailabilityByWeekday
		set.DayOfWeek = &dow
	}

	windows, err := model.ValidateWindows(in.Windows)
	if err != nil {
		if errors.Is(err, model.ErrInvalidWindows) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	set.Windows = windows

	if err := d.Availability.Replace(ctx, set); err != nil {
		return nil, fmt.Errorf("store availability: %w", err)
	}
	d.Cache.Bump(ctx, cache.SlotsScope(consultant.ID))
	d.Cache.DeletePattern(ctx, cache.SlotsPattern(consultant.ID))
	return set, nil
}

// List returns the active availability of a consultant.
func (s *AvailabilityService) List(ctx context.Context, consultantRef uint64) ([]model.AvailabilitySet, error) {
	d := s.deps
	consultant, err := d.resolveConsultant(ctx, consultantRef)
	if err != nil {
		return nil, err
	}
	if s.reaper != nil {
		s.reaper.SweepQuietly(ctx)
	}
	sets, err := d.Availability.ListByConsultant(ctx, consultant.ID)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	if sets == nil {
		sets = []model.AvailabilitySet{}
	}
	return sets, nil
}
