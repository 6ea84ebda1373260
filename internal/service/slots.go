package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/consult-booking/internal/cache"
	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/repository"
)

// SlotStatus tags a slot in a listing.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotPast      SlotStatus = "past"
)

// Slot is one bookable window of a day.
type Slot struct {
	Time            string     `json:"time"`
	EndTime         string     `json:"end_time"`
	DurationMinutes int        `json:"duration"`
	Status          SlotStatus `json:"status"`
}

// SlotListing is the result of a slot lookup.  Slots holds the start
// times of the available slots, AllSlots every slot in window order.
type SlotListing struct {
	ConsultantID uint64   `json:"consultant_id"`
	Date         string   `json:"date"`
	Slots        []string `json:"slots"`
	AllSlots     []Slot   `json:"all_slots"`
}

// ResolveSlots overlays booked appointments onto the windows of day.
// day is any instant on the target calendar date; loc is the zone the
// windows are expressed in.  A slot is past when it starts at or before
// now or inside the minimum lead time, booked when it overlaps any of the
// given appointments, available otherwise.  Malformed windows are skipped.
func ResolveSlots(windows []model.TimeWindow, day time.Time, loc *time.Location, booked []model.Appointment, now time.Time, minLead time.Duration) ([]string, []Slot) {
	available := []string{}
	all := []Slot{}
	y, m, d := day.In(loc).Date()
	earliest := now.Add(minLead)

	for _, w := range windows {
		s, e, err := w.Minutes()
		if err != nil || s >= e {
			continue
		}
		start := time.Date(y, m, d, s/60, s%60, 0, 0, loc)
		end := time.Date(y, m, d, e/60, e%60, 0, 0, loc)
		slot := Slot{Time: w.Start, EndTime: w.End, DurationMinutes: e - s}

		switch {
		case !start.After(now) || start.Before(earliest):
			slot.Status = SlotPast
		case overlapsAny(booked, start, end):
			slot.Status = SlotBooked
		default:
			slot.Status = SlotAvailable
			available = append(available, w.Start)
		}
		all = append(all, slot)
	}
	return available, all
}

func overlapsAny(appts []model.Appointment, start, end time.Time) bool {
	for _, a := range appts {
		if a.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// SlotService serves slot listings through the read cache.
type SlotService struct {
	deps   *Deps
	reaper *Reaper
}

func NewSlotService(d Deps, reaper *Reaper) *SlotService {
	return &SlotService{deps: d.withDefaults(), reaper: reaper}
}

// GetAvailableSlots lists the slots of a consultant on date (YYYY-MM-DD in
// the service zone).  A consultant without availability for the date gets
// empty lists.
func (s *SlotService) GetAvailableSlots(ctx context.Context, consultantRef uint64, date string) (*SlotListing, error) {
	d := s.deps
	loc := d.Booking.Location
	day, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		return nil, invalidf("date must be formatted as YYYY-MM-DD")
	}
	now := d.now()
	ty, tm, td := now.In(loc).Date()
	if day.Before(time.Date(ty, tm, td, 0, 0, 0, 0, loc)) {
		return nil, invalidf("date %s is in the past", date)
	}

	consultant, err := d.resolveConsultant(ctx, consultantRef)
	if err != nil {
		return nil, err
	}
	if s.reaper != nil {
		s.reaper.SweepQuietly(ctx)
	}

	key := cache.SlotsKey(consultant.ID, date)
	var cached SlotListing
	if d.Cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}
	scope := cache.SlotsScope(consultant.ID)
	gen := d.Cache.Generation(ctx, scope)

	listing := &SlotListing{ConsultantID: consultant.ID, Date: date, Slots: []string{}, AllSlots: []Slot{}}
	set, err := s.availabilityFor(ctx, consultant.ID, date, day.Weekday())
	if err != nil {
		return nil, err
	}
	if set != nil {
		nextDay := day.AddDate(0, 0, 1)
		booked, err := d.Appointments.BookedBetween(ctx, consultant.ID, day.UTC(), nextDay.UTC())
		if err != nil {
			return nil, fmt.Errorf("load booked appointments: %w", err)
		}
		listing.Slots, listing.AllSlots = ResolveSlots(set.Windows, day, loc, booked, now, d.Booking.MinLead)
	}

	d.Cache.SetJSONAt(ctx, key, listing, d.CacheTTL.SlotsTTL, scope, gen)
	return listing, nil
}

// availabilityFor prefers the date-specific set over the weekday one.  It
// returns nil when neither exists.
func (s *SlotService) availabilityFor(ctx context.Context, consultantID uint64, date string, wd time.Weekday) (*model.AvailabilitySet, error) {
	set, err := s.deps.Availability.ForDate(ctx, consultantID, date)
	if err == nil {
		return set, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load date availability: %w", err)
	}
	set, err = s.deps.Availability.ForWeekday(ctx, consultantID, wd)
	if err == nil {
		return set, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load weekday availability: %w", err)
	}
	return nil, nil
}
