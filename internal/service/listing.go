package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/consult-booking/internal/cache"
	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/repository"
)

// ListingService serves cached appointment listings.
type ListingService struct {
	deps *Deps
}

func NewListingService(d Deps) *ListingService {
	return &ListingService{deps: d.withDefaults()}
}

func parseStatusFilter(status string) (model.BookingStatus, error) {
	switch model.BookingStatus(status) {
	case "", model.BookingScheduled, model.BookingCancelled, model.BookingCompleted:
		return model.BookingStatus(status), nil
	}
	return "", invalidf("unknown status %q", status)
}

// ForClient lists the appointments booked by clientID.
func (s *ListingService) ForClient(ctx context.Context, clientID uint64, status string) ([]model.Appointment, error) {
	st, err := parseStatusFilter(status)
	if err != nil {
		return nil, err
	}
	key := cache.ClientAppointmentsKey(clientID, string(st))
	return s.readThrough(ctx, key, cache.ClientAppointmentsScope(clientID), func() ([]model.Appointment, error) {
		return s.deps.Appointments.ListByClient(ctx, clientID, st)
	})
}

// ForConsultant lists the appointments of the consultant authenticated as
// userID.
func (s *ListingService) ForConsultant(ctx context.Context, userID uint64, status string) ([]model.Appointment, error) {
	st, err := parseStatusFilter(status)
	if err != nil {
		return nil, err
	}
	c, err := s.deps.Consultants.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("consultant profile: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("resolve consultant: %w", err)
	}
	key := cache.ConsultantAppointmentsKey(c.ID, string(st))
	return s.readThrough(ctx, key, cache.ConsultantAppointmentsScope(c.ID), func() ([]model.Appointment, error) {
		return s.deps.Appointments.ListByConsultant(ctx, c.ID, st)
	})
}

// Get returns one appointment to the client, the consultant or a listed
// participant.
func (s *ListingService) Get(ctx context.Context, id uint64, who model.Requester) (*model.Appointment, error) {
	d := s.deps
	a, err := d.Appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if a.HasParticipant(who.UserID) {
		return a, nil
	}
	if who.Role == model.RoleConsultant {
		c, err := d.Consultants.GetByUserID(ctx, who.UserID)
		if err == nil && c.ID == a.ConsultantID {
			return a, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("resolve consultant: %w", err)
		}
	}
	return nil, ErrForbidden
}

func (s *ListingService) readThrough(ctx context.Context, key, scope string, load func() ([]model.Appointment, error)) ([]model.Appointment, error) {
	d := s.deps
	var out []model.Appointment
	if d.Cache.GetJSON(ctx, key, &out) {
		return out, nil
	}
	gen := d.Cache.Generation(ctx, scope)
	out, err := load()
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if out == nil {
		out = []model.Appointment{}
	}
	d.Cache.SetJSONAt(ctx, key, out, d.CacheTTL.ListingsTTL, scope, gen)
	return out, nil
}
