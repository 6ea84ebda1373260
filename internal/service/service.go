// Package service holds the booking domain logic: slot resolution, the
// booking transaction coordinator, payment verification, the cancellation
// and refund policy, the stale-hold reaper and the cached listings.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/iliyamo/consult-booking/internal/cache"
	"github.com/iliyamo/consult-booking/internal/config"
	"github.com/iliyamo/consult-booking/internal/lock"
	"github.com/iliyamo/consult-booking/internal/metrics"
	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/notify"
	"github.com/iliyamo/consult-booking/internal/payment"
	"github.com/iliyamo/consult-booking/internal/repository"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

var tracer = otel.Tracer("consult.internal.service")

// Deps bundles the collaborators shared by every service.  Stores and
// the gateway are required.  Cache, Locks, Notifier and Metrics may be nil
// and degrade to no-ops.
type Deps struct {
	Appointments    repository.AppointmentStore
	Availability    repository.AvailabilityStore
	Consultants     repository.ConsultantStore
	Locks           *lock.Manager
	Cache           *cache.Cache
	Gateway         payment.Gateway
	Notifier        notify.Notifier
	Metrics         *metrics.BookingMetrics
	Logger          *logging.Logger
	Booking         config.BookingConfig
	CacheTTL        config.CacheConfig
	SignatureSecret string
	// Now is the clock.  Tests pin it; production leaves it nil.
	Now func() time.Time
	// Background tracks fire-and-forget work so shutdown can wait for it.
	Background *Background
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.Now == nil {
		out.Now = time.Now
	}
	out.Logger = logging.OrDefault(out.Logger)
	if out.Locks == nil {
		out.Locks = lock.NewManager(nil, out.Logger, out.Metrics)
	}
	if out.Cache == nil {
		out.Cache = cache.New(nil, "", out.Logger, out.Metrics)
	}
	if out.Notifier == nil {
		out.Notifier = notify.NewLogNotifier(out.Logger)
	}
	if out.Background == nil {
		out.Background = &Background{}
	}
	if out.Booking.Location == nil {
		out.Booking.Location = time.UTC
	}
	if out.Booking.DefaultCurrency == "" {
		out.Booking.DefaultCurrency = "USD"
	}
	if out.Booking.MaxParticipants < 1 {
		out.Booking.MaxParticipants = 1
	}
	if out.Booking.GatewayTimeout <= 0 {
		out.Booking.GatewayTimeout = 5 * time.Second
	}
	return &out
}

// gatewayContext bounds a payment call made while a transaction holds row
// locks.
func (d *Deps) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.Booking.GatewayTimeout)
}

func (d *Deps) now() time.Time { return d.Now().UTC() }

// resolveConsultant maps a profile id or user id onto the canonical
// consultant profile.
func (d *Deps) resolveConsultant(ctx context.Context, ref uint64) (*model.Consultant, error) {
	if ref == 0 {
		return nil, invalidf("consultant id is required")
	}
	c, err := d.Consultants.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("consultant %d: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("resolve consultant: %w", err)
	}
	return c, nil
}

// localDate returns the calendar date of t in the service zone.
func (d *Deps) localDate(t time.Time) string {
	return t.In(d.Booking.Location).Format(model.DateLayout)
}

// invalidateAppointment drops every cached view an appointment change can
// make stale: the slot listing of each day the session touches, both
// parties' listings and the consultant's stats.  Generations are bumped
// first so a fill that loaded before the change cannot be written back.
func (d *Deps) invalidateAppointment(ctx context.Context, a model.Appointment) {
	d.Cache.Bump(ctx,
		cache.SlotsScope(a.ConsultantID),
		cache.ClientAppointmentsScope(a.ClientID),
		cache.ConsultantAppointmentsScope(a.ConsultantID),
	)
	keys := []string{cache.ConsultantStatsKey(a.ConsultantID)}
	for _, date := range d.localDatesTouched(a.StartsAt, a.EndsAt()) {
		keys = append(keys, cache.SlotsKey(a.ConsultantID, date))
	}
	d.Cache.Delete(ctx, keys...)
	d.Cache.DeletePattern(ctx, cache.ClientAppointmentsPattern(a.ClientID))
	d.Cache.DeletePattern(ctx, cache.ConsultantAppointmentsPattern(a.ConsultantID))
}

// localDatesTouched lists the service-zone dates overlapped by
// [start, end).  The start date is always included.
func (d *Deps) localDatesTouched(start, end time.Time) []string {
	loc := d.Booking.Location
	y, m, day := start.In(loc).Date()
	midnight := time.Date(y, m, day, 0, 0, 0, 0, loc)
	dates := []string{midnight.Format(model.DateLayout)}
	for next := midnight.AddDate(0, 0, 1); next.Before(end); next = next.AddDate(0, 0, 1) {
		dates = append(dates, next.Format(model.DateLayout))
	}
	return dates
}

// Background runs fire-and-forget tasks and lets shutdown wait for them.
type Background struct {
	wg sync.WaitGroup
}

// Go runs fn in a new goroutine.
func (b *Background) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Wait blocks until every task started with Go has returned.
func (b *Background) Wait() { b.wg.Wait() }
