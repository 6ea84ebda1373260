package service

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReapResult summarises one sweep.
type ReapResult struct {
	PrunedAvailability int64
	ExpiredHolds       int
}

// Reaper expires unpaid holds and prunes past date-specific availability.
// It runs inline on slot and availability reads and, optionally, on a
// ticker.
type Reaper struct {
	deps *Deps
}

func NewReaper(d Deps) *Reaper {
	return &Reaper{deps: d.withDefaults()}
}

// Sweep performs one pass.  Both halves run even when one fails; the
// returned error joins their failures.
func (r *Reaper) Sweep(ctx context.Context) (ReapResult, error) {
	d := r.deps
	now := d.now()
	var res ReapResult

	pruned, pruneErr := d.Availability.DeleteDatesBefore(ctx, d.localDate(now))
	if pruneErr != nil {
		pruneErr = fmt.Errorf("prune availability: %w", pruneErr)
	} else {
		res.PrunedAvailability = pruned
	}

	expired, expireErr := d.Appointments.ExpireStalePending(ctx, now.Add(-d.Booking.PendingGrace), now)
	if expireErr != nil {
		expireErr = fmt.Errorf("expire stale holds: %w", expireErr)
	}
	for _, a := range expired {
		d.invalidateAppointment(ctx, a)
	}
	res.ExpiredHolds = len(expired)
	d.Metrics.AddReaped(len(expired))
	if len(expired) > 0 || res.PrunedAvailability > 0 {
		d.Logger.Info("reaper sweep", "expired_holds", len(expired), "pruned_availability", res.PrunedAvailability)
	}
	return res, errors.Join(pruneErr, expireErr)
}

// SweepQuietly runs Sweep and logs any failure.  Reads call it so a broken
// sweep never fails a listing.
func (r *Reaper) SweepQuietly(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil {
		r.deps.Logger.Warn("reaper sweep failed", "error", err)
	}
}

// Run sweeps every interval until ctx is cancelled.  A non-positive
// interval returns immediately.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.SweepQuietly(ctx)
		}
	}
}
