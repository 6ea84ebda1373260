package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/consult-booking/internal/cache"
	"github.com/iliyamo/consult-booking/internal/config"
	"github.com/iliyamo/consult-booking/internal/lock"
	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/payment"
	"github.com/iliyamo/consult-booking/internal/repository"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

// memStore is the shared state behind the in-memory stores.  The
// appointment, availability and consultant views each implement one
// repository interface.  Transactions are serialised and rolled back by
// snapshot, and Create enforces the same active-slot uniqueness as the
// MySQL schema.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	now         func() time.Time
	appts       map[uint64]model.Appointment
	nextID      uint64
	sets        []model.AvailabilitySet
	consultants []model.Consultant
	// hideActive makes ActiveInWindow return nothing so the uniqueness
	// constraint is the only guard left.
	hideActive bool
	// afterRead, when set, runs once the non-transactional reads
	// (BookedBetween, ListByClient) have taken their snapshot and before
	// they return it.
	afterRead func(op string)
}

type (
	appointmentFake  struct{ *memStore }
	availabilityFake struct{ *memStore }
	consultantFake   struct{ *memStore }
)

func newMemStore(now func() time.Time) *memStore {
	return &memStore{now: now, appts: map[uint64]model.Appointment{}}
}

func (s *memStore) put(a model.Appointment) model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a.ID = s.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.UpdatedAt = a.CreatedAt
	s.appts[a.ID] = a
	return a
}

func (s *memStore) get(id uint64) model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appts[id]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appts)
}

func (s appointmentFake) InTx(ctx context.Context, fn func(tx repository.AppointmentTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[uint64]model.Appointment, len(s.appts))
	for k, v := range s.appts {
		snapshot[k] = v
	}
	nextID := s.nextID
	s.mu.Unlock()

	if err := fn(memTx{s.memStore}); err != nil {
		s.mu.Lock()
		s.appts, s.nextID = snapshot, nextID
		s.mu.Unlock()
		return err
	}
	return nil
}

type memTx struct{ s *memStore }

func (t memTx) ActiveInWindow(_ context.Context, consultantID uint64, from, to time.Time) ([]model.Appointment, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.hideActive {
		return nil, nil
	}
	var out []model.Appointment
	for _, a := range t.s.appts {
		if a.ConsultantID == consultantID && a.OccupiesSlot() &&
			!a.StartsAt.Before(from) && !a.StartsAt.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t memTx) Create(_ context.Context, a *model.Appointment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, e := range t.s.appts {
		if e.ConsultantID == a.ConsultantID && e.OccupiesSlot() && e.StartsAt.Equal(a.StartsAt) {
			return repository.ErrDuplicateSlot
		}
	}
	t.s.nextID++
	a.ID = t.s.nextID
	a.CreatedAt = t.s.now()
	a.UpdatedAt = a.CreatedAt
	t.s.appts[a.ID] = *a
	return nil
}

func (t memTx) GetForUpdate(_ context.Context, id uint64) (*model.Appointment, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.appts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (t memTx) Update(_ context.Context, a *model.Appointment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.appts[a.ID]; !ok {
		return repository.ErrNotFound
	}
	a.UpdatedAt = t.s.now()
	t.s.appts[a.ID] = *a
	return nil
}

func (s appointmentFake) GetByID(_ context.Context, id uint64) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s appointmentFake) BookedBetween(_ context.Context, consultantID uint64, from, to time.Time) ([]model.Appointment, error) {
	out := s.filter(func(a model.Appointment) bool {
		return a.ConsultantID == consultantID && a.Status == model.BookingScheduled &&
			a.PaymentStatus == model.PaymentPaid && a.Overlaps(from, to)
	})
	if s.afterRead != nil {
		s.afterRead("BookedBetween")
	}
	return out, nil
}

func (s appointmentFake) ListByClient(_ context.Context, clientID uint64, status model.BookingStatus) ([]model.Appointment, error) {
	out := s.filter(func(a model.Appointment) bool {
		return a.ClientID == clientID && (status == "" || a.Status == status)
	})
	if s.afterRead != nil {
		s.afterRead("ListByClient")
	}
	return out, nil
}

func (s appointmentFake) ListByConsultant(_ context.Context, consultantID uint64, status model.BookingStatus) ([]model.Appointment, error) {
	return s.filter(func(a model.Appointment) bool {
		return a.ConsultantID == consultantID && (status == "" || a.Status == status)
	}), nil
}

func (s appointmentFake) ExpireStalePending(_ context.Context, createdBefore, now time.Time) ([]model.Appointment, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for id, a := range s.appts {
		if a.Status == model.BookingScheduled && a.PaymentStatus == model.PaymentPending && !a.CreatedAt.After(createdBefore) {
			by := model.CancelledBySystem
			reason := repository.ExpiredHoldReason
			at := now
			a.Status = model.BookingCancelled
			a.PaymentStatus = model.PaymentFailed
			a.CancelledBy, a.CancelledAt, a.CancelReason = &by, &at, &reason
			s.appts[id] = a
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) filter(keep func(model.Appointment) bool) []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

func (s availabilityFake) ForDate(_ context.Context, consultantID uint64, date string) (*model.AvailabilitySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.sets {
		if set.ConsultantID == consultantID && set.IsActive && set.Date != nil && *set.Date == date {
			set := set
			return &set, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s availabilityFake) ForWeekday(_ context.Context, consultantID uint64, wd time.Weekday) (*model.AvailabilitySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.sets {
		if set.ConsultantID == consultantID && set.IsActive && set.DayOfWeek != nil && *set.DayOfWeek == int(wd) {
			set := set
			return &set, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s availabilityFake) ListByConsultant(_ context.Context, consultantID uint64) ([]model.AvailabilitySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AvailabilitySet
	for _, set := range s.sets {
		if set.ConsultantID == consultantID && set.IsActive {
			out = append(out, set)
		}
	}
	return out, nil
}

func (s availabilityFake) Replace(_ context.Context, set *model.AvailabilitySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, old := range s.sets {
		if old.ConsultantID != set.ConsultantID {
			continue
		}
		sameDate := set.Date != nil && old.Date != nil && *old.Date == *set.Date
		sameDay := set.DayOfWeek != nil && old.DayOfWeek != nil && *old.DayOfWeek == *set.DayOfWeek
		if sameDate || sameDay {
			set.ID = old.ID
			s.sets[i] = *set
			return nil
		}
	}
	set.ID = uint64(len(s.sets) + 1)
	s.sets = append(s.sets, *set)
	return nil
}

func (s availabilityFake) DeleteDatesBefore(_ context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sets[:0]
	var n int64
	for _, set := range s.sets {
		if set.Date != nil && *set.Date < date {
			n++
			continue
		}
		kept = append(kept, set)
	}
	s.sets = kept
	return n, nil
}

func (s consultantFake) Resolve(_ context.Context, ref uint64) (*model.Consultant, error) {
	for _, c := range s.consultants {
		if c.ID == ref {
			c := c
			return &c, nil
		}
	}
	for _, c := range s.consultants {
		if c.UserID == ref {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s consultantFake) GetByUserID(_ context.Context, userID uint64) (*model.Consultant, error) {
	for _, c := range s.consultants {
		if c.UserID == userID {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s consultantFake) GetByID(_ context.Context, id uint64) (*model.Consultant, error) {
	for _, c := range s.consultants {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

type cancelNote struct {
	id           uint64
	refundIssued bool
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []uint64
	cancelled []cancelNote
}

func (n *recordingNotifier) BookingConfirmed(_ context.Context, a model.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, a.ID)
	return nil
}

func (n *recordingNotifier) BookingCancelled(_ context.Context, a model.Appointment, refundIssued bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, cancelNote{id: a.ID, refundIssued: refundIssued})
	return nil
}

func (n *recordingNotifier) snapshot() ([]uint64, []cancelNote) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint64(nil), n.confirmed...), append([]cancelNote(nil), n.cancelled...)
}

// Monday 2026-03-02 10:00 UTC.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

const (
	paidConsultant     uint64 = 7
	paidConsultantUser uint64 = 70
	freeConsultant     uint64 = 8
	freeConsultantUser uint64 = 80
	inactiveConsultant uint64 = 9
	clientA            uint64 = 100
	clientB            uint64 = 101
	testSecret                = "sig-secret"
)

type harness struct {
	deps     Deps
	store    *memStore
	gateway  *payment.Sandbox
	notifier *recordingNotifier
	redis    *miniredis.Miniredis
	rdb      *redis.Client
	clock    *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := testNow
	now := func() time.Time { return clock }
	store := newMemStore(now)
	store.consultants = []model.Consultant{
		{ID: paidConsultant, UserID: paidConsultantUser, DisplayName: "Dr. Paid", IsActive: true, HourlyRateCents: 6000, Currency: "USD"},
		{ID: freeConsultant, UserID: freeConsultantUser, DisplayName: "Free Advice", IsActive: true},
		{ID: inactiveConsultant, UserID: 90, DisplayName: "On Leave", IsActive: false, HourlyRateCents: 6000},
	}
	gw := payment.NewSandbox()
	rec := &recordingNotifier{}
	logger := logging.Discard()

	h := &harness{
		store:    store,
		gateway:  gw,
		notifier: rec,
		redis:    mr,
		rdb:      rdb,
		clock:    &clock,
	}
	h.deps = Deps{
		Appointments: appointmentFake{store},
		Availability: availabilityFake{store},
		Consultants:  consultantFake{store},
		Locks:        lock.NewManager(rdb, logger, nil),
		Cache:        cache.New(rdb, "", logger, nil),
		Gateway:      gw,
		Notifier:     rec,
		Logger:       logger,
		Booking: config.BookingConfig{
			LockTTL:         10 * time.Second,
			MinLead:         time.Hour,
			RefundCutoff:    12 * time.Hour,
			PendingGrace:    15 * time.Minute,
			ConflictBand:    24 * time.Hour,
			DefaultCurrency: "USD",
			MaxParticipants: 1,
			MaxDuration:     8 * time.Hour,
			Location:        time.UTC,
		},
		CacheTTL:        config.CacheConfig{Enabled: true, SlotsTTL: 5 * time.Minute, ListingsTTL: 10 * time.Minute},
		SignatureSecret: testSecret,
		Now:             now,
		Background:      &Background{},
	}
	return h
}

// paidAppointment seeds a scheduled, paid appointment with a payment id.
func (h *harness) paidAppointment(start time.Time) model.Appointment {
	order, pid := "order_seed", "pay_"+start.Format("150405")
	return h.store.put(model.Appointment{
		ConsultantID:    paidConsultant,
		ClientID:        clientA,
		StartsAt:        start,
		DurationMinutes: 60,
		PriceCents:      6000,
		Currency:        "USD",
		PaymentStatus:   model.PaymentPaid,
		Status:          model.BookingScheduled,
		PaymentOrderID:  &order,
		PaymentID:       &pid,
		RoomID:          "room-" + pid,
		Participants:    []uint64{clientA},
		MaxParticipants: 1,
	})
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

// pauseRead parks the first read named op after it has taken its
// snapshot, until release is called.  entered is closed once it is parked.
func (s *memStore) pauseRead(op string) (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	gate := make(chan struct{})
	var parked atomic.Bool
	s.afterRead = func(got string) {
		if got != op || !parked.CompareAndSwap(false, true) {
			return
		}
		close(in)
		<-gate
	}
	var releaseOnce sync.Once
	return in, func() { releaseOnce.Do(func() { close(gate) }) }
}
