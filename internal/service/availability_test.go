package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/consult-booking/internal/cache"
	"github.com/iliyamo/consult-booking/internal/model"
)

var consultantReq = model.Requester{UserID: paidConsultantUser, Role: model.RoleConsultant}

func TestSetAvailabilityReplacesAndInvalidates(t *testing.T) {
	h := newHarness(t)
	svc := NewAvailabilityService(h.deps, NewReaper(h.deps))
	ctx := context.Background()
	slotKey := cache.SlotsKey(paidConsultant, "2026-03-03")
	require.NoError(t, h.rdb.Set(ctx, slotKey, "{}", time.Minute).Err())

	set, err := svc.Set(ctx, paidConsultant, consultantReq, AvailabilityInput{
		Date:    strPtr("2026-03-03"),
		Windows: []model.TimeWindow{{Start: "14:00", End: "15:00"}, {Start: "09:00", End: "10:00"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.AvailabilityByDate, set.Mode)
	assert.Equal(t, "09:00", set.Windows[0].Start, "windows are stored sorted")
	assert.False(t, h.redis.Exists(slotKey))

	_, err = svc.Set(ctx, paidConsultantUser, consultantReq, AvailabilityInput{
		Date:    strPtr("2026-03-03"),
		Windows: []model.TimeWindow{{Start: "16:00", End: "17:00"}},
	})
	require.NoError(t, err)

	sets, err := svc.List(ctx, paidConsultant)
	require.NoError(t, err)
	require.Len(t, sets, 1, "the date record is replaced wholesale")
	assert.Equal(t, []model.TimeWindow{{Start: "16:00", End: "17:00"}}, sets[0].Windows)
}

func TestSetAvailabilityWeekday(t *testing.T) {
	h := newHarness(t)
	svc := NewAvailabilityService(h.deps, nil)

	set, err := svc.Set(context.Background(), paidConsultant, consultantReq, AvailabilityInput{
		DayOfWeek: intPtr(int(time.Friday)),
		Windows:   []model.TimeWindow{{Start: "09:00", End: "12:00"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.AvailabilityByWeekday, set.Mode)
	require.NotNil(t, set.DayOfWeek)
	assert.Equal(t, 5, *set.DayOfWeek)
}

func TestSetAvailabilityValidation(t *testing.T) {
	h := newHarness(t)
	svc := NewAvailabilityService(h.deps, nil)
	ok := []model.TimeWindow{{Start: "09:00", End: "10:00"}}

	tests := []struct {
		name string
		in   AvailabilityInput
	}{
		{"neither key", AvailabilityInput{Windows: ok}},
		{"both keys", AvailabilityInput{Date: strPtr("2026-03-03"), DayOfWeek: intPtr(2), Windows: ok}},
		{"bad date", AvailabilityInput{Date: strPtr("3 March"), Windows: ok}},
		{"past date", AvailabilityInput{Date: strPtr("2026-03-01"), Windows: ok}},
		{"bad weekday", AvailabilityInput{DayOfWeek: intPtr(7), Windows: ok}},
		{"no windows", AvailabilityInput{DayOfWeek: intPtr(2)}},
		{"reversed window", AvailabilityInput{DayOfWeek: intPtr(2), Windows: []model.TimeWindow{{Start: "10:00", End: "09:00"}}}},
		{"overlapping windows", AvailabilityInput{DayOfWeek: intPtr(2), Windows: []model.TimeWindow{
			{Start: "09:00", End: "10:30"}, {Start: "10:00", End: "11:00"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Set(context.Background(), paidConsultant, consultantReq, tt.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, h.store.sets)
}

func TestSetAvailabilityAuthorization(t *testing.T) {
	h := newHarness(t)
	svc := NewAvailabilityService(h.deps, nil)
	in := AvailabilityInput{DayOfWeek: intPtr(2), Windows: []model.TimeWindow{{Start: "09:00", End: "10:00"}}}
	ctx := context.Background()

	_, err := svc.Set(ctx, paidConsultant, model.Requester{UserID: paidConsultantUser, Role: model.RoleClient}, in)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Set(ctx, paidConsultant, model.Requester{UserID: freeConsultantUser, Role: model.RoleConsultant}, in)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Set(ctx, 4242, consultantReq, in)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAvailabilityRunsReaper(t *testing.T) {
	h := newHarness(t)
	h.store.sets = []model.AvailabilitySet{
		{ID: 1, ConsultantID: paidConsultant, Mode: model.AvailabilityByDate, Date: strPtr("2026-02-20"), IsActive: true},
	}
	svc := NewAvailabilityService(h.deps, NewReaper(h.deps))

	sets, err := svc.List(context.Background(), paidConsultant)
	require.NoError(t, err)
	assert.NotNil(t, sets)
	assert.Empty(t, sets)
}
