package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2025, 12, 1, 10, 0, 0, 0, london)

func validRequest(date, slot string) *CreateBookingRequest {
	return &CreateBookingRequest{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Phone:    "+44 7700 900123",
		Service:  "Haircut",
		Date:     date,
		Time:     slot,
		SMSOptIn: true,
	}
}

func TestListAvailabilityReturnsOrderedGrid(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)

	slots, err := svc.ListAvailability(context.Background(), "2025-12-10")
	require.NoError(t, err)
	require.Len(t, slots, 8)

	seen := map[string]bool{}
	for i, s := range slots {
		assert.Equal(t, entity.FormatSlot(9+i), s.Time)
		assert.True(t, s.Available)
		assert.False(t, seen[s.Time], "duplicate slot %s", s.Time)
		seen[s.Time] = true
	}
}

func TestListAvailabilityRejectsBadDate(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)

	_, err := svc.ListAvailability(context.Background(), "15/12/2025")
	require.ErrorIs(t, err, entity.ErrValidation)

	var verr *entity.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.HasCode(entity.CodeInvalidDate))
}

func TestBookedSlotIsUnavailableAndCannotBeRebooked(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)
	ctx := context.Background()

	booking, err := svc.CreateBooking(ctx, validRequest("2025-12-15", "14:00"))
	require.NoError(t, err)
	assert.Equal(t, "+447700900123", booking.Phone)
	assert.Equal(t, entity.BookingStatusConfirmed, booking.Status)

	slots, err := svc.ListAvailability(ctx, "2025-12-15")
	require.NoError(t, err)
	for _, s := range slots {
		if s.Time == "14:00" {
			assert.False(t, s.Available, "14:00 should be booked")
		} else {
			assert.True(t, s.Available, "%s should be free", s.Time)
		}
	}

	_, err = svc.CreateBooking(ctx, validRequest("2025-12-15", "14:00"))
	assert.ErrorIs(t, err, entity.ErrSlotTaken)

	listed, err := svc.ListBookingsByDate(ctx, "2025-12-15")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, booking.ID, listed[0].ID)
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)

	tests := []struct {
		name   string
		mutate func(r *CreateBookingRequest)
		field  string
		code   string
	}{
		{"missing name", func(r *CreateBookingRequest) { r.Name = "  " }, "name", entity.CodeMissingField},
		{"bad email", func(r *CreateBookingRequest) { r.Email = "ada@" }, "email", entity.CodeInvalidEmail},
		{"bad phone", func(r *CreateBookingRequest) { r.Phone = "12ab" }, "phone", entity.CodeInvalidPhone},
		{"missing service", func(r *CreateBookingRequest) { r.Service = "" }, "service", entity.CodeMissingField},
		{"bad date", func(r *CreateBookingRequest) { r.Date = "2025-13-01" }, "date", entity.CodeInvalidDate},
		{"bad slot format", func(r *CreateBookingRequest) { r.Time = "14:30" }, "time", entity.CodeInvalidSlotFormat},
		{"before opening", func(r *CreateBookingRequest) { r.Time = "08:00" }, "time", entity.CodeSlotOutOfRange},
		{"at closing", func(r *CreateBookingRequest) { r.Time = "17:00" }, "time", entity.CodeSlotOutOfRange},
		{"in the past", func(r *CreateBookingRequest) { r.Date = "2025-12-01"; r.Time = "09:00" }, "time", entity.CodeSlotInPast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest("2025-12-15", "14:00")
			tt.mutate(req)

			_, err := svc.CreateBooking(context.Background(), req)
			require.ErrorIs(t, err, entity.ErrValidation)

			var verr *entity.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
			assert.Equal(t, tt.code, verr.Fields[0].Code)
		})
	}
}

func TestCreateBookingReportsEveryInvalidField(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)

	_, err := svc.CreateBooking(context.Background(), &CreateBookingRequest{})

	var verr *entity.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 6)
}

func TestConcurrentCreateSameSlotHasOneWinner(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateBooking(context.Background(), validRequest("2025-12-15", "10:00"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, entity.ErrSlotTaken):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	listed, err := svc.ListBookingsByDate(context.Background(), "2025-12-15")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCreateBookingReclaimsAbandonedClaim(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)
	ctx := context.Background()

	// a creation that claimed the slot and never wrote its record
	ok, err := env.bookings.ClaimSlot(ctx, "2025-12-15", "11:00", database.NewSlotClaim("ghost", monday.Add(-time.Hour)))
	require.NoError(t, err)
	require.True(t, ok)

	booking, err := svc.CreateBooking(ctx, validRequest("2025-12-15", "11:00"))
	require.NoError(t, err)

	claim, err := env.bookings.GetSlotClaim(ctx, "2025-12-15", "11:00")
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, booking.ID, claim.BookingID)
}

func TestCreateBookingRespectsInFlightClaim(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)
	ctx := context.Background()

	ok, err := env.bookings.ClaimSlot(ctx, "2025-12-15", "11:00", database.NewSlotClaim("in-flight", monday))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.CreateBooking(ctx, validRequest("2025-12-15", "11:00"))
	assert.ErrorIs(t, err, entity.ErrSlotTaken)
}

func TestCancelFreesSlot(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)
	ctx := context.Background()

	booking, err := svc.CreateBooking(ctx, validRequest("2025-12-15", "15:00"))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, booking.ID)
	assert.ErrorIs(t, err, entity.ErrInvalidStatusTransition)

	_, err = svc.CreateBooking(ctx, validRequest("2025-12-15", "15:00"))
	assert.NoError(t, err)
}

func TestCancelledHolderClaimIsStale(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)
	ctx := context.Background()

	b := env.seedBooking(t, "old", "2025-12-15", "12:00", false)
	b.Status = entity.BookingStatusCancelled
	require.NoError(t, env.bookings.Save(ctx, b))

	slots, err := svc.ListAvailability(ctx, "2025-12-15")
	require.NoError(t, err)
	assert.True(t, slots[3].Available)

	_, err = svc.CreateBooking(ctx, validRequest("2025-12-15", "12:00"))
	assert.NoError(t, err)
}

func TestRescheduleLinksBookings(t *testing.T) {
	env := newTestEnv(t, monday)
	notifier := &recordingNotifier{}
	svc := env.slotService(notifier)
	ctx := context.Background()

	original, err := svc.CreateBooking(ctx, validRequest("2025-12-15", "09:00"))
	require.NoError(t, err)

	next, err := svc.Reschedule(ctx, original.ID, &RescheduleRequest{Date: "2025-12-16", Time: "16:00"})
	require.NoError(t, err)
	assert.Equal(t, original.ID, next.RescheduledFrom)
	assert.Equal(t, "2025-12-16", next.Date)

	old, err := svc.GetBooking(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusRescheduled, old.Status)
	assert.Equal(t, next.ID, old.RescheduledTo)

	claim, err := env.bookings.GetSlotClaim(ctx, "2025-12-15", "09:00")
	require.NoError(t, err)
	assert.Nil(t, claim)

	_, err = svc.Reschedule(ctx, original.ID, &RescheduleRequest{Date: "2025-12-17", Time: "10:00"})
	assert.ErrorIs(t, err, entity.ErrInvalidStatusTransition)

	assert.Equal(t, []string{original.ID, next.ID}, notifier.confirmed)
}

func TestRescheduleToTakenSlotKeepsOriginal(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)
	ctx := context.Background()

	a, err := svc.CreateBooking(ctx, validRequest("2025-12-15", "09:00"))
	require.NoError(t, err)
	_, err = svc.CreateBooking(ctx, validRequest("2025-12-15", "10:00"))
	require.NoError(t, err)

	_, err = svc.Reschedule(ctx, a.ID, &RescheduleRequest{Date: "2025-12-15", Time: "10:00"})
	assert.ErrorIs(t, err, entity.ErrSlotTaken)

	still, err := svc.GetBooking(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusConfirmed, still.Status)
}

func TestRescheduleOfBookingCancelledMeanwhile(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()
	other := env.slotService(nil)

	original, err := other.CreateBooking(ctx, validRequest("2025-12-15", "09:00"))
	require.NoError(t, err)

	store := &interleavingStore{
		RecordStore: env.store,
		key:         database.BookingKey(original.ID),
		before: func() {
			_, err := other.Cancel(ctx, original.ID)
			require.NoError(t, err)
		},
	}
	svc := NewSlotService(database.NewBookingRepository(store), nil, nil, SlotConfig{
		OpenHour:  9,
		CloseHour: 17,
		Location:  london,
	}, env.clock.Now)

	_, err = svc.Reschedule(ctx, original.ID, &RescheduleRequest{Date: "2025-12-16", Time: "16:00"})
	assert.ErrorIs(t, err, entity.ErrInvalidStatusTransition)

	still, err := env.bookings.GetByID(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCancelled, still.Status)
	assert.Empty(t, still.RescheduledTo)

	// the new slot was rolled back
	claim, err := env.bookings.GetSlotClaim(ctx, "2025-12-16", "16:00")
	require.NoError(t, err)
	assert.Nil(t, claim)
	day, err := env.bookings.ListByDate(ctx, "2025-12-16")
	require.NoError(t, err)
	assert.Empty(t, day)
}

func TestBookingUpdateGivesUpUnderContention(t *testing.T) {
	env := newTestEnv(t, monday)
	ctx := context.Background()
	env.seedBooking(t, "b1", "2025-12-15", "14:00", false)

	calls := 0
	_, err := env.bookings.Update(ctx, "b1", func(b *entity.Booking) error {
		calls++
		// конкурентная запись между чтением и CAS
		require.NoError(t, env.store.Put(ctx, database.BookingKey("b1"), []byte(fmt.Sprintf(`{"id":"b1","status":"confirmed","n":%d}`, calls))))
		b.Status = entity.BookingStatusCancelled
		return nil
	})
	assert.ErrorIs(t, err, entity.ErrConcurrentUpdate)
	assert.Equal(t, 5, calls)

	_, err = env.bookings.Update(ctx, "missing", func(*entity.Booking) error { return nil })
	assert.ErrorIs(t, err, entity.ErrBookingNotFound)
}

func TestDeleteRemovesBookingAndSlot(t *testing.T) {
	env := newTestEnv(t, monday)
	svc := env.slotService(nil)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, validRequest("2025-12-15", "13:00"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, b.ID))

	_, err = svc.GetBooking(ctx, b.ID)
	assert.ErrorIs(t, err, entity.ErrBookingNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, b.ID), entity.ErrBookingNotFound)

	listed, err := svc.ListBookingsByDate(ctx, "2025-12-15")
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = svc.CreateBooking(ctx, validRequest("2025-12-15", "13:00"))
	assert.NoError(t, err)
}

func TestCreateBookingNotifiesByOptIn(t *testing.T) {
	env := newTestEnv(t, monday)
	notifier := &recordingNotifier{}
	svc := env.slotService(notifier)
	ctx := context.Background()

	in, err := svc.CreateBooking(ctx, validRequest("2025-12-15", "09:00"))
	require.NoError(t, err)

	req := validRequest("2025-12-15", "10:00")
	req.SMSOptIn = false
	out, err := svc.CreateBooking(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []string{in.ID}, notifier.confirmed)
	assert.Equal(t, []string{in.ID, out.ID}, notifier.alerted)
}
