package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ds124wfegd/appointly/internal/database"
	redisstore "github.com/ds124wfegd/appointly/internal/database/redis"
	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/pkg/sms"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var london = mustLocation("Europe/London")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// testClock is a settable clock shared by every service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	mr       *miniredis.Miniredis
	store    *redisstore.Store
	bookings *database.BookingRepository
	attempts *database.AttemptRepository
	clock    *testClock
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisstore.NewStore(client)
	return &testEnv{
		mr:       mr,
		store:    store,
		bookings: database.NewBookingRepository(store),
		attempts: database.NewAttemptRepository(store),
		clock:    newTestClock(now),
	}
}

func (e *testEnv) slotService(notifier BookingNotifier) SlotService {
	return NewSlotService(e.bookings, notifier, nil, SlotConfig{
		OpenHour:  9,
		CloseHour: 17,
		Location:  london,
	}, e.clock.Now)
}

func (e *testEnv) dispatchService(provider sms.Provider) DispatchService {
	return NewDispatchService(provider, e.attempts, e.bookings, DispatchConfig{
		AdminPhone:      "+447700900999",
		BusinessName:    "Studio",
		Timeout:         200 * time.Millisecond,
		ReminderLockTTL: time.Minute,
	}, e.clock.Now)
}

// seedBooking writes a confirmed booking straight to the store.
func (e *testEnv) seedBooking(t *testing.T, id, date, slot string, optIn bool) *entity.Booking {
	t.Helper()

	b := &entity.Booking{
		ID:        id,
		Name:      "Ada",
		Email:     "ada@example.com",
		Phone:     "+447700900123",
		Service:   "Haircut",
		Date:      date,
		Time:      slot,
		SMSOptIn:  optIn,
		Status:    entity.BookingStatusConfirmed,
		CreatedAt: e.clock.Now(),
		UpdatedAt: e.clock.Now(),
	}
	ctx := context.Background()
	ok, err := e.bookings.ClaimSlot(ctx, date, slot, database.NewSlotClaim(id, e.clock.Now()))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.bookings.Save(ctx, b))
	require.NoError(t, e.bookings.Index(ctx, b))
	return b
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Send(ctx context.Context, to, body string) (*sms.Message, error) {
	args := m.Called(ctx, to, body)
	msg, _ := args.Get(0).(*sms.Message)
	return msg, args.Error(1)
}

func (m *mockProvider) Fetch(ctx context.Context, sid string) (*sms.Message, error) {
	args := m.Called(ctx, sid)
	msg, _ := args.Get(0).(*sms.Message)
	return msg, args.Error(1)
}

// recordingNotifier remembers which bookings it was asked to notify about.
type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []string
	alerted   []string
}

func (n *recordingNotifier) Confirm(_ context.Context, b *entity.Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, b.ID)
}

func (n *recordingNotifier) AlertAdmin(_ context.Context, b *entity.Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerted = append(n.alerted, b.ID)
}

// syncNotifier dispatches inline so tests can inspect the attempt log right away.
type syncNotifier struct {
	dispatch DispatchService
}

func (n syncNotifier) Confirm(ctx context.Context, b *entity.Booking) {
	n.dispatch.Notify(ctx, b, entity.CategoryConfirmation)
}

func (n syncNotifier) AlertAdmin(context.Context, *entity.Booking) {}

// interleavingStore runs before once, right ahead of the first
// CompareAndSwap on key, to stand in for a concurrent writer.
type interleavingStore struct {
	database.RecordStore
	key    string
	before func()
	once   sync.Once
}

func (s *interleavingStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error) {
	if key == s.key {
		s.once.Do(s.before)
	}
	return s.RecordStore.CompareAndSwap(ctx, key, expected, value)
}
