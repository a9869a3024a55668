package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr
}

func TestPutGetDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "booking:1")
	assert.ErrorIs(t, err, database.ErrNotFound)

	require.NoError(t, store.Put(ctx, "booking:1", []byte(`{"id":"1"}`)))
	got, err := store.Get(ctx, "booking:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1"}`, string(got))

	values, err := store.MultiGet(ctx, []string{"booking:1", "booking:2"})
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.NotNil(t, values[0])
	assert.Nil(t, values[1])

	require.NoError(t, store.Delete(ctx, "booking:1"))
	_, err = store.Get(ctx, "booking:1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestConditionalWrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.PutIfAbsent(ctx, "slot:2025-12-15:14:00", []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.PutIfAbsent(ctx, "slot:2025-12-15:14:00", []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndDelete(ctx, "slot:2025-12-15:14:00", []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok, "value did not match")

	ok, err = store.CompareAndDelete(ctx, "slot:2025-12-15:14:00", []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Get(ctx, "slot:2025-12-15:14:00")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCompareAndSwap(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.CompareAndSwap(ctx, "booking:1", []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, ok, "missing key is never swapped")

	require.NoError(t, store.Put(ctx, "booking:1", []byte("v1")))

	ok, err = store.CompareAndSwap(ctx, "booking:1", []byte("stale"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndSwap(ctx, "booking:1", []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "booking:1")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestPutIfAbsentTTLSetsExpiryInOneWrite(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := store.PutIfAbsentTTL(ctx, "reminder:lock:b1:reminder24h", []byte("t1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("reminder:lock:b1:reminder24h"))

	ok, err = store.PutIfAbsentTTL(ctx, "reminder:lock:b1:reminder24h", []byte("t2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = store.PutIfAbsentTTL(ctx, "reminder:lock:b1:reminder24h", []byte("t2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is free again")
}

func TestSets(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddToSet(ctx, "bookings:date:2025-12-15", "b1"))
	require.NoError(t, store.AddToSet(ctx, "bookings:date:2025-12-15", "b2"))
	require.NoError(t, store.AddToSet(ctx, "bookings:date:2025-12-15", "b1"))
	require.NoError(t, store.RemoveFromSet(ctx, "bookings:date:2025-12-15", "b2"))

	members, err := store.MembersOf(ctx, "bookings:date:2025-12-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, members)

	members, err = store.MembersOf(ctx, "bookings:date:2030-01-01")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestCountersAndExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	n, err := store.Increment(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ttl, err := store.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Zero(t, ttl, "no expiry set")

	require.NoError(t, store.SetExpiry(ctx, "counter", time.Minute))
	ttl, err = store.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)
	ttl, err = store.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestIncrementWindow(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, ttl, err := store.IncrementWindow(ctx, "ratelimit:booking:ip", time.Minute)
		require.NoError(t, err)
		assert.EqualValues(t, i, count)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)
	}

	mr.FastForward(61 * time.Second)

	count, _, err := store.IncrementWindow(ctx, "ratelimit:booking:ip", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "window restarts after expiry")
}
