package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM records WHERE key = $1`)).
		WithArgs("booking:1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "booking:1")
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutIfAbsentReportsWinner(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WithArgs("slot:2025-12-15:14:00", []byte("a")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WithArgs("slot:2025-12-15:14:00", []byte("b")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.PutIfAbsent(ctx, "slot:2025-12-15:14:00", []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.PutIfAbsent(ctx, "slot:2025-12-15:14:00", []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM records WHERE key = $1 AND value = $2`)).
		WithArgs("reminder:lock:b1:reminder24h", []byte("token")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.CompareAndDelete(context.Background(), "reminder:lock:b1:reminder24h", []byte("token"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutIfAbsentTTLWritesExpiryWithValue(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'), now())`)).
		WithArgs("reminder:lock:b1:reminder24h", []byte("token"), int64(120000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.PutIfAbsentTTL(context.Background(), "reminder:lock:b1:reminder24h", []byte("token"), 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSwap(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	query := regexp.QuoteMeta(`UPDATE records SET value = $3, updated_at = now() WHERE key = $1 AND value = $2`)
	mock.ExpectExec(query).
		WithArgs("booking:1", []byte("v1"), []byte("v2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs("booking:1", []byte("v1"), []byte("v3")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.CompareAndSwap(ctx, "booking:1", []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CompareAndSwap(ctx, "booking:1", []byte("v1"), []byte("v3"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMultiGetKeepsKeyOrder(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("c", []byte("3")).
		AddRow("a", []byte("1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, value FROM records WHERE key = ANY($1)`)).
		WillReturnRows(rows)

	values, err := store.MultiGet(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("1"), values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, []byte("3"), values[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementWindow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO records (key, value, counter, expires_at, updated_at)`)).
		WithArgs("ratelimit:booking:1.2.3.4", int64(60000)).
		WillReturnRows(sqlmock.NewRows([]string{"counter", "ttl"}).AddRow(int64(2), int64(45000)))

	count, ttl, err := store.IncrementWindow(context.Background(), "ratelimit:booking:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.Equal(t, 45*time.Second, ttl)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTTLMissingKeyIsZero(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM records WHERE key = $1`)).
		WithArgs("ratelimit:auth-block:1.2.3.4").
		WillReturnError(sql.ErrNoRows)

	ttl, err := store.TTL(context.Background(), "ratelimit:auth-block:1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, ttl)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembersOfAndPurge(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT member FROM record_sets WHERE set_key = $1`)).
		WithArgs("bookings:date:2025-12-15").
		WillReturnRows(sqlmock.NewRows([]string{"member"}).AddRow("b1").AddRow("b2"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM records WHERE expires_at IS NOT NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	members, err := store.MembersOf(ctx, "bookings:date:2025-12-15")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b2"}, members)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorsAreWrapped(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).WillReturnError(boom)

	err := store.Put(context.Background(), "booking:1", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "booking:1")
}
