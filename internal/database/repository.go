package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by RecordStore.Get for an absent key.
var ErrNotFound = errors.New("record not found")

// RecordStore is the shared key-value store with secondary-index sets and
// counters. Every operation is atomic on a single key; nothing spans keys.
type RecordStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// MultiGet returns one entry per key, nil where the key is absent.
	MultiGet(ctx context.Context, keys []string) ([][]byte, error)
	Delete(ctx context.Context, key string) error

	// PutIfAbsent writes only when the key does not exist yet.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	// PutIfAbsentTTL is PutIfAbsent with the expiry set in the same write.
	PutIfAbsentTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces key with value only while it still holds expected.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error)
	// CompareAndDelete removes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	AddToSet(ctx context.Context, setKey, member string) error
	RemoveFromSet(ctx context.Context, setKey, member string) error
	MembersOf(ctx context.Context, setKey string) ([]string, error)

	Increment(ctx context.Context, key string) (int64, error)
	SetExpiry(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	// IncrementWindow increments key and, on the first increment, sets its
	// expiry to window. It returns the new count and the remaining TTL.
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	Ping(ctx context.Context) error
}
