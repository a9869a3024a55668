package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/google/uuid"
)

// BookingRepository stores bookings as JSON records with date and global index sets.
type BookingRepository struct {
	store RecordStore
}

func NewBookingRepository(store RecordStore) *BookingRepository {
	return &BookingRepository{store: store}
}

// Save writes the primary record only. Index maintenance is separate so a
// caller can tell a failed primary write from a failed index write.
func (r *BookingRepository) Save(ctx context.Context, b *entity.Booking) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal booking: %w", err)
	}
	return r.store.Put(ctx, BookingKey(b.ID), data)
}

func (r *BookingRepository) Index(ctx context.Context, b *entity.Booking) error {
	if err := r.store.AddToSet(ctx, BookingDateKey(b.Date), b.ID); err != nil {
		return err
	}
	return r.store.AddToSet(ctx, KeyAllBookings, b.ID)
}

func (r *BookingRepository) Unindex(ctx context.Context, b *entity.Booking) error {
	if err := r.store.RemoveFromSet(ctx, BookingDateKey(b.Date), b.ID); err != nil {
		return err
	}
	return r.store.RemoveFromSet(ctx, KeyAllBookings, b.ID)
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*entity.Booking, error) {
	data, err := r.store.Get(ctx, BookingKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, entity.ErrBookingNotFound
		}
		return nil, err
	}

	var b entity.Booking
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode booking %s: %w", id, err)
	}
	return &b, nil
}

// updateAttempts bounds the read-modify-write loop of Update.
const updateAttempts = 5

// Update applies fn to the stored booking and writes the result only if
// nobody changed the record in between; otherwise it re-reads and runs fn
// again. fn sees the freshest copy and may refuse the change by returning
// an error, which Update returns unchanged.
func (r *BookingRepository) Update(ctx context.Context, id string, fn func(b *entity.Booking) error) (*entity.Booking, error) {
	key := BookingKey(id)
	for i := 0; i < updateAttempts; i++ {
		current, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, entity.ErrBookingNotFound
			}
			return nil, err
		}

		var b entity.Booking
		if err := json.Unmarshal(current, &b); err != nil {
			return nil, fmt.Errorf("decode booking %s: %w", id, err)
		}
		if err := fn(&b); err != nil {
			return nil, err
		}

		next, err := json.Marshal(&b)
		if err != nil {
			return nil, fmt.Errorf("marshal booking: %w", err)
		}
		ok, err := r.store.CompareAndSwap(ctx, key, current, next)
		if err != nil {
			return nil, err
		}
		if ok {
			return &b, nil
		}
	}
	return nil, fmt.Errorf("update booking %s: %w", id, entity.ErrConcurrentUpdate)
}

// GetMany returns bookings in ids order, nil where a record is missing or unreadable.
func (r *BookingRepository) GetMany(ctx context.Context, ids []string) ([]*entity.Booking, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookingKey(id)
	}

	values, err := r.store.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*entity.Booking, len(ids))
	for i, data := range values {
		if data == nil {
			continue
		}
		var b entity.Booking
		if err := json.Unmarshal(data, &b); err != nil {
			continue
		}
		out[i] = &b
	}
	return out, nil
}

func (r *BookingRepository) ListByDate(ctx context.Context, date string) ([]*entity.Booking, error) {
	ids, err := r.store.MembersOf(ctx, BookingDateKey(date))
	if err != nil {
		return nil, err
	}
	bookings, err := r.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	return compact(bookings), nil
}

func (r *BookingRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, BookingKey(id))
}

// SlotClaim is the value stored on a slot key: which booking holds it and since when.
type SlotClaim struct {
	BookingID string    `json:"booking_id"`
	ClaimedAt time.Time `json:"claimed_at"`

	raw []byte
}

func NewSlotClaim(bookingID string, now time.Time) *SlotClaim {
	return &SlotClaim{BookingID: bookingID, ClaimedAt: now.UTC()}
}

func decodeClaim(raw []byte) *SlotClaim {
	c := &SlotClaim{}
	if err := json.Unmarshal(raw, c); err != nil || c.BookingID == "" {
		// plain booking id
		c = &SlotClaim{BookingID: string(raw)}
	}
	c.raw = raw
	return c
}

// ClaimSlot stores claim on (date, slot). It reports false when another
// claim is already there.
func (r *BookingRepository) ClaimSlot(ctx context.Context, date, slot string, claim *SlotClaim) (bool, error) {
	data, err := json.Marshal(claim)
	if err != nil {
		return false, fmt.Errorf("marshal slot claim: %w", err)
	}
	claim.raw = data
	return r.store.PutIfAbsent(ctx, SlotKey(date, slot), data)
}

// ReleaseSlot frees (date, slot) only while claim is still the one stored there.
func (r *BookingRepository) ReleaseSlot(ctx context.Context, date, slot string, claim *SlotClaim) (bool, error) {
	if claim == nil || claim.raw == nil {
		return false, nil
	}
	return r.store.CompareAndDelete(ctx, SlotKey(date, slot), claim.raw)
}

// GetSlotClaim returns the current claim on (date, slot), nil when free.
func (r *BookingRepository) GetSlotClaim(ctx context.Context, date, slot string) (*SlotClaim, error) {
	data, err := r.store.Get(ctx, SlotKey(date, slot))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeClaim(data), nil
}

// SlotClaims is GetSlotClaim for many slots of one date in a single round trip.
func (r *BookingRepository) SlotClaims(ctx context.Context, date string, slots []string) ([]*SlotClaim, error) {
	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = SlotKey(date, s)
	}
	values, err := r.store.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	claims := make([]*SlotClaim, len(slots))
	for i, v := range values {
		if v != nil {
			claims[i] = decodeClaim(v)
		}
	}
	return claims, nil
}

// LockReminder takes the per-(booking, kind) reminder lock for ttl. It
// returns the token needed to release it, or nil when someone else holds it.
func (r *BookingRepository) LockReminder(ctx context.Context, bookingID, kind string, ttl time.Duration) ([]byte, error) {
	token := []byte(uuid.NewString())
	ok, err := r.store.PutIfAbsentTTL(ctx, ReminderLockKey(bookingID, kind), token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return token, nil
}

// UnlockReminder drops the lock only while it still carries token.
func (r *BookingRepository) UnlockReminder(ctx context.Context, bookingID, kind string, token []byte) error {
	_, err := r.store.CompareAndDelete(ctx, ReminderLockKey(bookingID, kind), token)
	return err
}

func compact(bookings []*entity.Booking) []*entity.Booking {
	out := bookings[:0]
	for _, b := range bookings {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}
