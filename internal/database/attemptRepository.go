package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/sirupsen/logrus"
)

// AttemptRepository is the append-only SMS attempt log with secondary indexes
// by booking, provider message id, status, phone and day.
type AttemptRepository struct {
	store RecordStore
}

func NewAttemptRepository(store RecordStore) *AttemptRepository {
	return &AttemptRepository{store: store}
}

// Append writes a new attempt and its indexes. The attempt itself must land;
// index failures are logged and reported but the record stays readable by id.
func (r *AttemptRepository) Append(ctx context.Context, a *entity.Attempt) error {
	if err := r.put(ctx, a); err != nil {
		return err
	}

	var indexErr error
	for _, set := range r.indexSets(a) {
		if err := r.store.AddToSet(ctx, set, a.ID); err != nil {
			logrus.WithFields(logrus.Fields{"attempt_id": a.ID, "set": set}).Errorf("failed to index sms attempt: %v", err)
			indexErr = err
		}
	}
	if a.ProviderMessageID != nil && *a.ProviderMessageID != "" {
		if err := r.store.Put(ctx, AttemptProviderKey(*a.ProviderMessageID), []byte(a.ID)); err != nil {
			logrus.WithField("attempt_id", a.ID).Errorf("failed to index provider message id: %v", err)
			indexErr = err
		}
	}
	if indexErr != nil {
		return fmt.Errorf("index attempt %s: %w", a.ID, indexErr)
	}
	return nil
}

// UpdateStatus rewrites an attempt in place after delivery reconciliation and
// moves it between status sets.
func (r *AttemptRepository) UpdateStatus(ctx context.Context, a *entity.Attempt, previous entity.DeliveryStatus) error {
	if err := r.put(ctx, a); err != nil {
		return err
	}
	if previous == a.Status {
		return nil
	}
	if err := r.store.AddToSet(ctx, AttemptStatusKey(string(a.Status)), a.ID); err != nil {
		return fmt.Errorf("index attempt status: %w", err)
	}
	if err := r.store.RemoveFromSet(ctx, AttemptStatusKey(string(previous)), a.ID); err != nil {
		return fmt.Errorf("unindex attempt status: %w", err)
	}
	return nil
}

func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*entity.Attempt, error) {
	data, err := r.store.Get(ctx, AttemptKey(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, entity.ErrAttemptNotFound
		}
		return nil, err
	}
	var a entity.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode attempt %s: %w", id, err)
	}
	return &a, nil
}

func (r *AttemptRepository) GetByProviderID(ctx context.Context, sid string) (*entity.Attempt, error) {
	data, err := r.store.Get(ctx, AttemptProviderKey(sid))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, entity.ErrAttemptNotFound
		}
		return nil, err
	}
	return r.GetByID(ctx, string(data))
}

// ListByBooking returns every attempt for a booking, newest first.
func (r *AttemptRepository) ListByBooking(ctx context.Context, bookingID string) ([]*entity.Attempt, error) {
	return r.listSet(ctx, AttemptBookingKey(bookingID))
}

func (r *AttemptRepository) ListByStatus(ctx context.Context, status entity.DeliveryStatus) ([]*entity.Attempt, error) {
	return r.listSet(ctx, AttemptStatusKey(string(status)))
}

// Search picks the narrowest index the filter allows and applies the rest in memory.
func (r *AttemptRepository) Search(ctx context.Context, f entity.AttemptFilter) ([]*entity.Attempt, error) {
	var (
		attempts []*entity.Attempt
		err      error
	)

	switch {
	case f.BookingID != "":
		attempts, err = r.listSet(ctx, AttemptBookingKey(f.BookingID))
	case f.Phone != "":
		attempts, err = r.listSet(ctx, AttemptPhoneKey(f.Phone))
	case f.Status != "":
		attempts, err = r.listSet(ctx, AttemptStatusKey(string(f.Status)))
	case !f.From.IsZero():
		attempts, err = r.listDays(ctx, f.From, f.To)
	default:
		attempts, err = r.listSet(ctx, KeyAllAttempts)
	}
	if err != nil {
		return nil, err
	}

	out := attempts[:0]
	for _, a := range attempts {
		if matches(a, f) {
			out = append(out, a)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *AttemptRepository) listDays(ctx context.Context, from, to time.Time) ([]*entity.Attempt, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	seen := make(map[string]struct{})
	var ids []string
	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to.UTC()); day = day.Add(24 * time.Hour) {
		members, err := r.store.MembersOf(ctx, AttemptDateKey(day.Format(entity.DateLayout)))
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return r.getMany(ctx, ids)
}

func (r *AttemptRepository) listSet(ctx context.Context, setKey string) ([]*entity.Attempt, error) {
	ids, err := r.store.MembersOf(ctx, setKey)
	if err != nil {
		return nil, err
	}
	return r.getMany(ctx, ids)
}

func (r *AttemptRepository) getMany(ctx context.Context, ids []string) ([]*entity.Attempt, error) {
	if len(ids) == 0 {
		return []*entity.Attempt{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = AttemptKey(id)
	}
	values, err := r.store.MultiGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	attempts := make([]*entity.Attempt, 0, len(values))
	for _, data := range values {
		if data == nil {
			continue
		}
		var a entity.Attempt
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		attempts = append(attempts, &a)
	}

	sort.SliceStable(attempts, func(i, j int) bool {
		if attempts[i].CreatedAt.Equal(attempts[j].CreatedAt) {
			return attempts[i].ID > attempts[j].ID
		}
		return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
	})
	return attempts, nil
}

func (r *AttemptRepository) put(ctx context.Context, a *entity.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	return r.store.Put(ctx, AttemptKey(a.ID), data)
}

func (r *AttemptRepository) indexSets(a *entity.Attempt) []string {
	sets := []string{
		KeyAllAttempts,
		AttemptStatusKey(string(a.Status)),
		AttemptPhoneKey(a.Phone),
		AttemptDateKey(a.CreatedAt.UTC().Format(entity.DateLayout)),
	}
	if a.BookingID != "" {
		sets = append(sets, AttemptBookingKey(a.BookingID))
	}
	return sets
}

func matches(a *entity.Attempt, f entity.AttemptFilter) bool {
	if f.BookingID != "" && a.BookingID != f.BookingID {
		return false
	}
	if f.Phone != "" && a.Phone != f.Phone {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.CreatedAt.After(f.To) {
		return false
	}
	return true
}
