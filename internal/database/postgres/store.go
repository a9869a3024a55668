package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/lib/pq"
)

// A row whose expires_at has passed is treated as absent everywhere.
const live = `(expires_at IS NULL OR expires_at > now())`

const expired = `(records.expires_at IS NOT NULL AND records.expires_at <= now())`

// Store keeps records in a single table and set members in another.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO records (key, value, expires_at, updated_at)
		VALUES ($1, $2, NULL, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = NULL, updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM records WHERE key = $1 AND ` + live

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) MultiGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := `SELECT key, value FROM records WHERE key = ANY($1) AND ` + live
	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("multi get: %w", err)
	}
	defer rows.Close()

	found := make(map[string][]byte, len(keys))
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("multi get scan: %w", err)
		}
		found[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("multi get rows: %w", err)
	}

	out := make([][]byte, len(keys))
	for i, key := range keys {
		out[i] = found[key]
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent also takes over a row whose expiry has passed.
func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	query := `
		INSERT INTO records (key, value, expires_at, updated_at)
		VALUES ($1, $2, NULL, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, counter = 0, expires_at = NULL, updated_at = now()
		WHERE ` + expired

	res, err := s.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return false, fmt.Errorf("put if absent %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put if absent %s: %w", key, err)
	}
	return n == 1, nil
}

// PutIfAbsentTTL writes value with its expiry in one statement. Like
// PutIfAbsent it takes over a row whose expiry has passed.
func (s *Store) PutIfAbsentTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO records (key, value, expires_at, updated_at)
		VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'), now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, counter = 0, expires_at = EXCLUDED.expires_at, updated_at = now()
		WHERE ` + expired

	res, err := s.db.ExecContext(ctx, query, key, value, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("put if absent ttl %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put if absent ttl %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error) {
	query := `UPDATE records SET value = $3, updated_at = now() WHERE key = $1 AND value = $2 AND ` + live

	res, err := s.db.ExecContext(ctx, query, key, expected, value)
	if err != nil {
		return false, fmt.Errorf("compare and swap %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("compare and swap %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	query := `DELETE FROM records WHERE key = $1 AND value = $2 AND ` + live

	res, err := s.db.ExecContext(ctx, query, key, expected)
	if err != nil {
		return false, fmt.Errorf("compare and delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("compare and delete %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) AddToSet(ctx context.Context, setKey, member string) error {
	query := `INSERT INTO record_sets (set_key, member) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, setKey, member); err != nil {
		return fmt.Errorf("add to set %s: %w", setKey, err)
	}
	return nil
}

func (s *Store) RemoveFromSet(ctx context.Context, setKey, member string) error {
	query := `DELETE FROM record_sets WHERE set_key = $1 AND member = $2`
	if _, err := s.db.ExecContext(ctx, query, setKey, member); err != nil {
		return fmt.Errorf("remove from set %s: %w", setKey, err)
	}
	return nil
}

func (s *Store) MembersOf(ctx context.Context, setKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM record_sets WHERE set_key = $1`, setKey)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", setKey, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("members of %s scan: %w", setKey, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	query := `
		INSERT INTO records (key, value, counter, updated_at)
		VALUES ($1, convert_to('1', 'UTF8'), 1, now())
		ON CONFLICT (key) DO UPDATE
		SET counter = CASE WHEN ` + expired + ` THEN 1 ELSE records.counter + 1 END,
		    value = convert_to((CASE WHEN ` + expired + ` THEN 1 ELSE records.counter + 1 END)::text, 'UTF8'),
		    expires_at = CASE WHEN ` + expired + ` THEN NULL ELSE records.expires_at END,
		    updated_at = now()
		RETURNING counter`

	var n int64
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	query := `UPDATE records SET expires_at = now() + ($2::bigint * interval '1 millisecond') WHERE key = $1`
	if _, err := s.db.ExecContext(ctx, query, key, ttl.Milliseconds()); err != nil {
		return fmt.Errorf("set expiry %s: %w", key, err)
	}
	return nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	query := `
		SELECT COALESCE(GREATEST(EXTRACT(EPOCH FROM (expires_at - now())) * 1000, 0), 0)::bigint
		FROM records WHERE key = $1 AND ` + live

	var ms int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&ms)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (s *Store) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	query := `
		INSERT INTO records (key, value, counter, expires_at, updated_at)
		VALUES ($1, convert_to('1', 'UTF8'), 1, now() + ($2::bigint * interval '1 millisecond'), now())
		ON CONFLICT (key) DO UPDATE
		SET counter = CASE WHEN ` + expired + ` THEN 1 ELSE records.counter + 1 END,
		    value = convert_to((CASE WHEN ` + expired + ` THEN 1 ELSE records.counter + 1 END)::text, 'UTF8'),
		    expires_at = CASE
		        WHEN ` + expired + ` OR records.expires_at IS NULL
		        THEN now() + ($2::bigint * interval '1 millisecond')
		        ELSE records.expires_at END,
		    updated_at = now()
		RETURNING counter, GREATEST(EXTRACT(EPOCH FROM (expires_at - now())) * 1000, 0)::bigint`

	var (
		count int64
		ms    int64
	)
	if err := s.db.QueryRowContext(ctx, query, key, window.Milliseconds()).Scan(&count, &ms); err != nil {
		return 0, 0, fmt.Errorf("increment window %s: %w", key, err)
	}
	return count, time.Duration(ms) * time.Millisecond, nil
}

// PurgeExpired deletes rows whose expiry has passed. Reads already ignore them.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return res.RowsAffected()
}

var _ database.RecordStore = (*Store)(nil)
