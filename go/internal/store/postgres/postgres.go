// Package postgres backs the game store with a single Postgres table.
// Regular reads and writes go through a pgx pool; pub/sub rides
// LISTEN/NOTIFY through dedicated lib/pq listener connections, which
// handle reconnects on their own.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/store"
)

// NOTIFY rejects payloads of 8000 bytes or more. Oversized events skip
// the push path and reach consumers through the polled queue instead.
const notifyMaxPayload = 7999

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    str_value  TEXT,
    list_value TEXT[],
    expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS kv_key_pattern_idx ON kv (key text_pattern_ops);
CREATE INDEX IF NOT EXISTS kv_expires_idx ON kv (expires_at) WHERE expires_at IS NOT NULL;
`

// Store keeps every key in one kv row: string keys use str_value, list
// keys use list_value. Expiry is judged against the database clock so
// all server instances agree on it.
type Store struct {
	pool *pgxpool.Pool
	dsn  string
}

var _ store.Store = (*Store)(nil)

// New connects a pool to the given DSN and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{pool: pool, dsn: dsn}, nil
}

// EnsureSchema creates the kv table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure kv schema: %w", err)
	}
	return nil
}

// PurgeExpired removes rows whose TTL lapsed. Expired rows are already
// invisible to reads; this just reclaims them.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var val *string
	err := s.pool.QueryRow(ctx,
		`SELECT str_value FROM kv
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres get %s: %w", key, err)
	}
	if val == nil {
		// Row exists but holds a list.
		return "", store.ErrNotFound
	}
	return *val, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv (key, str_value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE
		 SET str_value = EXCLUDED.str_value, list_value = NULL, expires_at = NULL`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv (key, str_value, expires_at)
		 VALUES ($1, $2, now() + ($3 * interval '1 microsecond'))
		 ON CONFLICT (key) DO UPDATE
		 SET str_value = EXCLUDED.str_value, list_value = NULL,
		     expires_at = EXCLUDED.expires_at`,
		key, value, ttl.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	// The conflict branch only fires when the existing row has expired,
	// so a live key never gets overwritten and the insert stays atomic.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO kv (key, str_value, expires_at)
		 VALUES ($1, $2, now() + ($3 * interval '1 microsecond'))
		 ON CONFLICT (key) DO UPDATE
		 SET str_value = EXCLUDED.str_value, list_value = NULL,
		     expires_at = EXCLUDED.expires_at
		 WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= now()`,
		key, value, ttl.Microseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres setnx %s: %w", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM kv
		   WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
		 )`,
		key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres exists %s: %w", key, err)
	}
	return exists, nil
}

// clearExpired drops a dead row so list writes cannot resurrect stale
// content under a fresh key.
func (s *Store) clearExpired(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM kv WHERE key = $1 AND expires_at IS NOT NULL AND expires_at <= now()`,
		key,
	)
	return err
}

func (s *Store) ListAppend(ctx context.Context, key string, values ...string) error {
	if err := s.clearExpired(ctx, key); err != nil {
		return fmt.Errorf("postgres list append %s: %w", key, err)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv (key, list_value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE
		 SET list_value = COALESCE(kv.list_value, '{}'::text[]) || EXCLUDED.list_value,
		     str_value = NULL`,
		key, values,
	)
	if err != nil {
		return fmt.Errorf("postgres list append %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListPrepend(ctx context.Context, key string, values ...string) error {
	if err := s.clearExpired(ctx, key); err != nil {
		return fmt.Errorf("postgres list prepend %s: %w", key, err)
	}
	// Reverse so the last value given lands at the head, matching the
	// push-one-at-a-time contract.
	reversed := make([]string, len(values))
	for i, v := range values {
		reversed[len(values)-1-i] = v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv (key, list_value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE
		 SET list_value = EXCLUDED.list_value || COALESCE(kv.list_value, '{}'::text[]),
		     str_value = NULL`,
		key, reversed,
	)
	if err != nil {
		return fmt.Errorf("postgres list prepend %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var list []string
	err := s.pool.QueryRow(ctx,
		`SELECT list_value FROM kv
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&list)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres list range %s: %w", key, err)
	}
	lo, hi, ok := store.ClampRange(len(list), start, stop)
	if !ok {
		return nil, nil
	}
	return list[lo : hi+1], nil
}

func (s *Store) ListTrim(ctx context.Context, key string, start, stop int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var list []string
		err := tx.QueryRow(ctx,
			`SELECT list_value FROM kv
			 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
			 FOR UPDATE`,
			key,
		).Scan(&list)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		lo, hi, ok := store.ClampRange(len(list), start, stop)
		if !ok {
			_, err := tx.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key)
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE kv SET list_value = $2 WHERE key = $1`,
			key, list[lo:hi+1],
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres list trim %s: %w", key, err)
	}
	return nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE kv SET expires_at = now() + ($2 * interval '1 microsecond')
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key, ttl.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres expire %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv
		 WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())`,
		globToLike(pattern),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres keys %s: %w", pattern, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("postgres keys %s: %w", pattern, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres keys %s: %w", pattern, err)
	}
	return keys, nil
}

func (s *Store) Publish(ctx context.Context, channel, message string) error {
	if len(message) > notifyMaxPayload {
		log.Debug().
			Str("channel", channel).
			Int("size", len(message)).
			Msg("payload too large for NOTIFY, consumers will pick it up on poll")
		return nil
	}
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, message); err != nil {
		return fmt.Errorf("postgres notify %s: %w", channel, err)
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, channel string) (store.Subscription, error) {
	l := pq.NewListener(
		s.dsn,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Str("channel", channel).Msg("listener event")
			}
		},
	)
	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	sub := &subscription{
		listener: l,
		out:      make(chan string, 32),
		stop:     make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type subscription struct {
	listener *pq.Listener
	out      chan string
	stop     chan struct{}
}

func (sub *subscription) pump() {
	defer close(sub.out)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case note := <-sub.listener.Notify:
			if note == nil {
				// Connection was lost and is being re-established.
				continue
			}
			select {
			case sub.out <- note.Extra:
			default:
				// Subscriber stopped draining; the polled queue covers it.
			}
		case <-ping.C:
			if err := sub.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (sub *subscription) Messages() <-chan string {
	return sub.out
}

func (sub *subscription) Close() error {
	select {
	case <-sub.stop:
		return nil
	default:
	}
	close(sub.stop)
	return sub.listener.Close()
}

// globToLike rewrites a '*'/'?' glob as a LIKE pattern.
func globToLike(pattern string) string {
	out := make([]byte, 0, len(pattern)+4)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			out = append(out, '%')
		case '?':
			out = append(out, '_')
		case '%', '_', '\\':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
