// Package pgkv keeps string key/value pairs in a Postgres table.
package pgkv

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/pkg/retrier"
)

const (
	queryTimeout = 2 * time.Second
	writeTimeout = 4 * time.Second

	createTableSQL = `
        CREATE TABLE IF NOT EXISTS investbot_kv (
            key        TEXT PRIMARY KEY,
            value      TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`
	selectSQL = `SELECT value FROM investbot_kv WHERE key = $1`
	upsertSQL = `
        INSERT INTO investbot_kv (key, value, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at`
	deleteSQL = `DELETE FROM investbot_kv WHERE key = ANY($1)`
)

// Store is a Postgres backed key/value store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, retrying until the database answers, and ensures the table exists.
func Open(ctx context.Context, dsn string, r *retrier.Retrier, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if r == nil {
		r = retrier.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			// malformed dsn
			return nil, retrier.Permanent(errors.Wrap(err, "create postgres pool"))
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			logger.Warn("postgres not ready", zap.Error(err))
			return nil, errors.Wrap(err, "ping postgres")
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return errors.Wrap(err, "create kv table")
	}
	return nil
}

// Get returns the value for key.
func (s *Store) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var value string
	err := s.pool.QueryRow(ctx, selectSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "select %s", key)
	}

	return value, true, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, upsertSQL, key, value); err != nil {
		return errors.Wrapf(err, "upsert %s", key)
	}
	return nil
}

// Delete removes keys in one statement.
func (s *Store) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, deleteSQL, keys); err != nil {
		return errors.Wrap(err, "delete keys")
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
