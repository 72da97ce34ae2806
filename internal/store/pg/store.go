// Package pg implements the jiralink stores on PostgreSQL via database/sql
// and the pgx driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"jiralink.dev/internal/secretbox"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var errNoDB = errors.New("database connection unavailable")

// Store owns the connection pool and hands out the per-domain adapters.
type Store struct {
	db     *sql.DB
	sealer secretbox.Sealer
	now    func() time.Time
}

// Option configures Store.
type Option func(*Store)

// WithSealer seals client secrets and tokens before they reach the database.
func WithSealer(s secretbox.Sealer) Option {
	return func(st *Store) {
		if s != nil {
			st.sealer = s
		}
	}
}

// WithClock overrides the timestamp source for written rows.
func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

// Open connects to dsn with tuned pool defaults.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing pool.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, sealer: secretbox.Plain{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

// stamp returns the write timestamp at the precision Postgres stores.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
