// internal/eventstore/eventstore.go

// Package eventstore persists the collector movement log. Movements and their
// defect rows are insert only; every read derives state from them.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"collectortrack/internal/circulation"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultMaxTries = 5
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Config selects and tunes the backing database.
type Config struct {
	Driver string
	DSN    string
	// Timeout bounds every store round trip, a whole locked transaction
	// counting as one.
	Timeout time.Duration
	// MaxTries bounds attempts of a locked transaction on transient errors.
	MaxTries uint
}

// EventStore is the movement log backed by Postgres or SQLite.
type EventStore struct {
	db       *sql.DB
	dialect  dialect
	logger   *zap.Logger
	tracer   trace.Tracer
	timeout  time.Duration
	maxTries uint
	now      func() time.Time
}

var _ circulation.Store = (*EventStore)(nil)

// Option customizes an EventStore.
type Option func(*EventStore)

// WithClock replaces the clock used to stamp movements.
func WithClock(now func() time.Time) Option {
	return func(es *EventStore) { es.now = now }
}

// Open connects to the configured database and verifies it is reachable.
// It does not apply migrations; see Migrate.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*EventStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if d.sqlite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if d.sqlite {
		// one connection serializes every writer
		db.SetMaxOpenConns(1)
	}

	es := &EventStore{
		db:       db,
		dialect:  d,
		logger:   logger.Named("eventstore"),
		tracer:   otel.Tracer("collectortrack/eventstore"),
		timeout:  cfg.Timeout,
		maxTries: cfg.MaxTries,
		now:      time.Now,
	}
	if es.timeout <= 0 {
		es.timeout = defaultTimeout
	}
	if es.maxTries == 0 {
		es.maxTries = defaultMaxTries
	}
	for _, opt := range opts {
		opt(es)
	}

	pingCtx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	es.logger.Info("movement store connected", zap.String("driver", cfg.Driver))
	return es, nil
}

// DB exposes the underlying sql.DB for migrations and test fixtures.
func (es *EventStore) DB() *sql.DB { return es.db }

// Ping checks that the database still answers.
func (es *EventStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()
	return es.db.PingContext(ctx)
}

// Close releases the connection pool.
func (es *EventStore) Close() error { return es.db.Close() }

// sqliteDSN adds the pragmas the store relies on unless the caller set them.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "collectortrack.db"
	}
	params := []string{}
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
