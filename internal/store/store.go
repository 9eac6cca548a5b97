// Package store persists instances, setup states, snapshots and
// recommendations in SQLite or PostgreSQL.
//
// Queries are built with goqu for the selected dialect; schema migrations are
// embedded per dialect and applied on Open.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx database/sql driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/ppiankov/pgokache/internal/apperr"
)

//go:embed migrations/sqlite.sql
var sqliteSchema string

//go:embed migrations/postgres.sql
var postgresSchema string

var (
	queryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pgokache",
			Subsystem: "store",
			Name:      "queries_total",
			Help:      "Total number of store operations, by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pgokache",
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Duration of store operations.",
		},
		[]string{"op"},
	)
)

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Store is the persistence layer. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	backend string
}

// Open connects to the store at rawURL and applies migrations.
// Accepted forms: sqlite://path/to/file.db, postgres://..., postgresql://...
func Open(ctx context.Context, rawURL string) (*Store, error) {
	backend, driver, dsn, err := parseURL(rawURL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Validation, "store.Open", "invalid store url")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "store.Open", "open store")
	}

	s := &Store{db: db, backend: backend}
	schema := postgresSchema
	switch backend {
	case BackendSQLite:
		// One writer connection serializes transactions.
		db.SetMaxOpenConns(1)
		s.dialect = goqu.Dialect("sqlite3")
		schema = sqliteSchema
	default:
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
		s.dialect = goqu.Dialect("postgres")
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(err, apperr.Internal, "store.Open", "store unreachable")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(err, apperr.Internal, "store.Open", "apply schema")
	}
	slog.Debug("store opened", "backend", backend)
	return s, nil
}

func parseURL(rawURL string) (backend, driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(rawURL, "sqlite://"):
		path := strings.TrimPrefix(rawURL, "sqlite://")
		if path == "" {
			return "", "", "", errors.New("sqlite url has no path")
		}
		u := url.URL{
			Scheme: "file",
			Opaque: path,
			RawQuery: url.Values{
				"_pragma": {
					"foreign_keys(1)",
					"busy_timeout(5000)",
					"journal_mode(WAL)",
				},
			}.Encode(),
		}
		return BackendSQLite, "sqlite", u.String(), nil
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return BackendPostgres, "pgx", rawURL, nil
	}
	return "", "", "", fmt.Errorf("unsupported store url scheme in %q", redactURL(rawURL))
}

// redactURL drops userinfo so store urls can appear in errors.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("***")
	return u.String()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Backend reports "sqlite" or "postgres".
func (s *Store) Backend() string {
	return s.backend
}

// Ping checks store reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// observe records an operation's duration and outcome. Use as
// defer observe("op", time.Now(), &err).
func observe(op string, start time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "error"
	}
	queryCounter.WithLabelValues(op, outcome).Inc()
	queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// storeErr classifies a database/sql failure.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(err, apperr.Internal, "store."+op, "store operation failed")
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func exec(ctx context.Context, q querier, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

func query(ctx context.Context, q querier, b sqlBuilder) (*sql.Rows, error) {
	sqlText, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	return q.QueryContext(ctx, sqlText, args...)
}

func micros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
