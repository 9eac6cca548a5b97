package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
)

const (
	// pollInterval is how often a waiting Postgres lock retries.
	pollInterval = 100 * time.Millisecond
	// maxLockConns caps the sessions held for locks.
	maxLockConns = 32
)

// Postgres provides locks backed by session advisory locks. Each held lock
// pins one session of a pool of its own, so lock holders never starve the
// store's connections.
type Postgres struct {
	db   *sql.DB
	wait time.Duration
}

var _ Locker = (*Postgres)(nil)

// OpenPostgres connects a Postgres locker to the database at url, normally
// the store database. The caller must Close it.
func OpenPostgres(ctx context.Context, url string, wait time.Duration) (*Postgres, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open lock database: %w", err)
	}
	db.SetMaxOpenConns(maxLockConns)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lock database unreachable: %w", err)
	}
	return &Postgres{db: db, wait: wait}, nil
}

// Close releases the lock sessions.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// keyify folds a lock name into the int64 advisory lock space.
func keyify(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// Acquire implements Locker.
func (p *Postgres) Acquire(ctx context.Context, key string) (release func(), err error) {
	start := time.Now()
	defer func() { observeWait("postgres", start, err) }()

	if p.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.wait)
		defer cancel()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, busy(key, fmt.Errorf("lock connection: %w", err))
	}
	id := keyify(key)

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		var ok bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
			// The lock may have been granted before the error.
			discard(conn)
			return nil, busy(key, fmt.Errorf("try lock: %w", err))
		}
		if ok {
			return p.release(conn, key, id), nil
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			_ = conn.Close()
			return nil, busy(key, ctx.Err())
		}
	}
}

func (p *Postgres) release(conn *sql.Conn, key string, id int64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, id); err != nil {
				slog.Warn("advisory unlock failed, dropping session", "key", key, "error", err)
				discard(conn)
				return
			}
			_ = conn.Close()
		})
	}
}

// discard closes the session behind conn instead of returning it to the
// pool, which ends any advisory lock it still holds.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}
