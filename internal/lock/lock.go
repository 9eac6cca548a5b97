// Package lock provides the per-instance lock table that serializes setup
// checks and collections.
//
// Locks must be shared by every process writing the same store. Local is
// enough for a single process on SQLite; Postgres uses session advisory locks
// on the store database.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/pgokache/internal/apperr"
)

// Locker abstracts over how locks are implemented.
type Locker interface {
	// Acquire waits up to the locker's wait bound for the named lock. The
	// returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

var waitDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "pgokache",
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for instance locks, by outcome.",
	},
	[]string{"backend", "outcome"},
)

// InstanceKey names the lock guarding an instance.
func InstanceKey(instanceID string) string {
	return "pgokache.instance." + instanceID
}

// busy builds the CONFLICT error returned when a wait runs out.
func busy(key string, cause error) error {
	if cause == nil {
		cause = errors.New("lock wait exceeded")
	}
	return apperr.Wrap(cause, apperr.Conflict, "lock.Acquire", "instance busy")
}

func observeWait(backend string, start time.Time, err error) {
	outcome := "acquired"
	if err != nil {
		outcome = "busy"
	}
	waitDuration.WithLabelValues(backend, outcome).Observe(time.Since(start).Seconds())
}
