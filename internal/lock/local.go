package lock

import (
	"context"
	"sync"
	"time"
)

// Local provides locks backed by process-local primitives.
type Local struct {
	m    sync.Map
	wait time.Duration
}

// barrier is closed when the holder releases.
type barrier chan struct{}

var _ Locker = (*Local)(nil)

// NewLocal returns a Local whose waits are bounded by wait (0 means only the
// context bounds them).
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string) (release func(), err error) {
	start := time.Now()
	defer func() { observeWait("local", start, err) }()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	for {
		v, loaded := l.m.LoadOrStore(key, make(barrier))
		b := v.(barrier)
		if !loaded {
			return l.release(b, key), nil
		}
		select {
		case <-b:
		case <-ctx.Done():
			return nil, busy(key, ctx.Err())
		}
	}
}

func (l *Local) release(b barrier, key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.m.Delete(key)
			close(b)
		})
	}
}
