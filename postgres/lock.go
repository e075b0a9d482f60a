package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gophersatwork/memo"
)

// AdvisoryLocker implements memo.Locker with PostgreSQL session advisory
// locks. Each held lock pins one pool connection until it is released.
//
// Keys are hashed to the 64-bit lock space with xxhash; two keys colliding
// only costs them mutual exclusion with each other.
type AdvisoryLocker struct {
	db         *sql.DB
	RetryDelay time.Duration
}

// NewAdvisoryLocker returns an AdvisoryLocker polling every
// memo.DefaultRetryDelay.
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, RetryDelay: memo.DefaultRetryDelay}
}

// lockID maps a slot key to an advisory lock id.
func lockID(key string) int64 {
	return int64(xxhash.Sum64String(key))
}

// Acquire implements memo.Locker.
func (l *AdvisoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (memo.Lock, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}

	id := lockID(key)
	try := func() (bool, error) {
		var ok bool
		err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&ok)
		return ok, err
	}

	ok, err := try()
	if err == nil && !ok && timeout != 0 {
		ok, err = l.wait(ctx, try, timeout)
	}
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	if !ok {
		conn.Close()
		return nil, &memo.LockTimeoutError{Slot: key, Timeout: timeout}
	}
	return &advisoryLock{conn: conn, id: id}, nil
}

// wait polls try until it succeeds, timeout passes or ctx is done.
// Expiry is reported as (false, nil).
func (l *AdvisoryLocker) wait(ctx context.Context, try func() (bool, error), timeout time.Duration) (bool, error) {
	delay := l.RetryDelay
	if delay <= 0 {
		delay = memo.DefaultRetryDelay
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-expired:
			return false, nil
		case <-ticker.C:
			ok, err := try()
			if err != nil || ok {
				return ok, err
			}
		}
	}
}

type advisoryLock struct {
	once sync.Once
	conn *sql.Conn
	id   int64
	err  error
}

// Release unlocks and hands the pinned connection back to the pool.
func (l *advisoryLock) Release() error {
	l.once.Do(func() {
		_, l.err = l.conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.id)
		if cerr := l.conn.Close(); l.err == nil {
			l.err = cerr
		}
	})
	return l.err
}

var _ memo.Locker = (*AdvisoryLocker)(nil)
