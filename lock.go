package memo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultRetryDelay is how often a blocked FileLocker re-tries the OS lock.
const DefaultRetryDelay = 10 * time.Millisecond

// Lock is a held slot lock.
type Lock interface {
	// Release gives the lock up. It is safe to call more than once.
	Release() error
}

// Locker hands out advisory locks keyed by slot path.
//
// timeout < 0 waits until the lock is free or ctx is done, timeout == 0 tries
// exactly once, timeout > 0 bounds the wait. An expired wait returns a
// *LockTimeoutError. Locks are not re-entrant.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error)
}

// FileLocker takes OS advisory locks on "<key>" files, which makes it safe
// across processes sharing a storage root. Parent directories are created on
// demand and lock files are left in place after release.
type FileLocker struct {
	RetryDelay time.Duration
}

// NewFileLocker returns a FileLocker polling every DefaultRetryDelay.
func NewFileLocker() *FileLocker {
	return &FileLocker{RetryDelay: DefaultRetryDelay}
}

// Acquire implements Locker.
func (l *FileLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(key)
	if timeout == 0 {
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", key, err)
		}
		if !ok {
			return nil, &LockTimeoutError{Slot: key, Timeout: timeout}
		}
		return &fileLock{fl: fl}, nil
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	delay := l.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	ok, err := fl.TryLockContext(waitCtx, delay)
	if ok {
		return &fileLock{fl: fl}, nil
	}
	return nil, waitError(ctx, err, key, timeout)
}

// waitError maps the end of an unsuccessful wait to the error the caller sees.
func waitError(parent context.Context, err error, key string, timeout time.Duration) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return &LockTimeoutError{Slot: key, Timeout: timeout}
	}
	return fmt.Errorf("failed to lock %s: %w", key, err)
}

type fileLock struct {
	once sync.Once
	fl   *flock.Flock
	err  error
}

func (l *fileLock) Release() error {
	l.once.Do(func() {
		l.err = l.fl.Unlock()
	})
	return l.err
}

// MemLocker provides the same contract inside a single process. It backs
// stores on non-OS filesystems such as afero.MemMapFs.
type MemLocker struct {
	mu    sync.Mutex
	slots map[string]*memSlot
}

type memSlot struct {
	ch   chan struct{} // holds one token while locked
	refs int
}

// NewMemLocker returns an empty MemLocker.
func NewMemLocker() *MemLocker {
	return &MemLocker{slots: make(map[string]*memSlot)}
}

// Acquire implements Locker.
func (l *MemLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	slot := l.ref(key)

	select {
	case slot.ch <- struct{}{}:
		return &memLock{locker: l, key: key, slot: slot}, nil
	default:
	}

	if timeout == 0 {
		l.unref(key)
		return nil, &LockTimeoutError{Slot: key, Timeout: timeout}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case slot.ch <- struct{}{}:
		return &memLock{locker: l, key: key, slot: slot}, nil
	case <-expired:
		l.unref(key)
		return nil, &LockTimeoutError{Slot: key, Timeout: timeout}
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

func (l *MemLocker) ref(key string) *memSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		slot = &memSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *MemLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot := l.slots[key]
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

type memLock struct {
	once   sync.Once
	locker *MemLocker
	key    string
	slot   *memSlot
}

func (l *memLock) Release() error {
	l.once.Do(func() {
		<-l.slot.ch
		l.locker.unref(l.key)
	})
	return nil
}
