package memo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Stats represents store statistics.
type Stats struct {
	Entries     int           // Total number of slots
	Functions   int           // Number of distinct function fingerprints
	TotalSize   int64         // Total size of all slot files in bytes
	OldestEntry time.Duration // Age of the oldest slot
	NewestEntry time.Duration // Age of the newest slot
}

// Entry represents a single slot for iteration.
type Entry struct {
	ID         ResourceID
	Path       string
	ModTime    time.Time
	AccessTime time.Time
	Size       int64
}

// Stats returns statistics about the store. Slots are not locked while
// walking, so the numbers are a snapshot that may race with writers.
func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{}
	var oldest, newest time.Time
	funcs := make(map[string]struct{})

	err := s.walkSlots(ctx, func(e Entry) error {
		stats.Entries++
		stats.TotalSize += e.Size
		funcs[e.ID.Func] = struct{}{}

		// Track oldest and newest
		if oldest.IsZero() || e.ModTime.Before(oldest) {
			oldest = e.ModTime
		}
		if newest.IsZero() || e.ModTime.After(newest) {
			newest = e.ModTime
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	stats.Functions = len(funcs)

	now := s.clock.Now()
	if !oldest.IsZero() {
		stats.OldestEntry = now.Sub(oldest)
	}
	if !newest.IsZero() {
		stats.NewestEntry = now.Sub(newest)
	}

	return stats, nil
}

// Entries returns every slot in the store.
func (s *FileStore) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.walkSlots(ctx, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune removes slots last written longer ago than olderThan, each under its
// lock (timeout as for WithLockTimeout). Locks come from the store's Locker,
// see WithStoreLocker. A slot rewritten after the walk is kept. Returns the
// number of slots removed.
func (s *FileStore) Prune(ctx context.Context, olderThan, lockTimeout time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)

	var toRemove []ResourceID
	err := s.walkSlots(ctx, func(e Entry) error {
		if e.ModTime.Before(cutoff) {
			toRemove = append(toRemove, e.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range toRemove {
		removed, err := s.pruneSlot(ctx, id, cutoff, lockTimeout)
		if err != nil {
			return count, fmt.Errorf("failed to remove entry %s: %w", id, err)
		}
		if removed {
			count++
		}
	}

	return count, nil
}

// pruneSlot re-checks the slot age under its lock before deleting it.
func (s *FileStore) pruneSlot(ctx context.Context, id ResourceID, cutoff time.Time, lockTimeout time.Duration) (bool, error) {
	lock, err := s.locker.Acquire(ctx, s.SlotPath(id)+".lock", lockTimeout)
	if err != nil {
		return false, err
	}
	defer lock.Release()

	info, err := s.Stat(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMissingResource) {
			return false, nil
		}
		return false, err
	}
	if !info.ModTime.Before(cutoff) {
		return false, nil
	}
	return true, s.Delete(ctx, id)
}

// walkSlots calls fn for each slot file under the root.
func (s *FileStore) walkSlots(ctx context.Context, fn func(Entry) error) error {
	return afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Slots live exactly one level below the root
		if info.IsDir() || filepath.Dir(filepath.Dir(path)) != filepath.Clean(s.root) {
			return nil
		}

		args, ok := s.slotArgs(info)
		if !ok {
			return nil
		}

		slot := s.slotInfo(path, info)
		return fn(Entry{
			ID:         ResourceID{Func: filepath.Base(filepath.Dir(path)), Args: args},
			Path:       path,
			ModTime:    slot.ModTime,
			AccessTime: slot.AccessTime,
			Size:       slot.Size,
		})
	})
}
