package memo

import (
	"context"
	"time"
)

// SlotInfo describes a present slot.
type SlotInfo struct {
	Path       string
	Size       int64
	ModTime    time.Time
	AccessTime time.Time // equals ModTime where the medium keeps no access time
}

// Store persists slot values for one storage root and one codec.
//
// Write must have persisted the full value before it returns and a reader
// must never observe a partial artifact. Delete of an absent slot is a no-op.
// Read and Stat of an absent slot return an error matching ErrMissingResource.
type Store interface {
	// Extension identifies the codec and is part of every slot path.
	Extension() string

	// SlotPath is the physical location of the slot, used as its lock key.
	SlotPath(id ResourceID) string

	Exists(ctx context.Context, id ResourceID) (bool, error)
	Stat(ctx context.Context, id ResourceID) (SlotInfo, error)
	Read(ctx context.Context, id ResourceID, dst any) error
	Write(ctx context.Context, id ResourceID, v any) error
	Delete(ctx context.Context, id ResourceID) error
}

// GroupStore is a Store that can enumerate all slots of one function
// fingerprint, which enables Memo.InvalidateAll.
type GroupStore interface {
	Store
	Group(ctx context.Context, funcHash string) ([]ResourceID, error)
}

// LockerProvider is implemented by stores that know which Locker suits
// their medium. New uses it when no WithLocker option is given.
type LockerProvider interface {
	Locker() Locker
}
