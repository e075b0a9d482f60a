package memo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/djherbis/times"
	uuid "github.com/satori/go.uuid"
	"github.com/spf13/afero"
)

// DefaultRoot is the storage root used when NewFileStore gets an empty root.
const DefaultRoot = ".cache"

// FileStore keeps one file per slot under a root directory:
//
//	<root>/
//	└── <function fingerprint>/
//	    ├── <argument fingerprint><ext>
//	    └── <argument fingerprint><ext>.lock
type FileStore struct {
	root   string
	codec  Codec
	fs     afero.Fs
	clock  clock.Clock
	locker Locker
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithStoreFs sets the filesystem implementation for the store.
// Non-OS filesystems get an in-process MemLocker by default.
func WithStoreFs(fs afero.Fs) FileStoreOption {
	return func(s *FileStore) {
		s.fs = fs
	}
}

// WithStoreClock sets the time source used for entry ages.
func WithStoreClock(clk clock.Clock) FileStoreOption {
	return func(s *FileStore) {
		s.clock = clk
	}
}

// WithStoreLocker sets the Locker returned by Locker, which Prune also uses.
// A Cacher built with WithLocker over this store should get the same Locker.
func WithStoreLocker(l Locker) FileStoreOption {
	return func(s *FileStore) {
		s.locker = l
	}
}

// NewFileStore opens a store at root.
// When root does not exist it is created hidden: the dot-prefixed name is used
// instead ("cache" becomes ".cache"), and reused on later opens. Root reports
// the directory actually in use.
func NewFileStore(root string, c Codec, options ...FileStoreOption) (*FileStore, error) {
	if c == nil {
		return nil, errors.New("file store needs a codec")
	}
	if root == "" {
		root = DefaultRoot
	}

	store := &FileStore{
		root:  root,
		codec: c,
		fs:    afero.NewOsFs(),
		clock: clock.New(),
	}

	// Apply options
	for _, option := range options {
		option(store)
	}

	resolved, err := store.resolveRoot(root)
	if err != nil {
		return nil, err
	}
	store.root = resolved

	if store.locker == nil && store.isOsFs() {
		store.locker = NewFileLocker()
	} else if store.locker == nil {
		store.locker = NewMemLocker()
	}

	return store, nil
}

// resolveRoot finds or creates the storage root.
func (s *FileStore) resolveRoot(root string) (string, error) {
	exists, err := afero.DirExists(s.fs, root)
	if err != nil {
		return "", fmt.Errorf("failed to check cache root: %w", err)
	}
	if exists {
		return root, nil
	}

	hidden := hiddenPath(root)
	if err := s.fs.MkdirAll(hidden, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache root: %w", err)
	}
	return hidden, nil
}

// hiddenPath prefixes the last path element with a dot.
func hiddenPath(path string) string {
	dir, base := filepath.Split(filepath.Clean(path))
	if strings.HasPrefix(base, ".") {
		return filepath.Join(dir, base)
	}
	return filepath.Join(dir, "."+base)
}

// Root returns the storage root directory in use.
func (s *FileStore) Root() string {
	return s.root
}

// Codec returns the store's codec.
func (s *FileStore) Codec() Codec {
	return s.codec
}

// Fs returns the filesystem the store writes to.
func (s *FileStore) Fs() afero.Fs {
	return s.fs
}

// Extension implements Store.
func (s *FileStore) Extension() string {
	return s.codec.Extension()
}

// Locker implements LockerProvider.
func (s *FileStore) Locker() Locker {
	return s.locker
}

// funcDir returns the directory holding every slot of one function.
func (s *FileStore) funcDir(funcHash string) string {
	return filepath.Join(s.root, funcHash)
}

// SlotPath implements Store.
func (s *FileStore) SlotPath(id ResourceID) string {
	return filepath.Join(s.funcDir(id.Func), id.Args+s.Extension())
}

// Exists implements Store.
func (s *FileStore) Exists(_ context.Context, id ResourceID) (bool, error) {
	exists, err := afero.Exists(s.fs, s.SlotPath(id))
	if err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return exists, nil
}

// Stat implements Store.
func (s *FileStore) Stat(_ context.Context, id ResourceID) (SlotInfo, error) {
	path := s.SlotPath(id)
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SlotInfo{}, &MissingResourceError{ID: id}
		}
		return SlotInfo{}, fmt.Errorf("failed to stat slot: %w", err)
	}
	return s.slotInfo(path, info), nil
}

// slotInfo converts file metadata. Access times are only known on the OS fs.
func (s *FileStore) slotInfo(path string, info os.FileInfo) SlotInfo {
	slot := SlotInfo{
		Path:       path,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		AccessTime: info.ModTime(),
	}
	if s.isOsFs() {
		slot.AccessTime = times.Get(info).AccessTime()
	}
	return slot
}

func (s *FileStore) isOsFs() bool {
	_, ok := s.fs.(*afero.OsFs)
	return ok
}

// Read implements Store.
func (s *FileStore) Read(_ context.Context, id ResourceID, dst any) error {
	f, err := s.fs.Open(s.SlotPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return &MissingResourceError{ID: id}
		}
		return fmt.Errorf("failed to open slot: %w", err)
	}
	defer f.Close()

	if err := s.codec.Decode(f, dst); err != nil {
		return fmt.Errorf("failed to decode slot %s: %w", id, err)
	}
	return nil
}

// Write implements Store. The value is encoded into a temporary file that is
// renamed over the slot once complete. The slot times are stamped from the
// store clock.
func (s *FileStore) Write(_ context.Context, id ResourceID, v any) error {
	dir := s.funcDir(id.Func)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create function directory: %w", err)
	}

	tmp := filepath.Join(dir, "."+id.Args+"."+uuid.NewV4().String()+".tmp")
	if err := s.writeFile(tmp, v); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}

	// Stamped before the rename: a published slot is never left unstamped
	now := s.clock.Now()
	if err := s.fs.Chtimes(tmp, now, now); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to stamp slot: %w", err)
	}

	if err := s.fs.Rename(tmp, s.SlotPath(id)); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to move slot into place: %w", err)
	}
	return nil
}

func (s *FileStore) writeFile(path string, v any) error {
	f, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create slot file: %w", err)
	}

	if err := s.codec.Encode(f, v); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode slot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync slot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close slot: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, id ResourceID) error {
	err := s.fs.Remove(s.SlotPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove slot: %w", err)
	}
	return nil
}

// Group implements GroupStore. A function that was never cached has no slots.
func (s *FileStore) Group(_ context.Context, funcHash string) ([]ResourceID, error) {
	infos, err := afero.ReadDir(s.fs, s.funcDir(funcHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list function directory: %w", err)
	}

	var ids []ResourceID
	for _, info := range infos {
		if args, ok := s.slotArgs(info); ok {
			ids = append(ids, ResourceID{Func: funcHash, Args: args})
		}
	}
	return ids, nil
}

// slotArgs returns the argument fingerprint of a slot file, skipping lock
// files, temporary files and directories.
func (s *FileStore) slotArgs(info os.FileInfo) (string, bool) {
	name := info.Name()
	if info.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, s.Extension()) {
		return "", false
	}
	args := strings.TrimSuffix(name, s.Extension())
	return args, args != ""
}

var (
	_ GroupStore     = (*FileStore)(nil)
	_ LockerProvider = (*FileStore)(nil)
)
