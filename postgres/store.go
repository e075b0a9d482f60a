// Package postgres stores memo slots in a PostgreSQL table and serializes
// access to them with session advisory locks.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gophersatwork/memo"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"
)

// Store is a memo.GroupStore backed by the memo_slots table.
type Store struct {
	db     *sql.DB
	codec  memo.Codec
	clock  clock.Clock
	locker memo.Locker
}

// Open connects to PostgreSQL and upgrades the schema. The connection string
// may be an expanded PostgreSQL string, a "postgres:" URL, or a URL without
// a scheme:
//
//	"host=localhost user=postgres dbname=memo"
//	"postgres://postgres@localhost/memo"
//	"//postgres@localhost/memo"
//
// Parameters missing from the string are filled in from the usual libpq
// environment variables.
func Open(connectionString string, c memo.Codec) (*Store, error) {
	return OpenWithClock(connectionString, c, clock.New())
}

// OpenWithClock is Open with an explicit time source for modified_at.
// It is intended for tests that need a mock clock.
func OpenWithClock(connectionString string, c memo.Codec, clk clock.Clock) (*Store, error) {
	if strings.HasPrefix(connectionString, "//") {
		connectionString = "postgres:" + connectionString
	}

	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	s, err := New(db, c, clk)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema is upgraded before it returns.
func New(db *sql.DB, c memo.Codec, clk clock.Clock) (*Store, error) {
	if c == nil {
		return nil, errors.New("store needs a codec")
	}
	if clk == nil {
		clk = clock.New()
	}
	if err := Upgrade(db); err != nil {
		return nil, fmt.Errorf("failed to upgrade schema: %w", err)
	}
	return &Store{db: db, codec: c, clock: clk, locker: NewAdvisoryLocker(db)}, nil
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Extension implements memo.Store.
func (s *Store) Extension() string {
	return s.codec.Extension()
}

// SlotPath implements memo.Store. It is only a name, used as lock key.
func (s *Store) SlotPath(id memo.ResourceID) string {
	return "memo_slots/" + id.String() + s.codec.Extension()
}

// Locker implements memo.LockerProvider. Prune takes its locks from the same
// Locker.
func (s *Store) Locker() memo.Locker {
	return s.locker
}

// SetLocker replaces the Locker returned by Locker. A Cacher built with
// memo.WithLocker over this store should pass the same Locker here.
func (s *Store) SetLocker(l memo.Locker) {
	s.locker = l
}

// Exists implements memo.Store.
func (s *Store) Exists(ctx context.Context, id memo.ResourceID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM memo_slots WHERE id=$1 AND extension=$2)",
		id.String(), s.Extension()).Scan(&exists)
	return exists, err
}

// Stat implements memo.Store. The table keeps no access time, so AccessTime
// equals ModTime.
func (s *Store) Stat(ctx context.Context, id memo.ResourceID) (memo.SlotInfo, error) {
	var (
		size     int64
		modified time.Time
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT octet_length(payload), modified_at FROM memo_slots WHERE id=$1 AND extension=$2",
		id.String(), s.Extension()).Scan(&size, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return memo.SlotInfo{}, &memo.MissingResourceError{ID: id}
	}
	if err != nil {
		return memo.SlotInfo{}, err
	}
	return memo.SlotInfo{
		Path:       s.SlotPath(id),
		Size:       size,
		ModTime:    modified,
		AccessTime: modified,
	}, nil
}

// Read implements memo.Store.
func (s *Store) Read(ctx context.Context, id memo.ResourceID, dst any) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM memo_slots WHERE id=$1 AND extension=$2",
		id.String(), s.Extension()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return &memo.MissingResourceError{ID: id}
	}
	if err != nil {
		return err
	}
	if err := s.codec.Decode(bytes.NewReader(payload), dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", id, err)
	}
	return nil
}

// Write implements memo.Store. The row is replaced in a single statement,
// so readers see either the old or the new payload.
func (s *Store) Write(ctx context.Context, id memo.ResourceID, v any) error {
	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", id, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memo_slots(id, extension, func_hash, payload, modified_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id, extension) DO UPDATE
		SET payload=EXCLUDED.payload, modified_at=EXCLUDED.modified_at`,
		id.String(), s.Extension(), id.Func, buf.Bytes(), s.clock.Now().UTC())
	return err
}

// Delete implements memo.Store.
func (s *Store) Delete(ctx context.Context, id memo.ResourceID) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM memo_slots WHERE id=$1 AND extension=$2",
		id.String(), s.Extension())
	return err
}

// Group implements memo.GroupStore.
func (s *Store) Group(ctx context.Context, funcHash string) ([]memo.ResourceID, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM memo_slots WHERE func_hash=$1 AND extension=$2 ORDER BY id",
		funcHash, s.Extension())
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// Prune removes rows last written before now minus olderThan. Each row is
// deleted under its slot lock (timeout as for memo.WithLockTimeout), and only
// if it was not rewritten after the candidates were selected. Returns the
// number of rows removed.
func (s *Store) Prune(ctx context.Context, olderThan, lockTimeout time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan).UTC()
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM memo_slots WHERE extension=$1 AND modified_at < $2 ORDER BY id",
		s.Extension(), cutoff)
	if err != nil {
		return 0, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		removed, err := s.pruneRow(ctx, id, cutoff, lockTimeout)
		if err != nil {
			return count, fmt.Errorf("failed to remove entry %s: %w", id, err)
		}
		if removed {
			count++
		}
	}
	return count, nil
}

// pruneRow deletes one row under its lock if it is still older than cutoff.
func (s *Store) pruneRow(ctx context.Context, id memo.ResourceID, cutoff time.Time, lockTimeout time.Duration) (bool, error) {
	lock, err := s.locker.Acquire(ctx, s.SlotPath(id)+".lock", lockTimeout)
	if err != nil {
		return false, err
	}
	defer lock.Release()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memo_slots WHERE id=$1 AND extension=$2 AND modified_at < $3",
		id.String(), s.Extension(), cutoff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanIDs(rows *sql.Rows) ([]memo.ResourceID, error) {
	defer rows.Close()

	var ids []memo.ResourceID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := memo.ParseResourceID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var (
	_ memo.GroupStore     = (*Store)(nil)
	_ memo.LockerProvider = (*Store)(nil)
)
